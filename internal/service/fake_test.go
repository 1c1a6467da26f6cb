package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vikabridge/vika-bridge/internal/cache"
	"github.com/vikabridge/vika-bridge/internal/config"
	"github.com/vikabridge/vika-bridge/internal/ratelimit"
	"github.com/vikabridge/vika-bridge/internal/vika"
)

var errUpstream = errors.New("upstream unavailable")

// fakeUpstream is an in-memory Upstream. Calls are counted by method name and
// any method listed in fail returns errUpstream. Failures keyed by
// "<method>:<id>" only apply to that resource.
type fakeUpstream struct {
	mu      sync.Mutex
	calls   map[string]int
	fail    map[string]bool
	records map[string][]vika.Record
	spaces  []vika.Space
	nodes   map[string][]vika.Node
	folders map[string][]vika.Node
	views   map[string][]vika.View
	fields  map[string][]vika.Field
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		calls:   map[string]int{},
		fail:    map[string]bool{},
		records: map[string][]vika.Record{},
		nodes:   map[string][]vika.Node{},
		folders: map[string][]vika.Node{},
		views:   map[string][]vika.View{},
		fields:  map[string][]vika.Field{},
	}
}

func (f *fakeUpstream) call(method, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[method]++
	if f.fail[method] || f.fail[method+":"+id] {
		return errUpstream
	}
	return nil
}

func (f *fakeUpstream) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[method]
}

func (f *fakeUpstream) ListRecords(_ context.Context, dst string, _ vika.RecordQuery) ([]vika.Record, error) {
	if err := f.call("ListRecords", dst); err != nil {
		return nil, err
	}
	return append([]vika.Record{}, f.records[dst]...), nil
}

func (f *fakeUpstream) GetRecord(_ context.Context, dst, id string) (vika.Record, error) {
	if err := f.call("GetRecord", dst); err != nil {
		return vika.Record{}, err
	}
	for _, r := range f.records[dst] {
		if r.RecordID == id {
			return r, nil
		}
	}
	return vika.Record{}, &vika.APIError{StatusCode: 404, Message: "not found"}
}

func (f *fakeUpstream) CreateRecords(_ context.Context, dst string, fields []map[string]any) ([]vika.Record, error) {
	if err := f.call("CreateRecords", dst); err != nil {
		return nil, err
	}
	created := []vika.Record{}
	for _, fl := range fields {
		r := vika.Record{RecordID: "rec" + dst, Fields: fl}
		f.records[dst] = append(f.records[dst], r)
		created = append(created, r)
	}
	return created, nil
}

func (f *fakeUpstream) UpdateRecords(_ context.Context, dst string, updates []vika.RecordUpdate) ([]vika.Record, error) {
	if err := f.call("UpdateRecords", dst); err != nil {
		return nil, err
	}
	updated := []vika.Record{}
	for _, u := range updates {
		updated = append(updated, vika.Record{RecordID: u.RecordID, Fields: u.Fields})
	}
	return updated, nil
}

func (f *fakeUpstream) DeleteRecords(_ context.Context, dst string, ids []string) (bool, error) {
	if err := f.call("DeleteRecords", dst); err != nil {
		return false, err
	}
	return true, nil
}

func (f *fakeUpstream) ListSpaces(_ context.Context) ([]vika.Space, error) {
	if err := f.call("ListSpaces", ""); err != nil {
		return nil, err
	}
	return f.spaces, nil
}

func (f *fakeUpstream) GetSpace(_ context.Context, spaceID string) (vika.Space, error) {
	if err := f.call("GetSpace", spaceID); err != nil {
		return vika.Space{}, err
	}
	for _, s := range f.spaces {
		if s.ID == spaceID {
			return s, nil
		}
	}
	return vika.Space{}, &vika.APIError{StatusCode: 404, Message: "space not found"}
}

func (f *fakeUpstream) ListNodes(_ context.Context, spaceID string) ([]vika.Node, error) {
	if err := f.call("ListNodes", spaceID); err != nil {
		return nil, err
	}
	return f.nodes[spaceID], nil
}

func (f *fakeUpstream) GetNode(_ context.Context, _ string, nodeID string) (vika.Node, error) {
	if err := f.call("GetNode", nodeID); err != nil {
		return vika.Node{}, err
	}
	return vika.Node{ID: nodeID, Type: vika.NodeTypeFolder, Children: f.folders[nodeID]}, nil
}

func (f *fakeUpstream) ListViews(_ context.Context, dst string) ([]vika.View, error) {
	if err := f.call("ListViews", dst); err != nil {
		return nil, err
	}
	return f.views[dst], nil
}

func (f *fakeUpstream) ListFields(_ context.Context, dst string) ([]vika.Field, error) {
	if err := f.call("ListFields", dst); err != nil {
		return nil, err
	}
	return f.fields[dst], nil
}

var testAges = MaxAges{
	Record:      5 * time.Minute,
	SpaceConfig: 30 * time.Minute,
	Metadata:    time.Hour,
}

// newTestService creates a service configured against a fake upstream. The
// limiter quota is high enough to not interfere unless a test lowers it.
func newTestService(t *testing.T) (*Service, *fakeUpstream) {
	t.Helper()

	upstream := newFakeUpstream()
	svc := newUnconfiguredService(upstream)

	err := svc.Configure(context.Background(), config.ClientConfig{
		Credential:     "usk-test",
		BaseURL:        "https://vika.example.com/fusion/v1",
		RateLimitQuota: 1000,
	})
	require.NoError(t, err)

	return svc, upstream
}

func newUnconfiguredService(upstream Upstream) *Service {
	factory := func(config.ClientConfig) (Upstream, error) {
		return upstream, nil
	}
	return New(cache.NewStore(100, time.Hour), ratelimit.New(config.DefaultRateLimitQuota), testAges, factory)
}
