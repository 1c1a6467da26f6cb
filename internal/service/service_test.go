package service

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vikabridge/vika-bridge/internal/config"
	"github.com/vikabridge/vika-bridge/internal/ratelimit"
	"github.com/vikabridge/vika-bridge/internal/vika"
)

func TestService_NotConfigured(t *testing.T) {
	svc := newUnconfiguredService(newFakeUpstream())

	result := svc.ListSpaces(context.Background())

	err, failed := result.Failed()
	require.True(t, failed)
	assert.ErrorIs(t, err, ErrNotConfigured)

	var statuser interface{ Status() (int, string) }
	require.ErrorAs(t, err, &statuser)
	status, message := statuser.Status()
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "vika client not initialized", message)
}

func TestService_Configure(t *testing.T) {
	svc := newUnconfiguredService(newFakeUpstream())
	assert.False(t, svc.Settings().ClientInitialized)

	err := svc.Configure(context.Background(), config.ClientConfig{Credential: "usk", RateLimitQuota: 7})
	require.NoError(t, err)

	assert.Equal(t, Settings{
		APIBase:           config.DefaultAPIBase,
		RateLimitQPS:      7,
		ClientInitialized: true,
	}, svc.Settings())
	assert.Equal(t, 7, svc.limiter.Quota())
	assert.True(t, svc.Health().ConfigLoaded)
}

func TestService_ConfigureRejectsInvalid(t *testing.T) {
	svc := newUnconfiguredService(newFakeUpstream())

	err := svc.Configure(context.Background(), config.ClientConfig{})

	var invalid *InvalidConfigError
	require.ErrorAs(t, err, &invalid)
	status, _ := invalid.Status()
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, svc.Settings().ClientInitialized)
}

func TestService_ConfigureFactoryFailure(t *testing.T) {
	svc := New(nil, ratelimit.New(2), testAges, func(config.ClientConfig) (Upstream, error) {
		return nil, errUpstream
	})

	err := svc.Configure(context.Background(), config.ClientConfig{Credential: "usk"})

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.ErrorIs(t, err, errUpstream)
}

func TestService_ReadIsCached(t *testing.T) {
	svc, upstream := newTestService(t)
	upstream.spaces = []vika.Space{{ID: "spc1", Name: "Team"}}

	first := svc.ListSpaces(context.Background())
	_, failed := first.Failed()
	require.False(t, failed)
	assert.False(t, first.FromCache())

	second := svc.ListSpaces(context.Background())
	_, failed = second.Failed()
	require.False(t, failed)
	assert.True(t, second.FromCache())
	assert.Equal(t, first.Value(), second.Value())

	assert.Equal(t, 1, upstream.Calls("ListSpaces"))
}

func TestService_RecordQueriesCachedSeparately(t *testing.T) {
	svc, upstream := newTestService(t)
	upstream.records["dst1"] = []vika.Record{{RecordID: "rec1"}}

	svc.ListRecords(context.Background(), "dst1", vika.RecordQuery{ViewID: "viw1"})
	svc.ListRecords(context.Background(), "dst1", vika.RecordQuery{ViewID: "viw2"})
	again := svc.ListRecords(context.Background(), "dst1", vika.RecordQuery{ViewID: "viw1"})

	assert.True(t, again.FromCache())
	assert.Equal(t, 2, upstream.Calls("ListRecords"))
}

func TestService_UpstreamFailureNotCached(t *testing.T) {
	svc, upstream := newTestService(t)
	upstream.fail["ListRecords"] = true

	result := svc.ListRecords(context.Background(), "dst1", vika.RecordQuery{})

	err, failed := result.Failed()
	require.True(t, failed)
	assert.EqualError(t, err, "list records failed: upstream unavailable")
	assert.Equal(t, 0, svc.cache.Len())
}

func TestService_RateLimited(t *testing.T) {
	svc, upstream := newTestService(t)
	svc.limiter.SetQuota(1)

	first := svc.ListSpaces(context.Background())
	_, failed := first.Failed()
	require.False(t, failed)

	second := svc.ListSpaces(context.Background())
	err, failed := second.Failed()
	require.True(t, failed)

	var exceeded *ratelimit.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 1, upstream.Calls("ListSpaces"))
}

func TestService_RateLimitAppliesToCachedReads(t *testing.T) {
	svc, upstream := newTestService(t)

	svc.ListSpaces(context.Background())
	svc.limiter.SetQuota(1)

	result := svc.ListSpaces(context.Background())
	_, failed := result.Failed()
	assert.True(t, failed)
	assert.Equal(t, 1, upstream.Calls("ListSpaces"))
}

func TestService_CreateInvalidatesRecordLists(t *testing.T) {
	svc, upstream := newTestService(t)
	ctx := context.Background()

	svc.ListRecords(ctx, "dst1", vika.RecordQuery{})
	svc.ListRecords(ctx, "dst2", vika.RecordQuery{})

	created := svc.CreateRecords(ctx, "dst1", []map[string]any{{"Name": "new"}})
	_, failed := created.Failed()
	require.False(t, failed)
	assert.Len(t, created.Value(), 1)

	afterCreate := svc.ListRecords(ctx, "dst1", vika.RecordQuery{})
	assert.False(t, afterCreate.FromCache())
	assert.Len(t, afterCreate.Value(), 1)

	other := svc.ListRecords(ctx, "dst2", vika.RecordQuery{})
	assert.True(t, other.FromCache())

	assert.Equal(t, 3, upstream.Calls("ListRecords"))
}

func TestService_UpdateAndDeleteInvalidateRecord(t *testing.T) {
	svc, upstream := newTestService(t)
	ctx := context.Background()
	upstream.records["dst1"] = []vika.Record{{RecordID: "rec1"}, {RecordID: "rec2"}}

	svc.GetRecord(ctx, "dst1", "rec1")
	svc.GetRecord(ctx, "dst1", "rec2")
	svc.ListRecords(ctx, "dst1", vika.RecordQuery{})

	updated := svc.UpdateRecord(ctx, "dst1", "rec1", map[string]any{"Name": "changed"})
	_, failed := updated.Failed()
	require.False(t, failed)

	assert.False(t, svc.GetRecord(ctx, "dst1", "rec1").FromCache())
	assert.True(t, svc.GetRecord(ctx, "dst1", "rec2").FromCache())
	assert.False(t, svc.ListRecords(ctx, "dst1", vika.RecordQuery{}).FromCache())

	deleted := svc.DeleteRecord(ctx, "dst1", "rec2")
	_, failed = deleted.Failed()
	require.False(t, failed)
	assert.True(t, deleted.Value())

	assert.False(t, svc.GetRecord(ctx, "dst1", "rec2").FromCache())
}

func TestService_FailedWriteKeepsCache(t *testing.T) {
	svc, upstream := newTestService(t)
	ctx := context.Background()
	upstream.fail["CreateRecords"] = true

	svc.ListRecords(ctx, "dst1", vika.RecordQuery{})

	result := svc.CreateRecords(ctx, "dst1", []map[string]any{{"Name": "new"}})
	err, failed := result.Failed()
	require.True(t, failed)
	assert.EqualError(t, err, "create records failed: upstream unavailable")

	assert.True(t, svc.ListRecords(ctx, "dst1", vika.RecordQuery{}).FromCache())
}

func TestService_ClearCache(t *testing.T) {
	svc, upstream := newTestService(t)
	ctx := context.Background()
	upstream.spaces = []vika.Space{{ID: "spc1"}}

	svc.ListSpaces(ctx)
	svc.ListRecords(ctx, "dst1", vika.RecordQuery{})
	svc.ListRecords(ctx, "dst2", vika.RecordQuery{})

	assert.Equal(t, 1, svc.ClearCache(ctx, "records:dst1"))
	assert.Equal(t, 2, svc.ClearCache(ctx, ""))
	assert.Equal(t, 0, svc.Health().CacheSize)
}

func TestService_CacheStats(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	svc.ListSpaces(ctx)
	svc.ListSpaces(ctx)
	svc.Views(ctx, "dst1")

	stats := svc.CacheStats()

	assert.Equal(t, 2, stats.TotalSize)
	assert.Equal(t, map[string]int{"spaces": 1, "views": 1}, stats.SizeByType)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, map[string]int{ratelimit.DefaultOperation: 3}, stats.RateLimiterStats)
}

func TestService_Health(t *testing.T) {
	svc := newUnconfiguredService(newFakeUpstream())

	health := svc.Health()

	assert.Equal(t, "healthy", health.Status)
	assert.False(t, health.ConfigLoaded)
	assert.Equal(t, 0, health.CacheSize)
	assert.Greater(t, health.Timestamp, float64(0))
}
