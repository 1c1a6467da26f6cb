package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
	"github.com/rs/zerolog/log"
)

// entry is a cached response and the time it was stored.
type entry struct {
	value    any
	storedAt time.Time
}

// Store is the process-wide response cache. Freshness is decided by the
// reader: each Get supplies the maximum age it will accept, and entries older
// than that are removed as they are read.
//
// The underlying otter cache bounds the number of entries and drops anything
// older than the longest age any reader can accept. Hits and misses are
// counted from the store's own outcome, so an entry removed as expired on
// read is a miss.
type Store struct {
	mu      sync.Mutex
	cache   *otter.Cache[string, entry]
	counter *stats.Counter
	now     func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces the clock used to stamp and age entries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a store holding at most maxSize entries. Entries are
// discarded once they are older than retention, regardless of the age
// requested by readers.
func NewStore(maxSize int, retention time.Duration, opts ...Option) *Store {
	counter := stats.NewCounter()

	s := &Store{
		cache: otter.Must(&otter.Options[string, entry]{
			MaximumSize:      maxSize,
			ExpiryCalculator: otter.ExpiryWriting[string, entry](retention),
		}),
		counter: counter,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Get returns the value stored under key if it is younger than maxAge. An
// expired entry is deleted and reported as absent.
func (s *Store) Get(ctx context.Context, key string, maxAge time.Duration) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.cache.GetIfPresent(key)
	if !ok {
		s.counter.RecordMisses(1)
		return nil, false
	}

	if s.now().Sub(e.storedAt) >= maxAge {
		s.cache.Invalidate(key)
		s.counter.RecordMisses(1)
		log.Ctx(ctx).Debug().Str("key", key).Msg("cache: expired entry removed")
		return nil, false
	}

	s.counter.RecordHits(1)
	return e.value, true
}

// Set stores value under key, replacing any existing entry.
func (s *Store) Set(ctx context.Context, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Set(key, entry{value: value, storedAt: s.now()})
}

// InvalidateMatching removes every entry whose key contains pattern, returning
// the number removed.
func (s *Store) InvalidateMatching(ctx context.Context, pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []string
	for key := range s.cache.Keys() {
		if strings.Contains(key, pattern) {
			matched = append(matched, key)
		}
	}

	for _, key := range matched {
		s.cache.Invalidate(key)
	}

	log.Ctx(ctx).Info().
		Str("pattern", pattern).
		Int("count", len(matched)).
		Msg("cache: invalidated matching entries")

	return len(matched)
}

// Clear removes all entries, returning the number removed.
func (s *Store) Clear(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.len()
	s.cache.InvalidateAll()

	log.Ctx(ctx).Info().Int("count", count).Msg("cache: cleared")

	return count
}

// Len returns the number of entries currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.len()
}

func (s *Store) len() int {
	count := 0
	for range s.cache.Keys() {
		count++
	}
	return count
}

// Stats summarises the cache contents.
type Stats struct {
	TotalSize  int            `json:"total_size"`
	SizeByType map[string]int `json:"size_by_type"`
	Hits       uint64         `json:"hits"`
	Misses     uint64         `json:"misses"`
}

// Stats counts the cached entries by key type (the operation prefix of the
// key) and reports lookup totals since the store was created.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{SizeByType: map[string]int{}}
	for key := range s.cache.Keys() {
		st.TotalSize++
		kind, _, _ := strings.Cut(key, separator)
		st.SizeByType[kind]++
	}

	snapshot := s.counter.Snapshot()
	st.Hits = snapshot.Hits
	st.Misses = snapshot.Misses

	return st
}
