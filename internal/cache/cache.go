package cache

import (
	"context"
	"time"
)

// Cache defines the response cache used by the service. Values are held in
// process memory only.
type Cache interface {
	// Get retrieves a value no older than maxAge.
	// Returns the value and whether it was found.
	Get(ctx context.Context, key string, maxAge time.Duration) (any, bool)

	// Set stores a value, replacing any existing entry for the key.
	Set(ctx context.Context, key string, value any)

	// InvalidateMatching removes every entry whose key contains pattern.
	InvalidateMatching(ctx context.Context, pattern string) int

	// Clear removes every entry.
	Clear(ctx context.Context) int

	// Len returns the number of entries held.
	Len() int

	// Stats summarises the cache contents.
	Stats() Stats
}

var (
	_ Cache = (*Store)(nil)
	_ Cache = (*Instrumented)(nil)
)
