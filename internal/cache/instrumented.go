package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce     sync.Once
	cacheOperations metric.Int64Counter
	cacheRemovals   metric.Int64Counter
	cacheDuration   metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/vikabridge/vika-bridge/internal/cache")

		var err error
		cacheOperations, err = meter.Int64Counter(
			"cache.operations",
			metric.WithDescription("Total cache operations"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheRemovals, err = meter.Int64Counter(
			"cache.removals",
			metric.WithDescription("Entries removed by invalidation or clearing"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheDuration, err = meter.Float64Histogram(
			"cache.operation.duration",
			metric.WithDescription("Cache operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented wraps a Cache with metrics instrumentation.
type Instrumented struct {
	wrapped Cache
}

// NewInstrumented creates an instrumented cache wrapper.
func NewInstrumented(cache Cache) *Instrumented {
	initMetrics()
	return &Instrumented{
		wrapped: cache,
	}
}

// Get retrieves a fresh value from the cache.
func (i *Instrumented) Get(ctx context.Context, key string, maxAge time.Duration) (any, bool) {
	start := time.Now()

	value, found := i.wrapped.Get(ctx, key, maxAge)

	duration := time.Since(start)
	i.recordDuration(ctx, "get", duration)

	status := "miss"
	if found {
		status = "hit"
	}
	i.recordOperation(ctx, "get", status)
	i.setSpanAttributes(ctx, "get", status, duration)

	return value, found
}

// Set stores a value in the cache.
func (i *Instrumented) Set(ctx context.Context, key string, value any) {
	start := time.Now()

	i.wrapped.Set(ctx, key, value)

	duration := time.Since(start)
	i.recordDuration(ctx, "set", duration)
	i.recordOperation(ctx, "set", "success")
	i.setSpanAttributes(ctx, "set", "success", duration)
}

// InvalidateMatching removes entries whose key contains pattern.
func (i *Instrumented) InvalidateMatching(ctx context.Context, pattern string) int {
	start := time.Now()

	count := i.wrapped.InvalidateMatching(ctx, pattern)

	duration := time.Since(start)
	i.recordDuration(ctx, "invalidate", duration)
	i.recordOperation(ctx, "invalidate", "success")
	i.recordRemovals(ctx, "invalidate", count)
	i.setSpanAttributes(ctx, "invalidate", "success", duration)

	return count
}

// Clear removes every entry.
func (i *Instrumented) Clear(ctx context.Context) int {
	start := time.Now()

	count := i.wrapped.Clear(ctx)

	duration := time.Since(start)
	i.recordDuration(ctx, "clear", duration)
	i.recordOperation(ctx, "clear", "success")
	i.recordRemovals(ctx, "clear", count)
	i.setSpanAttributes(ctx, "clear", "success", duration)

	return count
}

func (i *Instrumented) Len() int {
	return i.wrapped.Len()
}

func (i *Instrumented) Stats() Stats {
	return i.wrapped.Stats()
}

func (i *Instrumented) recordOperation(ctx context.Context, operation, status string) {
	if cacheOperations == nil {
		return
	}
	cacheOperations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("cache.operation", operation),
			attribute.String("cache.status", status),
		),
	)
}

func (i *Instrumented) recordRemovals(ctx context.Context, operation string, count int) {
	if cacheRemovals == nil {
		return
	}
	cacheRemovals.Add(ctx, int64(count),
		metric.WithAttributes(
			attribute.String("cache.operation", operation),
		),
	)
}

func (i *Instrumented) recordDuration(ctx context.Context, operation string, duration time.Duration) {
	if cacheDuration == nil {
		return
	}
	cacheDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("cache.operation", operation),
		),
	)
}

func (i *Instrumented) setSpanAttributes(ctx context.Context, operation, status string, duration time.Duration) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("cache."+operation+".status", status),
		attribute.Float64("cache."+operation+".duration", duration.Seconds()),
	)
}
