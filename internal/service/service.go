// Package service implements the bridge operations: each admits the request
// through the rate limiter, consults the response cache for reads, calls the
// Vika API and invalidates affected cache entries after writes.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vikabridge/vika-bridge/internal/cache"
	"github.com/vikabridge/vika-bridge/internal/config"
	"github.com/vikabridge/vika-bridge/internal/ratelimit"
	"github.com/vikabridge/vika-bridge/internal/vika"
)

// Upstream is the subset of the Vika API used by the service.
type Upstream interface {
	ListRecords(ctx context.Context, datasheetID string, q vika.RecordQuery) ([]vika.Record, error)
	GetRecord(ctx context.Context, datasheetID, recordID string) (vika.Record, error)
	CreateRecords(ctx context.Context, datasheetID string, fields []map[string]any) ([]vika.Record, error)
	UpdateRecords(ctx context.Context, datasheetID string, updates []vika.RecordUpdate) ([]vika.Record, error)
	DeleteRecords(ctx context.Context, datasheetID string, recordIDs []string) (bool, error)

	ListSpaces(ctx context.Context) ([]vika.Space, error)
	GetSpace(ctx context.Context, spaceID string) (vika.Space, error)
	ListNodes(ctx context.Context, spaceID string) ([]vika.Node, error)
	GetNode(ctx context.Context, spaceID, nodeID string) (vika.Node, error)

	ListViews(ctx context.Context, datasheetID string) ([]vika.View, error)
	ListFields(ctx context.Context, datasheetID string) ([]vika.Field, error)
}

// ClientFactory creates the upstream client for a configuration.
type ClientFactory func(config.ClientConfig) (Upstream, error)

// VikaClientFactory creates clients for the real Vika API.
func VikaClientFactory(cc config.ClientConfig) (Upstream, error) {
	return vika.New(cc)
}

// MaxAges is the oldest cached response accepted for each class of read.
type MaxAges struct {
	Record      time.Duration
	SpaceConfig time.Duration
	Metadata    time.Duration
}

func MaxAgesFrom(cfg config.CacheConfig) MaxAges {
	return MaxAges{
		Record:      cfg.RecordMaxAge,
		SpaceConfig: cfg.SpaceConfigMaxAge,
		Metadata:    cfg.MetadataMaxAge,
	}
}

type Service struct {
	cache   cache.Cache
	limiter *ratelimit.Limiter
	ages    MaxAges
	factory ClientFactory
	now     func() time.Time

	mu       sync.RWMutex
	settings config.ClientConfig
	client   Upstream
}

func New(c cache.Cache, limiter *ratelimit.Limiter, ages MaxAges, factory ClientFactory) *Service {
	return &Service{
		cache:   c,
		limiter: limiter,
		ages:    ages,
		factory: factory,
		now:     time.Now,
	}
}

// Configure validates the client configuration and replaces the upstream
// client. The limiter quota follows the configuration.
func (s *Service) Configure(ctx context.Context, cc config.ClientConfig) error {
	cc = cc.WithDefaults()
	if err := cc.Validate(); err != nil {
		return &InvalidConfigError{Err: err}
	}

	client, err := s.factory(cc)
	if err != nil {
		return &UpstreamError{Op: "configure client", Err: err}
	}

	s.mu.Lock()
	s.settings = cc
	s.client = client
	s.mu.Unlock()

	s.limiter.SetQuota(cc.RateLimitQuota)

	log.Ctx(ctx).Info().
		Str("api_base", cc.BaseURL).
		Int("rate_limit_qps", cc.RateLimitQuota).
		Msg("vika client configured")

	return nil
}

// Settings describes the active client configuration. The credential is
// never included.
type Settings struct {
	APIBase           string `json:"api_base,omitempty"`
	RateLimitQPS      int    `json:"rate_limit_qps,omitempty"`
	ClientInitialized bool   `json:"client_initialized"`
}

func (s *Service) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Settings{
		APIBase:           s.settings.BaseURL,
		RateLimitQPS:      s.settings.RateLimitQuota,
		ClientInitialized: s.client != nil,
	}
}

type Health struct {
	Status       string  `json:"status"`
	Timestamp    float64 `json:"timestamp"`
	CacheSize    int     `json:"cache_size"`
	ConfigLoaded bool    `json:"config_loaded"`
}

func (s *Service) Health() Health {
	return Health{
		Status:       "healthy",
		Timestamp:    float64(s.now().UnixMilli()) / 1000,
		CacheSize:    s.cache.Len(),
		ConfigLoaded: s.Settings().ClientInitialized,
	}
}

// begin admits a request and returns the current upstream client.
func (s *Service) begin() (Upstream, error) {
	if err := s.limiter.Allow(ratelimit.DefaultOperation); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.client == nil {
		return nil, ErrNotConfigured
	}
	return s.client, nil
}

// read serves a cached response no older than maxAge, or fetches and caches
// a fresh one.
func read[T any](ctx context.Context, s *Service, key cache.Key, maxAge time.Duration, op string, fetch func(context.Context, Upstream) (T, error)) Result[T] {
	client, err := s.begin()
	if err != nil {
		return failure[T](err)
	}

	k := key.String()
	if cached, ok := s.cache.Get(ctx, k, maxAge); ok {
		if value, ok := cached.(T); ok {
			return success(value, true)
		}
		log.Ctx(ctx).Warn().Str("key", k).Msg("cache: unexpected value type, refetching")
	}

	value, err := fetch(ctx, client)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("operation", op).Msg("upstream call failed")
		return failure[T](&UpstreamError{Op: op, Err: err})
	}

	s.cache.Set(ctx, k, value)

	return success(value, false)
}

// write performs an upstream change and then removes every cache entry
// matching the given patterns.
func write[T any](ctx context.Context, s *Service, op string, invalidate []string, call func(context.Context, Upstream) (T, error)) Result[T] {
	client, err := s.begin()
	if err != nil {
		return failure[T](err)
	}

	value, err := call(ctx, client)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("operation", op).Msg("upstream call failed")
		return failure[T](&UpstreamError{Op: op, Err: err})
	}

	for _, pattern := range invalidate {
		s.cache.InvalidateMatching(ctx, pattern)
	}

	return success(value, false)
}

// ClearCache removes entries whose key contains pattern, or every entry when
// pattern is empty.
func (s *Service) ClearCache(ctx context.Context, pattern string) int {
	if pattern == "" {
		return s.cache.Clear(ctx)
	}
	return s.cache.InvalidateMatching(ctx, pattern)
}

type CacheStats struct {
	cache.Stats
	RateLimiterStats map[string]int `json:"rate_limiter_stats"`
}

func (s *Service) CacheStats() CacheStats {
	return CacheStats{
		Stats:            s.cache.Stats(),
		RateLimiterStats: s.limiter.Stats(),
	}
}
