package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Cache   CacheConfig
	Observe ObserveConfig
	Server  ServerConfig
	Vika    VikaConfig
}

type ServerConfig struct {
	Host                   string `env:"SERVER_HOST"`
	Port                   int    `env:"SERVER_PORT"`
	ServiceHost            string `env:"VIKA_SERVICE_HOST, default=127.0.0.1"`
	ServicePort            int    `env:"VIKA_SERVICE_PORT, default=5001"`
	ShutdownTimeoutSeconds int    `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// Addr is the listen address for the HTTP server. SERVER_HOST and
// SERVER_PORT take precedence over the VIKA_SERVICE_* names.
func (c ServerConfig) Addr() string {
	host := c.Host
	if host == "" {
		host = c.ServiceHost
	}
	port := c.Port
	if port == 0 {
		port = c.ServicePort
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// CacheConfig specifies the response cache limits and the maximum age
// permitted for each class of cached response.
type CacheConfig struct {
	// MaxSize bounds the number of cached responses.
	MaxSize int `env:"CACHE_MAX_SIZE, default=10000"`

	// RecordMaxAge applies to record lists and single records.
	RecordMaxAge time.Duration `env:"CACHE_RECORD_MAX_AGE, default=5m"`

	// SpaceConfigMaxAge applies to the aggregated space configuration.
	SpaceConfigMaxAge time.Duration `env:"CACHE_SPACE_CONFIG_MAX_AGE, default=30m"`

	// MetadataMaxAge applies to spaces, node trees, views and fields.
	MetadataMaxAge time.Duration `env:"CACHE_METADATA_MAX_AGE, default=1h"`
}

// Longest returns the greatest of the configured maximum ages. Entries older
// than this can never be served, so the store may drop them.
func (c CacheConfig) Longest() time.Duration {
	return max(c.RecordMaxAge, c.SpaceConfigMaxAge, c.MetadataMaxAge)
}

// Validate checks that the cache configuration is usable.
func (c CacheConfig) Validate() error {
	if c.MaxSize <= 0 {
		return errors.New("CACHE_MAX_SIZE must be positive")
	}
	if c.RecordMaxAge <= 0 || c.SpaceConfigMaxAge <= 0 || c.MetadataMaxAge <= 0 {
		return errors.New("cache max ages must be positive")
	}
	return nil
}

// VikaConfig holds the optional startup configuration of the upstream
// client. When neither a token nor a config file is supplied, the client is
// configured later through the HTTP API.
type VikaConfig struct {
	UserToken    string `env:"VIKA_USER_TOKEN"`
	APIBase      string `env:"VIKA_API_BASE, default=https://api.vika.cn/fusion/v1"`
	RateLimitQPS int    `env:"VIKA_RATE_LIMIT_QPS, default=2"`
	ConfigFile   string `env:"VIKA_CONFIG_FILE"`
}

// Client resolves the startup client configuration. The config file, when
// present, takes precedence over the environment. The boolean result is false
// when no credential is available.
func (c VikaConfig) Client() (ClientConfig, bool, error) {
	cc := ClientConfig{
		Credential:     c.UserToken,
		BaseURL:        c.APIBase,
		RateLimitQuota: c.RateLimitQPS,
	}

	if c.ConfigFile != "" {
		fromFile, err := LoadClientFile(c.ConfigFile)
		if err != nil {
			return ClientConfig{}, false, err
		}
		cc = fromFile
	}

	if cc.Credential == "" {
		return ClientConfig{}, false, nil
	}

	cc = cc.WithDefaults()
	if err := cc.Validate(); err != nil {
		return ClientConfig{}, false, err
	}

	return cc, true, nil
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=vika-bridge"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Cache.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	if cfg.Vika.RateLimitQPS < 1 {
		return cfg, fmt.Errorf("VIKA_RATE_LIMIT_QPS must be at least 1, got %d", cfg.Vika.RateLimitQPS)
	}

	return cfg, nil
}
