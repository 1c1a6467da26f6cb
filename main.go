package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vikabridge/vika-bridge/internal/audit"
	"github.com/vikabridge/vika-bridge/internal/cache"
	"github.com/vikabridge/vika-bridge/internal/config"
	"github.com/vikabridge/vika-bridge/internal/observe"
	"github.com/vikabridge/vika-bridge/internal/ratelimit"
	"github.com/vikabridge/vika-bridge/internal/server"
	"github.com/vikabridge/vika-bridge/internal/service"
)

func configureServerRoutes(svc *service.Service) http.Handler {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	// Request bodies carry record fields and batch operations. The limit is
	// generous for these but not configurable.
	requestLimitBytes := int64(1 << 20) // 1 MiB
	requestLimiter := maxRequestSize(requestLimitBytes)

	apiRouteMiddleware := alice.New(requestLimiter, audit.Middleware())
	standardRouteMiddleware := alice.New(requestLimiter)

	mux.Handle("POST /config", apiRouteMiddleware.Then(handlePostConfig(svc)))
	mux.Handle("GET /config", apiRouteMiddleware.Then(handleGetConfig(svc)))

	mux.Handle("POST /records", apiRouteMiddleware.Then(handleCreateRecords(svc)))
	mux.Handle("PUT /records", apiRouteMiddleware.Then(handleUpdateRecord(svc)))
	mux.Handle("GET /records/{datasheet_id}", apiRouteMiddleware.Then(handleListRecords(svc)))
	mux.Handle("GET /records/{datasheet_id}/{record_id}", apiRouteMiddleware.Then(handleGetRecord(svc)))
	mux.Handle("DELETE /records/{datasheet_id}/{record_id}", apiRouteMiddleware.Then(handleDeleteRecord(svc)))

	mux.Handle("GET /spaces", apiRouteMiddleware.Then(handleListSpaces(svc)))
	mux.Handle("GET /spaces/{space_id}", apiRouteMiddleware.Then(handleGetSpace(svc)))
	mux.Handle("GET /spaces/{space_id}/datasheets", apiRouteMiddleware.Then(handleDatasheetTree(svc)))
	mux.Handle("GET /spaces/{space_id}/configuration", apiRouteMiddleware.Then(handleSpaceConfiguration(svc)))

	mux.Handle("GET /datasheets/{datasheet_id}/views", apiRouteMiddleware.Then(handleViews(svc)))
	mux.Handle("GET /datasheets/{datasheet_id}/fields", apiRouteMiddleware.Then(handleFields(svc)))

	mux.Handle("POST /batch", apiRouteMiddleware.Then(handleBatch(svc)))

	mux.Handle("DELETE /cache", apiRouteMiddleware.Then(handleClearCache(svc)))
	mux.Handle("GET /cache/stats", apiRouteMiddleware.Then(handleCacheStats(svc)))

	// healthchecks are not included in telemetry or auditing
	muxWithoutTelemetry.Handle("GET /health", standardRouteMiddleware.Then(handleHealth(svc)))

	return alice.New(allowAllOrigins).Then(mux)
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	svc, err := configureService(ctx, cfg)
	if err != nil {
		return err
	}

	handler := configureServerRoutes(svc)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	hooks := &server.ShutdownHooks{}
	hooks.Add("cache", func() error {
		stats := svc.CacheStats()
		log.Info().
			Int("entries", stats.TotalSize).
			Uint64("hits", stats.Hits).
			Uint64("misses", stats.Misses).
			Msg("cache: final statistics")
		return nil
	})
	hooks.AddContext("telemetry", shutdownTelemetry)

	err = server.Serve(ctx, srv, time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second, hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// configureService creates the service and, when a credential is supplied at
// startup, the upstream client. Without one, the client is configured later
// via POST /config.
func configureService(ctx context.Context, cfg config.Config) (*service.Service, error) {
	store := cache.NewStore(cfg.Cache.MaxSize, cfg.Cache.Longest())

	svc := service.New(
		cache.NewInstrumented(store),
		ratelimit.New(cfg.Vika.RateLimitQPS),
		service.MaxAgesFrom(cfg.Cache),
		service.VikaClientFactory,
	)

	cc, ok, err := cfg.Vika.Client()
	if err != nil {
		return nil, fmt.Errorf("vika client configuration failed: %w", err)
	}

	if !ok {
		log.Info().Msg("vika client not configured; awaiting POST /config")
		return svc, nil
	}

	if err := svc.Configure(ctx, cc); err != nil {
		return nil, fmt.Errorf("vika client configuration failed: %w", err)
	}

	return svc, nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))
	zerolog.LevelFieldMarshalFunc = audit.MarshalLevel

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
