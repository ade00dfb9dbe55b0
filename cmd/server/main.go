package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/sitebuilder/api"
	"github.com/GoCodeAlone/sitebuilder/config"
	"github.com/GoCodeAlone/sitebuilder/dynamic"
	"github.com/GoCodeAlone/sitebuilder/events"
	"github.com/GoCodeAlone/sitebuilder/extension"
	"github.com/GoCodeAlone/sitebuilder/media"
	"github.com/GoCodeAlone/sitebuilder/metrics"
	"github.com/GoCodeAlone/sitebuilder/observability/tracing"
	"github.com/GoCodeAlone/sitebuilder/plugin"
	"github.com/GoCodeAlone/sitebuilder/plugin/presets"
	"github.com/GoCodeAlone/sitebuilder/store"
	"github.com/GoCodeAlone/sitebuilder/storefront"
)

const shutdownTimeout = 15 * time.Second

var (
	configFile = flag.String("config", "", "Path to server configuration YAML file")
	addr       = flag.String("addr", "", "HTTP listen address (overrides config)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	logger := newLogger(os.Stdout, cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: (&config.Config{Log: cfg}).SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// server holds everything run starts and tears down.
type server struct {
	http     *http.Server
	sessions *extension.Manager
	watcher  *plugin.CatalogWatcher
	closers  []func(context.Context) error
	stop     func()
}

func (s *server) close(ctx context.Context, logger *slog.Logger) {
	s.stop()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			logger.Warn("shutdown step failed", "error", err)
		}
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	srv, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.close(shutdownCtx, logger)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", "addr", srv.http.Addr)
		if err := srv.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		srv.sessions.RunSweeper(gctx, cfg.Sessions.SweepInterval, cfg.Sessions.MaxIdle)
		return nil
	})
	if srv.watcher != nil {
		if err := srv.watcher.Start(); err != nil {
			logger.Warn("catalog watcher disabled", "dir", cfg.Plugins.CatalogDir, "error", err)
		} else {
			g.Go(func() error {
				<-gctx.Done()
				return srv.watcher.Stop()
			})
		}
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.http.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// build wires the stores, plugin runtime, sessions and API from cfg.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *server, err error) {
	srv := &server{stop: func() {}}
	defer func() {
		if err != nil {
			srv.close(context.Background(), logger)
		}
	}()

	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	srv.closers = append(srv.closers, func(context.Context) error { return st.Close() })

	registry := plugin.NewRegistry(st.Users(), st.Plugins(), plugin.WithRegistryLogger(logger))
	catalog, err := presets.Load(cfg.Plugins.CatalogDir)
	if err != nil {
		return nil, fmt.Errorf("load plugin catalog: %w", err)
	}
	seeded, err := registry.SeedOfficial(ctx, catalog)
	if err != nil {
		return nil, fmt.Errorf("seed official plugins: %w", err)
	}
	logger.Info("official plugins seeded", "created", seeded.Created, "updated", seeded.Updated, "unchanged", seeded.Unchanged, "skipped", seeded.Skipped)
	if cfg.Plugins.CatalogDir != "" {
		base, err := presets.Official()
		if err != nil {
			return nil, err
		}
		srv.watcher = plugin.NewCatalogWatcher(registry, cfg.Plugins.CatalogDir, base, plugin.WithWatcherLogger(logger))
	}

	var mc *metrics.Collector
	if cfg.Metrics.Enabled {
		mcfg := metrics.DefaultConfig()
		if cfg.Metrics.Path != "" {
			mcfg.Path = cfg.Metrics.Path
		}
		mc = metrics.NewWithConfig(mcfg)
	}

	if cfg.Tracing.Endpoint != "" {
		tp, err := tracing.NewProvider(ctx, tracing.Config{
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.Tracing.ServiceName,
			Insecure:    cfg.Tracing.Insecure,
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
		srv.closers = append(srv.closers, tp.Shutdown)
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	rtOpts := []dynamic.Option{
		dynamic.WithLimits(dynamic.ResourceLimits{LoadTimeout: cfg.Plugins.LoadTimeout}),
		dynamic.WithLogger(logger),
	}
	if mc != nil {
		rtOpts = append(rtOpts, dynamic.WithObserver(mc.ObservePluginRun))
	}
	runtime := dynamic.NewRuntime(rtOpts...)
	runner := tracing.NewRunner(runtime, otel.Tracer("sitebuilder/plugins"))

	var emitter *events.Emitter
	if cfg.NATS.URL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATS.URL, logger)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		emitter = events.NewEmitter(pub, logger)
		srv.closers = append(srv.closers, func(context.Context) error { return emitter.Close() })
	} else {
		emitter = events.NewEmitter(nil, logger)
	}

	var carts storefront.CartStorage
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		srv.closers = append(srv.closers, func(context.Context) error { return client.Close() })
		carts = storefront.NewRedisStorage(client, cfg.Redis.CartTTL)
		logger.Info("hosted carts stored in redis", "addr", cfg.Redis.Addr)
	}

	var (
		host    media.Host
		uploads http.Handler
	)
	switch cfg.Media.Driver {
	case "s3":
		h, err := media.NewS3Host(ctx, media.S3Config{
			Bucket:    cfg.Media.S3.Bucket,
			Region:    cfg.Media.S3.Region,
			Endpoint:  cfg.Media.S3.Endpoint,
			Prefix:    cfg.Media.S3.Prefix,
			AccessKey: cfg.Media.S3.AccessKey,
			SecretKey: cfg.Media.S3.SecretKey,
			PublicURL: cfg.Media.S3.PublicURL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("media: %w", err)
		}
		host = h
	default:
		h, err := media.NewLocalHost(cfg.Media.Dir, cfg.Media.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("media: %w", err)
		}
		host = h
		uploads = http.FileServer(http.Dir(h.Root()))
	}

	sessions := extension.NewManager(runner, st.Documents(),
		extension.WithSites(st.Sites()),
		extension.WithEmitter(emitter),
		extension.WithLogger(logger),
	)
	srv.sessions = sessions
	if mc != nil {
		mc.RegisterSessions(sessions.Counts)
	}

	proxies, err := cfg.Auth.ProxyPrefixes()
	if err != nil {
		return nil, err
	}
	router, stopRouter := api.NewRouter(api.Services{
		Store:    st,
		Registry: registry,
		Sessions: sessions,
		Media:    host,
		Events:   emitter,
		Metrics:  mc,
		Loads:    runtime.Loads(),
		Carts:    carts,
		Uploads:  uploads,
		Logger:   logger,
	}, api.Config{
		JWTSecret:      cfg.Auth.JWTSecret,
		JWTIssuer:      cfg.Auth.Issuer,
		AccessTTL:      cfg.Auth.AccessTTL,
		RateLimit:      cfg.Auth.RateLimit,
		TrustedProxies: proxies,
	})
	srv.stop = stopRouter

	var handler http.Handler = router
	if mc != nil {
		handler = mc.Middleware(handler)
	}
	handler = tracing.Handler(handler)

	srv.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv, nil
}
