// Command lingolive is the main entry point for the LingoLive translation
// session server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/lingolive/lingolive/internal/auth"
	"github.com/lingolive/lingolive/internal/config"
	"github.com/lingolive/lingolive/internal/engine"
	enginemock "github.com/lingolive/lingolive/internal/engine/mock"
	"github.com/lingolive/lingolive/internal/engine/soniox"
	"github.com/lingolive/lingolive/internal/health"
	"github.com/lingolive/lingolive/internal/httpapi"
	"github.com/lingolive/lingolive/internal/observe"
	"github.com/lingolive/lingolive/internal/realtime"
	"github.com/lingolive/lingolive/internal/resilience"
	"github.com/lingolive/lingolive/internal/session"
	"github.com/lingolive/lingolive/internal/store"
	"github.com/lingolive/lingolive/internal/store/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lingolive: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lingolive: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("lingolive starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownObserve, err := observe.Setup(observe.TelemetryConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	var checkers []health.Checker

	// ── Store ─────────────────────────────────────────────────────────────────
	var st store.Store
	if dsn := cfg.Database.PostgresDSN; dsn != "" {
		pg, err := postgres.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pg.Close()
		st = pg
		checkers = append(checkers, health.Database(pg))
		slog.Info("using postgres store")
	} else {
		st = store.NewMemStore()
		slog.Warn("no database configured, transcripts are lost on restart")
	}

	// ── Real-time fan-out ─────────────────────────────────────────────────────
	var broker realtime.Broker
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		broker = realtime.NewRedisBroker(client)
		checkers = append(checkers, health.Redis(client))
		slog.Info("using redis broker", "addr", cfg.Redis.Addr)
	} else {
		broker = realtime.NewMemoryBroker()
		slog.Warn("no redis configured, events stay on this instance")
	}
	hub := realtime.NewHub(broker)

	// ── Engine ────────────────────────────────────────────────────────────────
	eng, keys, err := buildEngine(cfg)
	if err != nil {
		slog.Error("failed to build engine", "err", err)
		return 1
	}
	guarded := resilience.Guard(eng, resilience.Settings{
		Name:      "engine",
		Threshold: cfg.Engine.Breaker.Threshold,
		Cooldown:  cfg.Engine.Breaker.Cooldown,
	})
	checkers = append(checkers, health.EngineBreaker(guarded.Breaker()))

	// ── Auth ──────────────────────────────────────────────────────────────────
	var authOpts []auth.Option
	if cfg.Auth.TokenTTL > 0 {
		authOpts = append(authOpts, auth.WithTTL(cfg.Auth.TokenTTL))
	}
	issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret, authOpts...)
	if err != nil {
		slog.Error("failed to build token issuer", "err", err)
		return 1
	}

	// ── HTTP surface ──────────────────────────────────────────────────────────
	manager := session.NewManager(st, hub, guarded, metrics, logger)
	api := httpapi.NewAPI(manager, st, hub, issuer, keys, metrics, logger)
	router := httpapi.NewRouter(api, health.New(checkers...))

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			slog.Info("listening with TLS", "addr", cfg.Server.ListenAddr)
			err = server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("listening", "addr", cfg.Server.ListenAddr)
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()

		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownObserve(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}

	slog.Info("goodbye")
	return 0
}

// buildEngine constructs the configured speech engine. The second return
// value mints temporary client keys; nil when the engine has none.
func buildEngine(cfg *config.Config) (engine.Engine, httpapi.KeyMinter, error) {
	switch cfg.Engine.Provider {
	case config.EngineSoniox:
		var opts []soniox.Option
		if cfg.Engine.Model != "" {
			opts = append(opts, soniox.WithModel(cfg.Engine.Model))
		}
		if cfg.Engine.Endpoint != "" {
			opts = append(opts, soniox.WithEndpoint(cfg.Engine.Endpoint))
		}
		if cfg.Engine.APIHost != "" {
			opts = append(opts, soniox.WithAPIHost(cfg.Engine.APIHost))
		}
		p, err := soniox.New(cfg.Engine.APIKey, opts...)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil

	case config.EngineMock:
		slog.Warn("using mock engine, no real transcription happens")
		return &enginemock.Engine{}, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown engine provider %q", cfg.Engine.Provider)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
