package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/rrh1441/agentops-replay/internal/adapter/cached"
	aohttp "github.com/rrh1441/agentops-replay/internal/adapter/http"
	"github.com/rrh1441/agentops-replay/internal/adapter/openai"
	"github.com/rrh1441/agentops-replay/internal/adapter/otel"
	"github.com/rrh1441/agentops-replay/internal/adapter/postgres"
	"github.com/rrh1441/agentops-replay/internal/adapter/tracefile"
	"github.com/rrh1441/agentops-replay/internal/adapter/ws"
	"github.com/rrh1441/agentops-replay/internal/config"
	"github.com/rrh1441/agentops-replay/internal/port/store"
	"github.com/rrh1441/agentops-replay/internal/resilience"
	"github.com/rrh1441/agentops-replay/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and live-monitor server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

// newStore selects and opens the configured persistence backend.
func newStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		slog.Info("postgres connected")
		return postgres.NewStore(pool), pool.Close, nil
	default:
		st, err := tracefile.New(cfg.Storage.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("trace dir: %w", err)
		}
		slog.Info("file store opened", "dir", cfg.Storage.Dir)
		return st, func() {}, nil
	}
}

func runServe(ctx context.Context) error {
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"backend", cfg.Storage.Backend,
		"log_level", cfg.Logging.Level,
	)

	baseStore, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	st, err := cached.New(baseStore, cfg.Cache.MaxSizeMB<<20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer st.Close()

	client := openai.New(cfg.OpenAI)
	client.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	hub := ws.NewHub()

	analyzer := service.NewAnalyzer(st, client, client)
	analyzer.SetBroadcaster(hub)

	replay := service.NewReplayEngine(st, client)
	replay.SetBroadcaster(hub)
	replay.SetPacing(cfg.Replay.Pacing)
	replay.SetCallTimeout(cfg.Replay.CallTimeout)

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	handlers := &aohttp.Handlers{
		Store:           st,
		Analyzer:        analyzer,
		Comparator:      service.NewComparator(analyzer, client),
		Replay:          replay,
		Hub:             hub,
		Metrics:         metrics,
		DefaultModelKey: openai.DefaultModelKey,
	}

	r := chi.NewRouter()
	r.Use(aohttp.CORS(cfg.Server.CORSOrigin))
	r.Use(aohttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))

	aohttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
