// Command conveyord runs a Conveyor scheduler with the administrative
// HTTP API. It registers a couple of demonstration job types; embedders
// build their own binary around scheduler.New and register real
// handlers there.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/api"
	"github.com/conveyorhq/conveyor/cron"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/observability"
	"github.com/conveyorhq/conveyor/persist"
	persistpg "github.com/conveyorhq/conveyor/persist/postgres"
	persistredis "github.com/conveyorhq/conveyor/persist/redis"
	"github.com/conveyorhq/conveyor/scheduler"
)

func main() {
	if err := run(); err != nil {
		slog.Error("conveyord exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapter, cleanup, err := newAdapter(ctx, cfg.Persist, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	registry := job.NewRegistry()
	registerDemoJobs(registry, logger)

	schedCfg := conveyor.DefaultConfig()
	schedCfg.QueueCapacity = cfg.Scheduler.QueueCapacity
	schedCfg.Concurrency = cfg.Scheduler.Concurrency
	schedCfg.HistorySize = cfg.Scheduler.HistorySize
	schedCfg.ShutdownTimeout = cfg.Scheduler.ShutdownTimeout

	sched := scheduler.New(schedCfg, registry,
		scheduler.WithLogger(logger),
		scheduler.WithAdapter(adapter),
		scheduler.WithExtension(observability.NewMetricsExtension()),
	)
	if err := sched.Start(ctx); err != nil {
		return err
	}

	crons := cron.NewScheduler(sched.Enqueue, nil, cron.WithLogger(logger))
	if err := crons.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.New(sched, api.WithCron(crons), api.WithLogger(logger)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("admin server listening", slog.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", slog.String("error", err.Error()))
		}
		if err := crons.Stop(shutdownCtx); err != nil {
			logger.Warn("cron shutdown", slog.String("error", err.Error()))
		}
		return sched.Stop(shutdownCtx)
	})
	return g.Wait()
}

func newLogger(cfg LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func newAdapter(ctx context.Context, cfg PersistConfig, logger *slog.Logger) (persist.Adapter, func(), error) {
	switch cfg.Backend {
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a := persistredis.New(client,
			persistredis.WithLogger(logger),
			persistredis.WithCodec(persist.GetCodec(cfg.Codec)),
		)
		if err := a.Ping(ctx); err != nil {
			return nil, nil, err
		}
		return a, func() { _ = client.Close() }, nil
	case "postgres":
		a, err := persistpg.New(ctx, cfg.PostgresURL, persistpg.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return a, a.Close, nil
	default:
		return persist.NewNoop(), func() {}, nil
	}
}

// registerDemoJobs wires a few example job types so the daemon does
// something useful out of the box.
func registerDemoJobs(registry *job.Registry, logger *slog.Logger) {
	registry.Register("echo", func(ctx context.Context, payload []byte) error {
		logger.Info("echo job", slog.String("payload", string(payload)))
		return nil
	}, job.Options{MaxRetries: 1})

	registry.Register("sleep", func(ctx context.Context, payload []byte) error {
		var req struct {
			Millis int64 `json:"millis"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return err
		}
		select {
		case <-time.After(time.Duration(req.Millis) * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, job.Options{MaxRetries: 2, Timeout: time.Minute})
}
