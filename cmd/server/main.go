package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitchparty/realtime-server/internal/config"
	"github.com/pitchparty/realtime-server/internal/httpapi"
	"github.com/pitchparty/realtime-server/internal/metrics"
	"github.com/pitchparty/realtime-server/internal/registry"
	"github.com/pitchparty/realtime-server/internal/store"
	"github.com/pitchparty/realtime-server/internal/ws"
)

const shutdownBudget = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	counters := metrics.NewCounters()

	var persister store.Persister = store.Nop{}
	if cfg.DatabaseURL != "" {
		db, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("open database", zap.Error(err))
		}
		persister = db
	} else {
		logger.Warn("no DATABASE_URL configured, snapshots will not be persisted")
	}

	scheduler := store.NewScheduler(persister, cfg.SnapshotDebounce, logger, counters)
	// The registry outlives the signal context: it is shut down explicitly
	// after the final snapshot flush below.
	reg := registry.New(context.Background(), logger, counters)
	router := ws.NewRouter(reg, scheduler, cfg.SharedSecret,
		cfg.HeartbeatInterval, cfg.HeartbeatTimeout, logger, counters)
	api := httpapi.NewServer(reg, scheduler, cfg.BroadcastSecret, cfg.Port, logger, counters)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: api.Routes(ws.Handler(router, cfg.AllowedOrigins)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		counters.RunFlusher(gctx, logger, cfg.MetricsFlushInterval)
		return nil
	})

	err = g.Wait()

	// Flush pending snapshot writes so the last mutation before exit is not
	// lost, then stop the room actors.
	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	scheduler.Shutdown(flushCtx)
	cancel()
	done := make(chan struct{})
	reg.Inbox() <- registry.ShutdownRegistry{Done: done}
	<-done

	if err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}
