// Command service runs the Service tier: the public HTTP API, task
// lifecycle orchestration, and the aggregator.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wopa/internal/platform/config"
	"wopa/internal/platform/eventbus"
	"wopa/internal/platform/logging"
	"wopa/internal/platform/otelinit"
	"wopa/internal/platform/resilience"
	"wopa/internal/service"
	"wopa/internal/taskstore"

	"log/slog"
)

func main() {
	logging.Init("wopa-service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	shutdownTrace := otelinit.InitTracer(ctx, "wopa-service")
	shutdownMetrics, promHandler, _ := otelinit.InitMetrics(ctx, "wopa-service")
	var metricsHandler http.Handler
	if h, ok := promHandler.(http.Handler); ok {
		metricsHandler = h
	}

	cfg, err := config.Load(os.Getenv("WOPA_CONFIG"))
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	store := taskstore.New(config.EnvInt("TASK_STORE_SOFT_CAP", 10000))

	archiveDir := os.Getenv("WOPA_ARCHIVE_DIR")
	if archiveDir == "" {
		archiveDir = os.TempDir() + "/wopa-service-archive"
	}
	var archive *taskstore.Archive
	if a, err := taskstore.OpenArchive(archiveDir, config.EnvInt("TASK_ARCHIVE_SOFT_CAP", 5000)); err != nil {
		slog.Warn("archive open failed, GET /tasks history limited to the in-memory store", "error", err)
	} else {
		archive = a
		defer archive.Close()
	}

	events := eventbus.Connect(os.Getenv("NATS_URL"), "wopa-service")
	defer events.Close()

	client := service.NewBackendClient(150 * time.Second)
	// NewOrchestrator takes the archiver interface; pass a literal nil (not
	// a nil *Archive) when archive failed to open, so the Orchestrator's
	// own nil check sees a true nil interface rather than a non-nil
	// interface wrapping a nil pointer.
	var orchestrator *service.Orchestrator
	if archive != nil {
		orchestrator = service.NewOrchestrator(store, client, cfg.WorkerServerURL, cfg.ProvidersServerURL, events, archive)
	} else {
		orchestrator = service.NewOrchestrator(store, client, cfg.WorkerServerURL, cfg.ProvidersServerURL, events, nil)
	}

	limiter := resilience.NewKeyedLimiter(cfg.RateLimit.Capacity, float64(cfg.RateLimit.FillRate),
		time.Duration(cfg.RateLimit.WindowSecs)*time.Second, cfg.RateLimit.MaxPerWindow)

	handlers := &service.Handlers{Orchestrator: orchestrator, Store: store, Archive: archive}
	mux := service.NewMux(handlers, limiter, metricsHandler)

	addr := ":" + envOr("PORT", "8080")
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		slog.Info("service tier listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("listen failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	ctxSd, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxSd); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
	otelinit.Flush(ctxSd, shutdownTrace)
	if shutdownMetrics != nil {
		_ = shutdownMetrics(ctxSd)
	}
	slog.Info("shutdown complete")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
