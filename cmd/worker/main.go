// Command worker runs the Worker tier: the dispatcher that composes
// checks into steps for each worker_name and calls into the Provider tier.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wopa/internal/platform/config"
	"wopa/internal/platform/logging"
	"wopa/internal/platform/otelinit"
	"wopa/internal/worker"

	"log/slog"
)

func main() {
	logging.Init("wopa-worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	shutdownTrace := otelinit.InitTracer(ctx, "wopa-worker")
	shutdownMetrics, promHandler, _ := otelinit.InitMetrics(ctx, "wopa-worker")
	var metricsHandler http.Handler
	if h, ok := promHandler.(http.Handler); ok {
		metricsHandler = h
	}

	cfg, err := config.Load(os.Getenv("WOPA_CONFIG"))
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	dispatcher := worker.NewDispatcher(cfg.ProvidersServerURL)
	mux := worker.NewMux(dispatcher, metricsHandler)

	addr := ":" + envOr("PORT", "8081")
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		slog.Info("worker tier listening", "addr", addr)
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
