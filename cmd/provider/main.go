// Command provider runs the Provider tier: instance pools for the LLM,
// sandbox, and emulator backends, health probing, and HTTP routing with
// least-loaded-healthy selection and one retry on failure.
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
	"wopa/internal/provider"

	"log/slog"
)

func main() {
	logging.Init("wopa-provider")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTrace := otelinit.InitTracer(ctx, "wopa-provider")
	shutdownMetrics, promHandler, _ := otelinit.InitMetrics(ctx, "wopa-provider")
	var metricsHandler http.Handler
	if h, ok := promHandler.(http.Handler); ok {
		metricsHandler = h
	}

	cfg, err := config.Load(os.Getenv("WOPA_CONFIG"))
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	registry, err := provider.NewRegistry(cfg, cfg.RegistryPath)
	if err != nil {
		slog.Error("registry init failed", "error", err)
		os.Exit(1)
	}

	prober := provider.NewProber(registry)
	if err := prober.Start(cfg); err != nil {
		slog.Error("health prober start failed", "error", err)
		os.Exit(1)
	}

	// SIGHUP reloads the dynamic registry file without restarting the
	// process, per the configuration's documented reload trigger. It is
	// handled separately from the shutdown signals above so it never
	// cancels ctx.
	reload := make(chan struct{}, 1)
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			slog.Info("SIGHUP received, reloading provider registry")
			select {
			case reload <- struct{}{}:
			default:
			}
		}
	}()

	watchStop := make(chan struct{})
	go registry.Watch(reload, watchStop)

	handlers := provider.NewHandlers(registry, cfg)
	mux := provider.NewMux(handlers, metricsHandler)

	addr := ":" + envOr("PORT", "8082")
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		slog.Info("provider tier listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("listen failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	signal.Stop(sighup)
	close(watchStop)

	ctxSd, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxSd); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
	prober.Stop(ctxSd)
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
