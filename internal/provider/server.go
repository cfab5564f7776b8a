package provider

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// NewMux builds the Provider tier's HTTP surface. metrics serves the
// process's Prometheus scrape page at GET /metrics.
func NewMux(h *Handlers, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /llm/chat_complete", h.ChatComplete)
	mux.HandleFunc("POST /llm/vision_complete", h.VisionComplete)
	mux.HandleFunc("POST /sandbox/run_file", h.SandboxRunFile)
	mux.HandleFunc("POST /emulator/run_app", h.EmulatorRunApp)
	mux.HandleFunc("GET /health", h.Health)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	mux.HandleFunc("GET /admin/endpoints", h.AdminEndpoints)
	mux.HandleFunc("GET /admin/circuit_breakers", h.AdminCircuitBreakers)
	mux.HandleFunc("GET /{task_id}/vnc", func(w http.ResponseWriter, r *http.Request) {
		taskID := strings.TrimSuffix(r.PathValue("task_id"), "/")
		h.VNC(w, r, taskID)
	})
	return logMiddleware(mux)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.Info("provider request",
			"method", r.Method, "path", r.URL.Path,
			"status", sw.status, "duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
