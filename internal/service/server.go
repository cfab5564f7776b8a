package service

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"wopa/internal/platform/resilience"
)

// NewMux assembles the Service tier's public HTTP surface, fronted by a
// per-client rate limiter and a request logging middleware. metrics serves
// the process's Prometheus scrape page at GET /metrics.
func NewMux(h *Handlers, limiter *resilience.KeyedLimiter, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	mux.HandleFunc("GET /available_services", h.AvailableServices)
	mux.HandleFunc("POST /analyze_message", h.AnalyzeMessage)
	mux.HandleFunc("POST /analyze_link", h.AnalyzeLink)
	mux.HandleFunc("POST /analyze_file_static", h.AnalyzeFileStatic)
	mux.HandleFunc("POST /analyze_file_dynamic", h.AnalyzeFileDynamic)
	mux.HandleFunc("POST /analyze_app", h.AnalyzeApp)
	mux.HandleFunc("GET /tasks", h.ListTasks)
	mux.HandleFunc("GET /tasks/{task_id}/events", func(w http.ResponseWriter, r *http.Request) {
		h.GetTaskEvents(w, r, r.PathValue("task_id"))
	})
	mux.HandleFunc("GET /get_task_status", h.GetTaskStatus)

	return logMiddleware(rateLimitMiddleware(limiter, mux))
}

// rateLimitMiddleware applies a per-client KeyedLimiter ahead of task
// creation; GET endpoints and /health are exempt since they never create
// work.
func rateLimitMiddleware(limiter *resilience.KeyedLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		key := clientKey(r)
		if !limiter.Allow(key) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"status":"error","message":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.RemoteAddr
}

func logMiddleware(next http.Handler) http.Handler {
	tracer := otel.Tracer("wopa-service")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := tracer.Start(r.Context(), "http.request", trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		))
		defer span.End()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		slog.Info("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
