package worker

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"wopa/internal/wire"
)

// NewMux builds the Worker tier's HTTP surface: the dispatch endpoint plus
// the two introspection endpoints the Service tier's operability surface
// and external tooling use to discover what this worker process can run.
// metrics serves the process's Prometheus scrape page at GET /metrics.
func NewMux(d *Dispatcher, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	mux.HandleFunc("POST /request_worker", func(w http.ResponseWriter, r *http.Request) {
		handleRequestWorker(w, r, d)
	})
	mux.HandleFunc("GET /workers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Registry.Names())
	})
	mux.HandleFunc("GET /configs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, stepConfigs)
	})
	return logMiddleware(mux)
}

func handleRequestWorker(w http.ResponseWriter, r *http.Request, d *Dispatcher) {
	tracer := otel.Tracer("wopa-worker")
	ctx, span := tracer.Start(r.Context(), "worker.request_worker", trace.WithAttributes())
	defer span.End()

	var req wire.WorkerRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, wire.WorkerResponse{Status: "error", Error: "invalid request body"})
		return
	}
	span.SetAttributes(attribute.String("task_id", req.TaskID), attribute.String("worker_name", string(req.WorkerName)))

	resp := d.Handle(ctx, req)
	if resp.Status == "error" {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// stepConfigs documents the static worker_name -> step composition that
// GET /configs exposes, matching what each worker's Run method actually
// does: a declarative mirror of the wiring in dispatch.go and the
// individual worker files, kept here since the workers themselves encode
// the steps as Go control flow rather than data.
var stepConfigs = map[wire.WorkerName][]string{
	wire.WorkerText:        {"Text_Classification"},
	wire.WorkerLink:        {"Page_Accessibility", "Content_Analysis", "LLM_Link_Suspiciousness"},
	wire.WorkerFileStatic:  {"Static_Signature_Analysis"},
	wire.WorkerFileDynamic: {"Sandbox_Detonation"},
	wire.WorkerAppBehavior: {"App_Behavior_Analysis"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.Info("worker request",
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
