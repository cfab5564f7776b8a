package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"wopa/internal/platform/config"
	"wopa/internal/wire"
)

const (
	llmCallTimeout      = 60 * time.Second
	sandboxCallTimeout  = 300 * time.Second
	emulatorCallTimeout = 600 * time.Second
)

// Handlers implements the Provider tier's public HTTP surface: routing
// each call to a least-loaded healthy instance of the right kind, with
// one retry against a different instance on transport error or 5xx.
type Handlers struct {
	registry *Registry
	cfg      config.Config
	http     *http.Client
	tracer   trace.Tracer

	vncMu  sync.Mutex
	vnc    map[string]string // task_id -> endpoint
}

// NewHandlers builds Handlers bound to registry and cfg (for the VNC URL
// template and default port).
func NewHandlers(registry *Registry, cfg config.Config) *Handlers {
	return &Handlers{
		registry: registry,
		cfg:      cfg,
		http:     &http.Client{},
		tracer:   otel.Tracer("wopa-provider"),
		vnc:      make(map[string]string),
	}
}

// ChatComplete handles POST /llm/chat_complete.
func (h *Handlers) ChatComplete(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, wire.KindLLMChat, "/llm/chat_complete", llmCallTimeout)
}

// VisionComplete handles POST /llm/vision_complete.
func (h *Handlers) VisionComplete(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, wire.KindLLMVision, "/llm/vision_complete", llmCallTimeout)
}

// SandboxRunFile handles POST /sandbox/run_file.
func (h *Handlers) SandboxRunFile(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, wire.KindSandbox, "/sandbox/run_file", sandboxCallTimeout)
}

// EmulatorRunApp handles POST /emulator/run_app, additionally recording
// the task_id -> instance mapping needed to serve a later VNC lookup.
func (h *Handlers) EmulatorRunApp(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var req wire.EmulatorRunAppRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, respBody, endpoint, err := h.call(r.Context(), wire.KindEmulator, "/emulator/run_app", emulatorCallTimeout, raw)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "emulator unavailable")
		return
	}
	if status < 300 && req.TaskID != "" {
		h.vncMu.Lock()
		h.vnc[req.TaskID] = endpoint
		h.vncMu.Unlock()
	}
	writeRaw(w, status, respBody)
}

// VNC handles GET /{task_id}/vnc.
func (h *Handlers) VNC(w http.ResponseWriter, r *http.Request, taskID string) {
	h.vncMu.Lock()
	endpoint, ok := h.vnc[taskID]
	h.vncMu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown emulator session")
		return
	}
	host := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	url := strings.NewReplacer(
		"{host}", host,
		"{port}", fmt.Sprint(h.cfg.Emulator.DefaultVNCPort),
	).Replace(h.cfg.Emulator.VNCURLTemplate)
	writeJSON(w, http.StatusOK, wire.VNCResponse{URL: url})
}

// Health handles GET /health: overall plus per-kind aggregate status.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	kinds := []wire.ProviderKind{wire.KindLLMChat, wire.KindLLMVision, wire.KindSandbox, wire.KindEmulator}
	perKind := make(map[string]string, len(kinds))
	overall := "healthy"
	for _, kind := range kinds {
		pool := h.registry.Pool(kind)
		healthy := false
		for _, inst := range pool.Snapshot() {
			if inst.Healthy {
				healthy = true
				break
			}
		}
		if healthy {
			perKind[string(kind)] = "healthy"
		} else {
			perKind[string(kind)] = "unhealthy"
			overall = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": overall, "kinds": perKind})
}

// AdminEndpoints handles GET /admin/endpoints.
func (h *Handlers) AdminEndpoints(w http.ResponseWriter, r *http.Request) {
	out := make(map[string][]string)
	for _, kind := range []wire.ProviderKind{wire.KindLLMChat, wire.KindLLMVision, wire.KindSandbox, wire.KindEmulator} {
		out[string(kind)] = h.registry.Pool(kind).Endpoints()
	}
	writeJSON(w, http.StatusOK, out)
}

// AdminCircuitBreakers handles GET /admin/circuit_breakers, the
// expansion's operability surface for the per-instance breaker state.
func (h *Handlers) AdminCircuitBreakers(w http.ResponseWriter, r *http.Request) {
	out := make(map[string][]InstanceView)
	for _, kind := range []wire.ProviderKind{wire.KindLLMChat, wire.KindLLMVision, wire.KindSandbox, wire.KindEmulator} {
		out[string(kind)] = h.registry.Pool(kind).Snapshot()
	}
	writeJSON(w, http.StatusOK, out)
}

// forward reads the request body, calls the kind's backend, and mirrors
// its status/body onto w, or a 503 ProviderUnavailable envelope on
// exhausted retries.
func (h *Handlers) forward(w http.ResponseWriter, r *http.Request, kind wire.ProviderKind, path string, timeout time.Duration) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 20<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status, respBody, _, err := h.call(r.Context(), kind, path, timeout, raw)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("%s unavailable", kind))
		return
	}
	writeRaw(w, status, respBody)
}

// call selects a healthy instance of kind and POSTs raw to it, retrying
// once against a different instance on transport error or 5xx, per the
// spec's retry-and-fallback rule. in_flight is always restored regardless
// of outcome.
func (h *Handlers) call(ctx context.Context, kind wire.ProviderKind, path string, timeout time.Duration, raw []byte) (int, []byte, string, error) {
	ctx, span := h.tracer.Start(ctx, "provider.forward."+path, trace.WithAttributes(attribute.String("provider.kind", string(kind))))
	defer span.End()

	pool := h.registry.Pool(kind)
	if pool == nil {
		return 0, nil, "", fmt.Errorf("unknown provider kind %q", kind)
	}

	inst, err := pool.Select()
	if err != nil {
		return 0, nil, "", err
	}
	status, body, err := h.post(ctx, inst.Endpoint+path, timeout, raw)
	success := err == nil && status < 500
	pool.Release(inst, success)
	if success {
		return status, body, inst.Endpoint, nil
	}

	retryInst, rerr := pool.SelectExcluding(inst)
	if rerr != nil {
		return 0, nil, "", fmt.Errorf("%s unavailable after retry", kind)
	}
	status, body, err = h.post(ctx, retryInst.Endpoint+path, timeout, raw)
	success = err == nil && status < 500
	pool.Release(retryInst, success)
	if !success {
		return 0, nil, "", fmt.Errorf("%s unavailable after retry", kind)
	}
	return status, body, retryInst.Endpoint, nil
}

func (h *Handlers) post(ctx context.Context, url string, timeout time.Duration, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, out, nil
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, wire.ErrorEnvelope{Status: "error", Error: message})
}
