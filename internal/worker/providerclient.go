// Package worker implements the Worker tier: a uniform dispatcher over a
// static per-worker_name composition of steps, each a set of checks that
// may call into the Provider tier.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"wopa/internal/wire"
)

// ProviderClient is the Worker tier's pooled HTTP client for calling into
// the Provider tier. One instance is shared across all checks of a
// request, matching the tier-wide client-pooling design note.
type ProviderClient struct {
	http    *http.Client
	baseURL string
	tracer  trace.Tracer
}

// NewProviderClient builds a client pointed at the Provider tier's base
// URL with connection pooling.
func NewProviderClient(baseURL string) *ProviderClient {
	return &ProviderClient{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL: baseURL,
		tracer:  otel.Tracer("wopa-worker"),
	}
}

func (c *ProviderClient) post(ctx context.Context, path string, timeout time.Duration, body, out any) error {
	ctx, span := c.tracer.Start(ctx, "provider.call."+path)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation(req))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// ChatComplete calls POST /llm/chat_complete.
func (c *ProviderClient) ChatComplete(ctx context.Context, timeout time.Duration, req wire.ChatCompleteRequest) (wire.LLMResponse, error) {
	var resp wire.LLMResponse
	err := c.post(ctx, "/llm/chat_complete", timeout, req, &resp)
	return resp, err
}

// VisionComplete calls POST /llm/vision_complete.
func (c *ProviderClient) VisionComplete(ctx context.Context, timeout time.Duration, req wire.VisionCompleteRequest) (wire.LLMResponse, error) {
	var resp wire.LLMResponse
	err := c.post(ctx, "/llm/vision_complete", timeout, req, &resp)
	return resp, err
}

// SandboxRunFile calls POST /sandbox/run_file.
func (c *ProviderClient) SandboxRunFile(ctx context.Context, timeout time.Duration, req wire.SandboxRunFileRequest) (wire.SandboxRunFileResponse, error) {
	var resp wire.SandboxRunFileResponse
	err := c.post(ctx, "/sandbox/run_file", timeout, req, &resp)
	return resp, err
}

// EmulatorRunApp calls POST /emulator/run_app.
func (c *ProviderClient) EmulatorRunApp(ctx context.Context, timeout time.Duration, req wire.EmulatorRunAppRequest) (wire.EmulatorRunAppResponse, error) {
	var resp wire.EmulatorRunAppResponse
	err := c.post(ctx, "/emulator/run_app", timeout, req, &resp)
	return resp, err
}

type headerCarrier struct{ h http.Header }

func (c *headerCarrier) Get(key string) string { return c.h.Get(key) }
func (c *headerCarrier) Set(key, value string) { c.h.Set(key, value) }
func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.h))
	for k := range c.h {
		keys = append(keys, k)
	}
	return keys
}

func propagation(req *http.Request) *headerCarrier { return &headerCarrier{req.Header} }
