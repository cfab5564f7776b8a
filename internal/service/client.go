// Package service implements the Service tier: the public HTTP surface,
// task lifecycle orchestration, and the aggregator that turns a worker's
// findings into a final Verdict.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"wopa/internal/wire"
)

// headerCarrier adapts http.Header to otel's TextMapCarrier for trace
// context propagation across the tier boundary.
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

// BackendClient is a single pooled HTTP client used for both the
// Worker-tier call and the Provider-tier aggregator call; WOPA's tiers
// never share one global client instance beyond this pool per §9's
// "HTTP client sharing to pooling" design note.
type BackendClient struct {
	http   *http.Client
	tracer trace.Tracer
}

// NewBackendClient builds a client with connection pooling. overallTimeout
// bounds a single request; it is additionally refined per-call via
// context deadlines carrying the endpoint-specific timeout.
func NewBackendClient(overallTimeout time.Duration) *BackendClient {
	return &BackendClient{
		http: &http.Client{
			Timeout: overallTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		tracer: otel.Tracer("wopa-service"),
	}
}

// PostJSON POSTs v as JSON to url with the given timeout, decoding the
// response body into out. Returns the raw HTTP status code alongside any
// transport/decode error so callers can distinguish 5xx from timeouts.
func (c *BackendClient) PostJSON(ctx context.Context, url string, timeout time.Duration, v, out any) (int, error) {
	ctx, span := c.tracer.Start(ctx, "backend.post",
		trace.WithAttributes(attribute.String("url", url)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, &headerCarrier{req.Header})

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// CallWorker issues the Service -> Worker /request_worker call.
func (c *BackendClient) CallWorker(ctx context.Context, baseURL string, timeout time.Duration, req wire.WorkerRequest) (wire.WorkerResponse, int, error) {
	var resp wire.WorkerResponse
	status, err := c.PostJSON(ctx, baseURL+"/request_worker", timeout, req, &resp)
	return resp, status, err
}

// CallChatComplete issues a Provider-tier /llm/chat_complete call for the
// aggregator. Workers make their LLM calls through worker.ProviderClient.
func (c *BackendClient) CallChatComplete(ctx context.Context, baseURL string, timeout time.Duration, req wire.ChatCompleteRequest) (wire.LLMResponse, int, error) {
	var resp wire.LLMResponse
	status, err := c.PostJSON(ctx, baseURL+"/llm/chat_complete", timeout, req, &resp)
	return resp, status, err
}
