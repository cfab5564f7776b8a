package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"wopa/internal/platform/config"
	"wopa/internal/wire"
)

// Prober runs one background cron schedule per provider kind, pinging
// every configured instance and flipping Healthy after the configured
// consecutive-failure/success thresholds. Grounded in the teacher's
// cron-driven Scheduler, retargeted from workflow execution to health
// checks.
type Prober struct {
	registry *Registry
	http     *http.Client
	cron     *cron.Cron

	mu       sync.Mutex
	failures map[string]int // kind + " " + endpoint -> consecutive failure count
}

// NewProber builds a Prober bound to registry.
func NewProber(registry *Registry) *Prober {
	return &Prober{
		registry: registry,
		http:     &http.Client{Timeout: 10 * time.Second},
		cron:     cron.New(),
		failures: make(map[string]int),
	}
}

// Start schedules a probe job per provider kind using cfg's per-kind
// cadence, then starts the cron scheduler. Call Stop to shut it down.
func (p *Prober) Start(cfg config.Config) error {
	for _, kind := range []wire.ProviderKind{
		wire.KindLLMChat, wire.KindLLMVision, wire.KindSandbox, wire.KindEmulator,
	} {
		hp := cfg.HealthProbeFor(string(kind))
		kind := kind
		threshold := hp.UnhealthyAfter
		if _, err := p.cron.AddFunc(hp.Cron, func() {
			p.probeKind(kind, threshold)
		}); err != nil {
			return fmt.Errorf("provider: schedule health probe for %s: %w", kind, err)
		}
	}
	p.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight probe to finish.
func (p *Prober) Stop(ctx context.Context) {
	stopCtx := p.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

func (p *Prober) probeKind(kind wire.ProviderKind, threshold int) {
	pool := p.registry.Pool(kind)
	if pool == nil {
		return
	}
	for _, endpoint := range pool.Endpoints() {
		ok := p.ping(kind, endpoint)
		p.recordAndUpdate(pool, endpoint, ok, threshold)
	}
}

// ping performs the per-kind trivial health check described in the spec:
// a minimal chat prompt for LLM kinds, a bare GET /health for sandbox and
// emulator (standing in for an API ping / ADB connect check).
func (p *Prober) ping(kind wire.ProviderKind, endpoint string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch kind {
	case wire.KindLLMChat, wire.KindLLMVision:
		body, _ := json.Marshal(wire.ChatCompleteRequest{Prompt: "ping", MaxTokens: 1})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/llm/chat_complete", bytes.NewReader(body))
		if err != nil {
			return false
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := p.http.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode < 500
	default:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/health", nil)
		if err != nil {
			return false
		}
		resp, err := p.http.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode < 500
	}
}

func (p *Prober) recordAndUpdate(pool *Pool, endpoint string, ok bool, threshold int) {
	// Counted per kind: llm_chat and llm_vision share the same endpoint,
	// and each kind's probe must only advance its own count.
	key := string(pool.kind) + " " + endpoint
	p.mu.Lock()
	if ok {
		p.failures[key] = 0
	} else {
		p.failures[key]++
	}
	failures := p.failures[key]
	p.mu.Unlock()

	if threshold <= 0 {
		threshold = 3
	}
	now := time.Now()
	if ok {
		pool.MarkHealth(endpoint, true, now)
	} else if failures >= threshold {
		pool.MarkHealth(endpoint, false, now)
		slog.Warn("provider: instance marked unhealthy", "endpoint", endpoint, "consecutive_failures", failures)
	}
}
