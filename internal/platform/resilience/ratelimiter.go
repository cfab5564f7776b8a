package resilience

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
)

// RateLimiter combines a token bucket with a secondary fixed-window cap,
// so a client cannot both burst past its bucket and sustain a higher
// average rate than the window allows. The window count resets to zero
// once windowDur has elapsed since the window started. Refill is lazy,
// computed on each Allow call from elapsed wall time.
type RateLimiter struct {
	mu           sync.Mutex
	capacity     int64
	fillRate     float64
	available    float64
	lastRefill   time.Time
	windowStart  time.Time
	windowDur    time.Duration
	windowCount  int64
	maxPerWindow int64
}

// NewRateLimiter builds a limiter with the given bucket capacity, token
// refill rate (tokens/sec), sliding window length, and max requests per
// window.
func NewRateLimiter(capacity int64, fillRate float64, windowDur time.Duration, maxPerWindow int64) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		capacity:     capacity,
		fillRate:     fillRate,
		available:    float64(capacity),
		lastRefill:   now,
		windowStart:  now,
		windowDur:    windowDur,
		maxPerWindow: maxPerWindow,
	}
}

// Allow attempts to consume a single token.
func (r *RateLimiter) Allow() bool { return r.AllowN(1) }

// AllowN attempts to consume n tokens, checking the window cap before the
// token bucket.
func (r *RateLimiter) AllowN(n int64) bool {
	if n <= 0 {
		return true
	}
	now := time.Now()
	meter := otel.Meter("wopa")

	r.mu.Lock()
	defer r.mu.Unlock()

	if elapsed := now.Sub(r.lastRefill).Seconds(); elapsed > 0 {
		if refill := elapsed * r.fillRate; refill > 0 {
			r.available = minFloat(float64(r.capacity), r.available+refill)
			r.lastRefill = now
		}
	}

	if now.Sub(r.windowStart) >= r.windowDur {
		r.windowStart = now
		r.windowCount = 0
	}

	if r.maxPerWindow > 0 && r.windowCount+n > r.maxPerWindow {
		counter, _ := meter.Int64Counter("wopa_ratelimiter_window_drops_total")
		counter.Add(context.Background(), 1)
		return false
	}

	if float64(n) <= r.available {
		r.available -= float64(n)
		r.windowCount += n
		return true
	}
	counter, _ := meter.Int64Counter("wopa_ratelimiter_token_drops_total")
	counter.Add(context.Background(), 1)
	return false
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// KeyedLimiter applies a RateLimiter per client key (API key or remote
// address), lazily creating one on first use. It fronts the Service
// tier's public endpoints.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*RateLimiter
	capacity int64
	fillRate float64
	window   time.Duration
	maxPer   int64
}

// NewKeyedLimiter builds a KeyedLimiter whose per-key limiters all share
// the given parameters.
func NewKeyedLimiter(capacity int64, fillRate float64, window time.Duration, maxPerWindow int64) *KeyedLimiter {
	return &KeyedLimiter{
		limiters: make(map[string]*RateLimiter),
		capacity: capacity,
		fillRate: fillRate,
		window:   window,
		maxPer:   maxPerWindow,
	}
}

// Allow consumes one token from the limiter for key, creating it if absent.
func (k *KeyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	rl, ok := k.limiters[key]
	if !ok {
		rl = NewRateLimiter(k.capacity, k.fillRate, k.window, k.maxPer)
		k.limiters[key] = rl
	}
	k.mu.Unlock()
	return rl.Allow()
}
