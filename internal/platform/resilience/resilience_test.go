package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterBasic(t *testing.T) {
	rl := NewRateLimiter(5, 5, time.Second, 10)
	for i := 0; i < 5; i++ {
		require.True(t, rl.Allow(), "expected allow %d", i)
	}
	require.False(t, rl.Allow(), "expected deny after capacity")
	time.Sleep(1100 * time.Millisecond)
	require.True(t, rl.Allow(), "expected allow after refill")
}

func TestKeyedLimiterIsolatesKeys(t *testing.T) {
	kl := NewKeyedLimiter(1, 1, time.Minute, 1)
	require.True(t, kl.Allow("alice"))
	require.False(t, kl.Allow("alice"))
	require.True(t, kl.Allow("bob"), "bob's bucket must be independent of alice's")
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(4, 500*time.Millisecond, 2)
	for i := 0; i < 4; i++ {
		require.True(t, cb.Allow(), "should allow while closed")
		cb.RecordResult(false)
	}
	require.False(t, cb.Allow(), "should be open and deny")
	require.Equal(t, "open", cb.State())

	time.Sleep(600 * time.Millisecond)
	require.True(t, cb.Allow(), "half-open probe should allow")
	cb.RecordResult(true)
	require.True(t, cb.Allow(), "breaker closed by the successful probe should allow")
	cb.RecordResult(true)

	require.True(t, cb.Allow(), "breaker should stay closed after further successes")
	require.Equal(t, "closed", cb.State())
}
