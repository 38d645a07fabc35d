package ratelimit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"gavel/adapters/ratelimit"
)

func TestWindowBoundary(t *testing.T) {
	l := ratelimit.NewLimiter(60*time.Second, 5)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Exactly five submissions in one window succeed.
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("10.0.0.1", now.Add(time.Duration(i)*time.Second)))
	}
	// The sixth within the window is rejected without being recorded.
	assert.False(t, l.Allow("10.0.0.1", now.Add(10*time.Second)))
	assert.False(t, l.Allow("10.0.0.1", now.Add(59*time.Second)))

	// Once the first event leaves the window, a new submission succeeds.
	assert.True(t, l.Allow("10.0.0.1", now.Add(60*time.Second)))
}

func TestOriginsIndependent(t *testing.T) {
	l := ratelimit.NewLimiter(60*time.Second, 1)
	now := time.Now()

	assert.True(t, l.Allow("10.0.0.1", now))
	assert.False(t, l.Allow("10.0.0.1", now))
	assert.True(t, l.Allow("10.0.0.2", now))
}

func TestRetryAfter(t *testing.T) {
	l := ratelimit.NewLimiter(60*time.Second, 2)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.Zero(t, l.RetryAfter("origin", now))
	l.Allow("origin", now)
	l.Allow("origin", now.Add(5*time.Second))
	assert.Equal(t, 60*time.Second, l.RetryAfter("origin", now))
	assert.Equal(t, 30*time.Second, l.RetryAfter("origin", now.Add(30*time.Second)))
	// The window rolled: the oldest event is gone.
	assert.Zero(t, l.RetryAfter("origin", now.Add(61*time.Second)))
}

func TestSweepReapsStaleOrigins(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := ratelimit.NewLimiter(50*time.Millisecond, 5, ratelimit.WithSweepInterval(10*time.Millisecond))
	l.Start()
	defer l.Close()

	l.Allow("ephemeral", time.Now())
	assert.Equal(t, 1, l.Origins())

	assert.Eventually(t, func() bool {
		return l.Origins() == 0
	}, time.Second, 10*time.Millisecond)
}
