// Package ratelimit gates bid submissions per origin with a sliding
// window. Origins that go quiet are reaped by a background sweep so the
// window map does not grow without bound.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

type limiterOptions struct {
	logger        *slog.Logger
	sweepInterval time.Duration
}

type LimiterOption func(*limiterOptions)

func WithLimiterLogger(logger *slog.Logger) LimiterOption {
	return func(o *limiterOptions) { o.logger = logger }
}

// WithSweepInterval overrides how often stale origins are reaped.
// Defaults to the window length.
func WithSweepInterval(d time.Duration) LimiterOption {
	return func(o *limiterOptions) { o.sweepInterval = d }
}

// Limiter admits at most limit events per window per origin key. The
// window slides: Allow prunes events older than now-window before
// counting, records now on admission, and leaves the window untouched
// on rejection.
type Limiter struct {
	window time.Duration
	limit  int

	mu      sync.Mutex
	origins map[string][]time.Time

	sweepInterval time.Duration
	cancel        chan struct{}
	wg            sync.WaitGroup
	started       bool
	logger        *slog.Logger
}

func NewLimiter(window time.Duration, limit int, opts ...LimiterOption) *Limiter {
	options := limiterOptions{
		logger:        slog.Default(),
		sweepInterval: window,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Limiter{
		window:        window,
		limit:         limit,
		origins:       make(map[string][]time.Time),
		sweepInterval: options.sweepInterval,
		cancel:        make(chan struct{}),
		logger:        options.logger.With(slog.String("caller", "Limiter")),
	}
}

// Allow reports whether the origin may submit at time now, recording the
// event when it may.
func (l *Limiter) Allow(origin string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := prune(l.origins[origin], now.Add(-l.window))
	if len(events) >= l.limit {
		l.origins[origin] = events
		return false
	}
	l.origins[origin] = append(events, now)
	return true
}

// RetryAfter reports how long the origin must wait before a submission
// can succeed. Zero when it may submit immediately.
func (l *Limiter) RetryAfter(origin string, now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := prune(l.origins[origin], now.Add(-l.window))
	l.origins[origin] = events
	if len(events) < l.limit {
		return 0
	}
	// The oldest event in the window rolls out first.
	return events[0].Add(l.window).Sub(now)
}

// Start launches the sweep goroutine. Safe to skip in tests that never
// need eviction.
func (l *Limiter) Start() {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-l.cancel:
				return
			case now := <-ticker.C:
				l.sweep(now)
			}
		}
	}()
}

func (l *Limiter) Close() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	l.started = false
	l.mu.Unlock()

	close(l.cancel)
	l.wg.Wait()
}

// sweep drops origins whose newest event left the window.
func (l *Limiter) sweep(now time.Time) {
	cutoff := now.Add(-l.window)
	l.mu.Lock()
	defer l.mu.Unlock()

	before := len(l.origins)
	for origin, events := range l.origins {
		if len(events) == 0 || events[len(events)-1].Before(cutoff) {
			delete(l.origins, origin)
		}
	}
	if reaped := before - len(l.origins); reaped > 0 {
		l.logger.Debug("reaped stale origins", slog.Int("count", reaped))
	}
}

// Origins reports how many origin keys are currently tracked.
func (l *Limiter) Origins() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.origins)
}

func prune(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	return events[i:]
}
