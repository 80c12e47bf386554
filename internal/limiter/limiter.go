// Package limiter implements a per-endpoint sliding window rate limiter.
//
// Each endpoint keeps the timestamps of calls issued within the trailing
// window. A caller that would exceed the endpoint's calls-per-minute ceiling
// sleeps until the oldest call leaves the window and then re-checks, so calls
// are delayed but never dropped. The window lives in memory only and starts
// empty on every process start.
package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/STTM-NSU/signal-trader/internal/logger"
	"github.com/STTM-NSU/signal-trader/internal/metrics"
)

const (
	_window           = 60 * time.Second
	_minWait          = time.Millisecond
	_defaultPerMinute = 60
)

type SlidingWindow struct {
	mu       sync.Mutex
	calls    map[string][]time.Time
	limits   map[string]int
	fallback int
	window   time.Duration
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time
	logger   logger.Logger
	metrics  *metrics.Metrics
}

type Option func(*SlidingWindow)

// WithClock replaces the wall clock, used by tests to run without sleeping.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(l *SlidingWindow) {
		l.now = now
		l.after = after
	}
}

func WithWindow(d time.Duration) Option {
	return func(l *SlidingWindow) {
		if d > 0 {
			l.window = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *SlidingWindow) {
		l.metrics = m
	}
}

// New builds a limiter; endpoints missing from limits use defaultPerMinute.
func New(limits map[string]int, defaultPerMinute int, logger logger.Logger, opts ...Option) *SlidingWindow {
	if defaultPerMinute <= 0 {
		defaultPerMinute = _defaultPerMinute
	}
	l := &SlidingWindow{
		calls:    make(map[string][]time.Time),
		limits:   make(map[string]int, len(limits)),
		fallback: defaultPerMinute,
		window:   _window,
		now:      time.Now,
		after:    time.After,
		logger:   logger,
	}
	for endpoint, n := range limits {
		l.limits[endpoint] = n
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WaitIfNeeded blocks until a call to endpoint fits in its window and records it.
// It only returns early when ctx is done.
func (l *SlidingWindow) WaitIfNeeded(ctx context.Context, endpoint string) error {
	for {
		wait, ok := l.reserve(endpoint)
		if ok {
			return nil
		}

		l.logger.Debugf("rate limit reached for %s, waiting %s", endpoint, wait)
		l.metrics.LimiterWait(endpoint, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.after(wait):
		}
	}
}

// Usage reports how many calls to endpoint are inside the current window.
func (l *SlidingWindow) Usage(endpoint string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	calls := l.prune(endpoint, l.now())
	return len(calls)
}

func (l *SlidingWindow) Limit(endpoint string) int {
	if n, ok := l.limits[endpoint]; ok && n > 0 {
		return n
	}
	return l.fallback
}

func (l *SlidingWindow) reserve(endpoint string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	calls := l.prune(endpoint, now)
	if len(calls) < l.Limit(endpoint) {
		l.calls[endpoint] = append(calls, now)
		return 0, true
	}

	wait := l.window - now.Sub(calls[0])
	if wait < _minWait {
		wait = _minWait
	}
	return wait, false
}

// prune drops timestamps that left the window; callers hold mu.
func (l *SlidingWindow) prune(endpoint string, now time.Time) []time.Time {
	calls := l.calls[endpoint]
	i := 0
	for i < len(calls) && now.Sub(calls[i]) >= l.window {
		i++
	}
	if i > 0 {
		calls = append(calls[:0], calls[i:]...)
		l.calls[endpoint] = calls
	}
	return calls
}
