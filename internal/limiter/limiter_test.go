package limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/STTM-NSU/signal-trader/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	waits []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// After jumps the clock forward instead of sleeping.
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	ch <- c.t
	return ch
}

func TestWaitIfNeededDelaysCallOverCeiling(t *testing.T) {
	clock := newFakeClock()
	l := New(map[string]int{"orders": 3}, 60, logger.NewNopLogger(), WithClock(clock.Now, clock.After))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.WaitIfNeeded(ctx, "orders"))
		clock.Advance(10 * time.Second)
	}
	assert.Empty(t, clock.waits)

	// fourth call at +30s must wait for the first one to leave the window
	require.NoError(t, l.WaitIfNeeded(ctx, "orders"))
	require.Len(t, clock.waits, 1)
	assert.Equal(t, 30*time.Second, clock.waits[0])
	assert.Equal(t, 3, l.Usage("orders"))
}

func TestEndpointsAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := New(map[string]int{"market": 1, "orders": 1}, 60, logger.NewNopLogger(), WithClock(clock.Now, clock.After))
	ctx := context.Background()

	require.NoError(t, l.WaitIfNeeded(ctx, "market"))
	require.NoError(t, l.WaitIfNeeded(ctx, "orders"))
	assert.Empty(t, clock.waits)

	require.NoError(t, l.WaitIfNeeded(ctx, "market"))
	assert.Len(t, clock.waits, 1)
}

func TestDefaultLimit(t *testing.T) {
	l := New(nil, 0, logger.NewNopLogger())
	assert.Equal(t, _defaultPerMinute, l.Limit("anything"))

	l = New(map[string]int{"x": 0}, 5, logger.NewNopLogger())
	assert.Equal(t, 5, l.Limit("x"))
}

func TestWaitIfNeededHonoursContext(t *testing.T) {
	l := New(map[string]int{"orders": 1}, 60, logger.NewNopLogger(), WithWindow(time.Hour))
	require.NoError(t, l.WaitIfNeeded(context.Background(), "orders"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.WaitIfNeeded(ctx, "orders")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.Usage("orders"))
}

func TestConcurrentCallersAreNeverDropped(t *testing.T) {
	const (
		limit   = 5
		callers = 15
		window  = 100 * time.Millisecond
	)
	l := New(map[string]int{"market": limit}, 60, logger.NewNopLogger(), WithWindow(window))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	start := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WaitIfNeeded(context.Background(), "market")
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	require.Len(t, errs, callers)
	for _, err := range errs {
		assert.NoError(t, err)
	}
	// three batches of five: the last batch cannot start before two full windows pass
	assert.GreaterOrEqual(t, elapsed, 2*window-10*time.Millisecond)
	assert.LessOrEqual(t, l.Usage("market"), limit)
}
