package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, clk *fakeClock, opts ...Option) *Cache {
	t.Helper()
	mem, err := NewMemory(16)
	require.NoError(t, err)
	logger, _ := logtest.NewNullLogger()
	opts = append([]Option{WithClock(clk.Now), WithLogger(logger)}, opts...)
	return New(mem, opts...)
}

func TestGetOrCompute_FreshValueIsServedFromCache(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestCache(t, clk)
	var calls atomic.Int32
	load := func(context.Context) (int, error) { return int(calls.Add(1)), nil }

	v, err := GetOrCompute(context.Background(), c, "k", 10*time.Second, load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clk.Advance(3 * time.Second)
	v, err = GetOrCompute(context.Background(), c, "k", 10*time.Second, load)
	require.NoError(t, err)
	c.Wait()

	assert.Equal(t, 1, v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrCompute_StaleValueTriggersOneBackgroundRefresh(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestCache(t, clk)

	var calls atomic.Int32
	gate := make(chan struct{})
	load := func(context.Context) (int, error) {
		n := calls.Add(1)
		if n > 1 {
			<-gate
		}
		return int(n), nil
	}

	_, err := GetOrCompute(context.Background(), c, "k", 10*time.Second, load)
	require.NoError(t, err)

	clk.Advance(6 * time.Second)
	for i := 0; i < 3; i++ {
		v, err := GetOrCompute(context.Background(), c, "k", 10*time.Second, load)
		require.NoError(t, err)
		assert.Equal(t, 1, v, "stale value is returned immediately")
	}
	close(gate)
	c.Wait()
	assert.Equal(t, int32(2), calls.Load(), "exactly one background load")

	v, err := GetOrCompute(context.Background(), c, "k", 10*time.Second, load)
	require.NoError(t, err)
	assert.Equal(t, 2, v, "refreshed value replaces the stale one")
}

func TestGetOrCompute_ExpiredValueLoadsSynchronously(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestCache(t, clk)
	var calls atomic.Int32
	load := func(context.Context) (int, error) { return int(calls.Add(1)), nil }

	_, err := GetOrCompute(context.Background(), c, "k", 10*time.Second, load)
	require.NoError(t, err)
	clk.Advance(11 * time.Second)

	v, err := GetOrCompute(context.Background(), c, "k", 10*time.Second, load)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestGetOrCompute_MissPropagatesLoaderError(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestCache(t, clk)
	boom := errors.New("db down")

	_, err := GetOrCompute(context.Background(), c, "k", time.Minute, func(context.Context) (string, error) {
		return "", boom
	})
	var le *LoaderError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "k", le.Key)
	assert.ErrorIs(t, err, boom)
}

func TestGetOrCompute_BackgroundErrorKeepsStaleValue(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	mem, err := NewMemory(4)
	require.NoError(t, err)
	logger, hook := logtest.NewNullLogger()
	c := New(mem, WithClock(clk.Now), WithLogger(logger))

	fail := false
	load := func(context.Context) (string, error) {
		if fail {
			return "", errors.New("rpc timeout")
		}
		return "v1", nil
	}
	_, err = GetOrCompute(context.Background(), c, "k", 10*time.Second, load)
	require.NoError(t, err)

	fail = true
	clk.Advance(7 * time.Second)
	v, err := GetOrCompute(context.Background(), c, "k", 10*time.Second, load)
	require.NoError(t, err)
	c.Wait()
	assert.Equal(t, "v1", v)

	v, err = GetOrCompute(context.Background(), c, "k", 10*time.Second, load)
	require.NoError(t, err)
	c.Wait()
	assert.Equal(t, "v1", v)

	require.NotEmpty(t, hook.AllEntries())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestInvalidate_ForcesReload(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestCache(t, clk)
	var calls atomic.Int32
	load := func(context.Context) (int, error) { return int(calls.Add(1)), nil }

	_, _ = GetOrCompute(context.Background(), c, "k", time.Minute, load)
	c.Invalidate(context.Background(), "k")
	v, err := GetOrCompute(context.Background(), c, "k", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestInvalidate_DuringBackgroundRefreshDiscardsRefresh(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestCache(t, clk)

	var calls atomic.Int32
	gate := make(chan struct{})
	load := func(context.Context) (int, error) {
		n := calls.Add(1)
		if n == 2 {
			<-gate
		}
		return int(n), nil
	}

	_, err := GetOrCompute(context.Background(), c, "k", 10*time.Second, load)
	require.NoError(t, err)
	clk.Advance(6 * time.Second)
	v, err := GetOrCompute(context.Background(), c, "k", 10*time.Second, load)
	require.NoError(t, err)
	assert.Equal(t, 1, v, "stale value served while refreshing")

	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
	c.Invalidate(context.Background(), "k")
	close(gate)
	c.Wait()

	v, err = GetOrCompute(context.Background(), c, "k", 10*time.Second, load)
	require.NoError(t, err)
	assert.Equal(t, 3, v, "refresh that began before the invalidation must not be stored")
}

func TestInvalidate_DuringMissLoadDiscardsResult(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestCache(t, clk)

	var calls atomic.Int32
	started := make(chan struct{})
	gate := make(chan struct{})
	load := func(context.Context) (int, error) {
		n := calls.Add(1)
		if n == 1 {
			close(started)
			<-gate
		}
		return int(n), nil
	}

	first := make(chan int, 1)
	go func() {
		v, _ := GetOrCompute(context.Background(), c, "k", time.Minute, load)
		first <- v
	}()
	<-started
	c.Invalidate(context.Background(), "k")

	v, err := GetOrCompute(context.Background(), c, "k", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, 2, v, "a read after the invalidation does not join the older load")

	close(gate)
	assert.Equal(t, 1, <-first)

	v, err = GetOrCompute(context.Background(), c, "k", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, int32(2), calls.Load())
}
