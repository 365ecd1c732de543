package onnx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Tutortoise/vision-service/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	id        int
	fail      bool
	destroyed atomic.Bool
}

func (m *fakeModel) Run(input []float32) ([]float32, error) {
	if m.fail {
		return nil, errors.New("boom")
	}
	out := make([]float32, len(input))
	for i, v := range input {
		out[i] = v * 2
	}
	return out, nil
}

func (m *fakeModel) Destroy() { m.destroyed.Store(true) }

type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeModel
	fail    bool
	err     error
}

func (f *fakeFactory) New() (Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	m := &fakeModel{id: len(f.created), fail: f.fail}
	f.created = append(f.created, m)
	return m, nil
}

func newTestPool(t *testing.T, f *fakeFactory, size int, timeout time.Duration) *Pool {
	t.Helper()
	pool, err := NewPool("test", f.New, PoolConfig{
		Size:              size,
		AcquireTimeout:    timeout,
		HealthCheckPeriod: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPoolAcquireRelease(t *testing.T) {
	f := &fakeFactory{}
	pool := newTestPool(t, f, 2, time.Second)

	a, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	b, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	stats := pool.Stats()
	assert.Equal(t, 2, stats.InUse)
	assert.Equal(t, int64(2), stats.TotalAcquired)
	assert.Equal(t, 2, stats.Live)

	pool.Release(a)
	pool.Release(b)

	stats = pool.Stats()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, int64(2), stats.TotalReleased)
}

func TestPoolAcquireTimeout(t *testing.T) {
	pool := newTestPool(t, &fakeFactory{}, 1, 20*time.Millisecond)

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(held)

	_, err = pool.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, inference.KindUnavailable, inference.KindOf(err))
	assert.Equal(t, int64(1), pool.Stats().AcquireFailures)
}

func TestPoolAcquireCancelled(t *testing.T) {
	pool := newTestPool(t, &fakeFactory{}, 1, time.Minute)

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(held)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, inference.KindUnavailable, inference.KindOf(err))
}

func TestNewPoolFactoryError(t *testing.T) {
	_, err := NewPool("broken", (&fakeFactory{err: errors.New("no model")}).New, PoolConfig{Size: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model")
}

func TestPoolDiscardAndReplenish(t *testing.T) {
	f := &fakeFactory{}
	pool := newTestPool(t, f, 2, time.Second)

	m, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Discard(m, errors.New("session broke"))

	assert.True(t, m.(*fakeModel).destroyed.Load())
	stats := pool.Stats()
	assert.Equal(t, 1, stats.Live)
	assert.Equal(t, "session broke", stats.LastError)

	pool.replenish()
	assert.Equal(t, 2, pool.Stats().Live)
	assert.Len(t, f.created, 3)
}

func TestPoolCloseDestroysSessions(t *testing.T) {
	f := &fakeFactory{}
	pool, err := NewPool("test", f.New, PoolConfig{Size: 3, HealthCheckPeriod: time.Hour})
	require.NoError(t, err)

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	pool.Close()
	pool.Close()

	for _, m := range f.created {
		if Model(m) == held {
			assert.False(t, m.destroyed.Load())
			continue
		}
		assert.True(t, m.destroyed.Load())
	}

	pool.Release(held)
	assert.True(t, held.(*fakeModel).destroyed.Load())

	_, err = pool.Acquire(context.Background())
	assert.Equal(t, inference.KindUnavailable, inference.KindOf(err))
}

func TestPoolRunner(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		pool := newTestPool(t, &fakeFactory{}, 2, time.Second)
		runner := NewPoolRunner(pool, []int64{1, 3}, []int64{1, 3})

		out, err := runner.Run(context.Background(), []float32{1, 2, 3})
		require.NoError(t, err)
		assert.Equal(t, []float32{2, 4, 6}, out)
		assert.Equal(t, []int64{1, 3}, runner.InputShape())
		assert.Equal(t, 0, pool.Stats().InUse)
	})

	t.Run("failure discards session", func(t *testing.T) {
		pool := newTestPool(t, &fakeFactory{fail: true}, 2, time.Second)
		runner := NewPoolRunner(pool, nil, nil)

		_, err := runner.Run(context.Background(), []float32{1})
		require.Error(t, err)
		assert.Equal(t, inference.KindInferenceFailure, inference.KindOf(err))
		assert.Equal(t, 1, pool.Stats().Live)
	})

	t.Run("concurrent callers share a bounded pool", func(t *testing.T) {
		pool := newTestPool(t, &fakeFactory{}, 2, time.Second)
		runner := NewPoolRunner(pool, nil, nil)

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(v float32) {
				defer wg.Done()
				out, err := runner.Run(context.Background(), []float32{v})
				assert.NoError(t, err)
				assert.Equal(t, []float32{2 * v}, out)
			}(float32(i))
		}
		wg.Wait()

		stats := pool.Stats()
		assert.Equal(t, int64(16), stats.TotalAcquired)
		assert.Equal(t, int64(16), stats.TotalReleased)
	})
}
