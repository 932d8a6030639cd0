package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedQueuePutGetFIFO(t *testing.T) {
	q := NewBoundedQueue[int](3, 2, 1, OverflowError, nil, nil, nil)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, 1))
	require.NoError(t, q.Put(ctx, 2))

	v, err := q.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestBoundedQueueOverflowError(t *testing.T) {
	q := NewBoundedQueue[int](2, 2, 1, OverflowError, nil, nil, nil)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, 1))
	require.NoError(t, q.Put(ctx, 2))
	assert.ErrorIs(t, q.Put(ctx, 3), ErrQueueFull)
}

func TestBoundedQueueOverflowDropOldest(t *testing.T) {
	q := NewBoundedQueue[int](3, 3, 1, OverflowDropOldest, nil, nil, nil)
	ctx := context.Background()
	for _, v := range []int{1, 2, 3} {
		require.NoError(t, q.Put(ctx, v))
	}
	require.NoError(t, q.Put(ctx, 4)) // evicts 1

	var got []int
	for i := 0; i < 3; i++ {
		v, err := q.Get(ctx)
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []int{2, 3, 4}, got)
}

func TestBoundedQueueOverflowDropOldestInvokesCallback(t *testing.T) {
	var dropped []int
	q := NewBoundedQueue[int](2, 2, 1, OverflowDropOldest, nil, nil, func(v int) {
		dropped = append(dropped, v)
	})
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, 1))
	require.NoError(t, q.Put(ctx, 2))
	require.NoError(t, q.Put(ctx, 3))
	assert.Equal(t, []int{1}, dropped)
}

func TestBoundedQueueBlockRespectsContextCancellation(t *testing.T) {
	q := NewBoundedQueue[int](1, 1, 0, OverflowBlock, nil, nil, nil)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, 1))

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := q.Put(cctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBoundedQueueBlockUnblocksWhenSpaceFrees(t *testing.T) {
	q := NewBoundedQueue[int](1, 1, 0, OverflowBlock, nil, nil, nil)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, 1))

	done := make(chan error, 1)
	go func() { done <- q.Put(ctx, 2) }()

	time.Sleep(10 * time.Millisecond) // let the Put block
	_, err := q.Get(ctx)
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked Put never unblocked")
	}
}

// TestBoundedQueueWatermarkHysteresis walks the exact edge-triggered
// sequence the original implementation's watermark tests exercise: high
// fires once crossing into the high watermark and stays latched through
// further puts, then low fires once crossing into the low watermark.
func TestBoundedQueueWatermarkHysteresis(t *testing.T) {
	var highFires, lowFires int
	q := NewBoundedQueue[int](10, 8, 4, OverflowError,
		func() { highFires++ },
		func() { lowFires++ },
		nil,
	)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		require.NoError(t, q.Put(ctx, i))
	}
	assert.Equal(t, 1, highFires, "high should fire exactly once on crossing into watermark")

	require.NoError(t, q.Put(ctx, 99))
	assert.Equal(t, 1, highFires, "high should not re-fire while still above the watermark")

	for i := 0; i < 5; i++ {
		_, err := q.Get(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, lowFires, "low should fire exactly once on crossing into the low watermark")

	_, err := q.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, lowFires, "low should not re-fire while still at/under the watermark")
}

func TestBoundedQueueSizeNeverDriftsUnderConcurrentDropOldest(t *testing.T) {
	q := NewBoundedQueue[int](50, 50, 1, OverflowDropOldest, nil, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = q.Put(ctx, base*1000+i)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 50, q.Size())
}

func TestBoundedQueueDrainAll(t *testing.T) {
	q := NewBoundedQueue[int](5, 5, 1, OverflowError, nil, nil, nil)
	ctx := context.Background()
	for _, v := range []int{1, 2, 3} {
		require.NoError(t, q.Put(ctx, v))
	}
	got := q.DrainAll()
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Equal(t, 0, q.Size())
}

func TestBoundedQueueGetAfterCloseAndEmpty(t *testing.T) {
	q := NewBoundedQueue[int](2, 2, 1, OverflowError, nil, nil, nil)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, 1))
	q.Close()

	v, err := q.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = q.Get(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)
}
