package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
)

func TestPool_BoundedConcurrency(t *testing.T) {
	p := NewPool(3, 4, logger.Nop())

	var running, peak, total int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := p.Submit(context.Background(), func() {
			defer wg.Done()
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			atomic.AddInt32(&total, 1)
		})
		require.NoError(t, err)
	}
	wg.Wait()
	p.Close()

	assert.Equal(t, int32(20), total)
	assert.LessOrEqual(t, peak, int32(3))
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := NewPool(1, 0, logger.Nop())
	p.Close()
	p.Close()

	err := p.Submit(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_SubmitHonorsContextWhenFull(t *testing.T) {
	p := NewPool(1, 0, logger.Nop())
	release := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	p.Close()
}

func TestPool_RecoversPanics(t *testing.T) {
	p := NewPool(1, 1, logger.Nop())

	done := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() { panic("boom") }))
	require.NoError(t, p.Submit(context.Background(), func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
	p.Close()
}
