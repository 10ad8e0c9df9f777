package ingest

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLocks_SerializesSameKey(t *testing.T) {
	locks := NewKeyedLocks()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.LockAll([]string{"KR7005930003"})
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, locks.size(), "entries are released")
}

func TestKeyedLocks_OverlappingSetsDoNotDeadlock(t *testing.T) {
	locks := NewKeyedLocks()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			locks.LockAll([]string{"A", "B", "C"})()
		}()
		go func() {
			defer wg.Done()
			locks.LockAll([]string{"C", "B", "A", "A"})()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, locks.size())
}
