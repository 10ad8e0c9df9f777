package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
)

// ErrPoolClosed is returned by Submit after Close
var ErrPoolClosed = errors.New("worker pool closed")

// Pool is a fixed set of workers fed by a bounded queue
type Pool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	logger *logger.Logger
}

// NewPool starts workers goroutines; queue is the number of tasks buffered ahead of them
func NewPool(workers, queue int, log *logger.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}

	p := &Pool{
		tasks:  make(chan func(), queue),
		logger: log.WithField("module", "pool"),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			p.worker(workerID)
		}(i)
	}
	return p
}

// Submit enqueues task, blocking while the queue is full
func (p *Pool) Submit(ctx context.Context, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for queued ones to finish
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) worker(workerID int) {
	for task := range p.tasks {
		p.run(workerID, task)
	}
}

func (p *Pool) run(workerID int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithError(fmt.Errorf("panic: %v", r)).WithField("worker", workerID).Error("Task panicked")
		}
	}()
	task()
}
