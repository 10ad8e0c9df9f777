package api

import (
	"context"
	"time"

	"github.com/ChaneHaDa/stock-batch-server/internal/batch"
	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
)

const invalidateTimeout = 5 * time.Second

// ReadInvalidator drops cached read-API responses (redis.Cache)
type ReadInvalidator interface {
	InvalidateReads(ctx context.Context) (int, error)
}

// CacheInvalidator flushes the read cache whenever a job finishes, since a
// job that failed part way may still have committed chunks.
type CacheInvalidator struct {
	cache  ReadInvalidator
	logger *logger.Logger
}

// NewCacheInvalidator creates a batch.EventSink bound to cache
func NewCacheInvalidator(cache ReadInvalidator, log *logger.Logger) *CacheInvalidator {
	return &CacheInvalidator{cache: cache, logger: log.WithField("module", "api.cache")}
}

// Publish implements batch.EventSink; the flush runs off the job goroutine
func (c *CacheInvalidator) Publish(e batch.Event) {
	if e.Type != batch.EventState || !e.State.Terminal() {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
		defer cancel()

		n, err := c.cache.InvalidateReads(ctx)
		if err != nil {
			c.logger.WithFields(map[string]interface{}{
				"job_id": e.JobID,
				"error":  err.Error(),
			}).Warn("Read cache invalidation failed")
			return
		}
		if n > 0 {
			c.logger.WithFields(map[string]interface{}{
				"job_id": e.JobID,
				"keys":   n,
			}).Debug("Read cache invalidated")
		}
	}()
}
