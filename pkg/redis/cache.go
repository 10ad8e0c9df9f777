package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// TTLs for read-API responses
const (
	TTLShort  = 1 * time.Minute  // 월별 집계 조회
	TTLMedium = 10 * time.Minute // 종목명 이력
)

const (
	aggregatesKeyPrefix = "aggregates:"
	namesKeyPrefix      = "names:"
	scanBatch           = 200
)

// Cache is a JSON read-through cache for the read API. Redis failures
// degrade to a miss so reads never depend on Redis being up.
// ⭐ SSOT: 캐시 헬퍼는 여기서만
type Cache struct {
	client *Client
	prefix string
}

func NewCache(client *Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

func (c *Cache) fullKey(key string) string {
	return c.prefix + ":cache:" + key
}

// Get decodes the cached value into dest; found is false on a miss
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !c.client.Enabled() {
		return false, nil
	}

	data, err := c.client.Redis().Get(ctx, c.fullKey(key)).Bytes()
	if isNil(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Set stores value as JSON under key
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.client.Enabled() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", key, err)
	}
	return c.client.Redis().Set(ctx, c.fullKey(key), data, ttl).Err()
}

// GetOrSet serves key from cache, otherwise loads it with fn, stores it
// best-effort and decodes the loaded value into dest.
func (c *Cache) GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, fn func() (interface{}, error)) error {
	if found, err := c.Get(ctx, key, dest); err == nil && found {
		return nil
	}

	value, err := fn()
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", key, err)
	}
	if c.client.Enabled() {
		// 저장 실패는 무시 (다음 조회에서 다시 로드)
		_ = c.client.Redis().Set(ctx, c.fullKey(key), data, ttl).Err()
	}

	return json.Unmarshal(data, dest)
}

// Delete removes the given keys
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if !c.client.Enabled() || len(keys) == 0 {
		return nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.fullKey(k)
	}
	return c.client.Redis().Del(ctx, full...).Err()
}

// DeleteMatching unlinks every key matching a glob pattern (relative to the
// cache prefix) and returns how many were removed.
func (c *Cache) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	if !c.client.Enabled() {
		return 0, nil
	}

	rdb := c.client.Redis()
	removed := 0
	batch := make([]string, 0, scanBatch)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := rdb.Unlink(ctx, batch...).Result()
		if err != nil {
			return err
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}

	iter := rdb.Scan(ctx, 0, c.fullKey(pattern), scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return removed, fmt.Errorf("cache unlink %s: %w", pattern, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("cache scan %s: %w", pattern, err)
	}
	if err := flush(); err != nil {
		return removed, fmt.Errorf("cache unlink %s: %w", pattern, err)
	}
	return removed, nil
}

// InvalidateReads drops every cached read-API response. Called after a job
// commits chunks, since imports change name history and aggregations change
// monthly rows.
func (c *Cache) InvalidateReads(ctx context.Context) (int, error) {
	total := 0
	for _, prefix := range []string{aggregatesKeyPrefix, namesKeyPrefix} {
		n, err := c.DeleteMatching(ctx, prefix+"*")
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// AggregatesKey caches GET /instruments/{id}/aggregates for a month range
func AggregatesKey(instrumentID int64, from, to string) string {
	return fmt.Sprintf("%s%d:%s:%s", aggregatesKeyPrefix, instrumentID, from, to)
}

// NameHistoryKey caches GET /instruments/{id}/name-history
func NameHistoryKey(instrumentID int64) string {
	return fmt.Sprintf("%s%d", namesKeyPrefix, instrumentID)
}
