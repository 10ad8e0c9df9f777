package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChaneHaDa/stock-batch-server/pkg/config"
)

func disabledClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(&config.Config{Redis: config.RedisConfig{Enabled: false}})
	require.NoError(t, err)
	return client
}

func TestNewClient_Disabled(t *testing.T) {
	client := disabledClient(t)
	assert.False(t, client.Enabled())
	assert.NoError(t, client.Close())
}

func TestRateLimiter_Disabled(t *testing.T) {
	limiter := NewRateLimiter(disabledClient(t), "test")

	// When Redis is disabled, all requests should be allowed
	cfg := TriggerRateLimit("127.0.0.1", 30)
	allowed, remaining, err := limiter.Allow(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 30, remaining)
}

func TestRateLimitConfigs(t *testing.T) {
	trig := TriggerRateLimit("10.0.0.1", 12)
	assert.Equal(t, "trigger:10.0.0.1", trig.Key)
	assert.Equal(t, 12, trig.Limit)
	assert.Equal(t, time.Minute, trig.Window)

	dg := DataGoKrRateLimit(5)
	assert.Equal(t, "datagokr", dg.Key)
	assert.Equal(t, time.Second, dg.Window)
}

func TestCache_Disabled(t *testing.T) {
	cache := NewCache(disabledClient(t), "test")

	// When Redis is disabled, cache operations should be no-ops
	var result string
	found, err := cache.Get(context.Background(), "key", &result)
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, cache.Set(context.Background(), "key", "v", TTLShort))
}

func TestCache_GetOrSetDisabledCallsFn(t *testing.T) {
	cache := NewCache(disabledClient(t), "test")

	calls := 0
	var dest []int
	err := cache.GetOrSet(context.Background(), "k", &dest, TTLShort, func() (interface{}, error) {
		calls++
		return []int{1, 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []int{1, 2}, dest)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "aggregates:7:2024-01:2024-03", AggregatesKey(7, "2024-01", "2024-03"))
	assert.Equal(t, "names:7", NameHistoryKey(7))
}

func TestClaims_Integration(t *testing.T) {
	if os.Getenv("REDIS_ENABLED") != "true" {
		t.Skip("REDIS_ENABLED not set, skipping integration test")
	}
	cfg, err := config.Load()
	require.NoError(t, err)
	client, err := New(cfg)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	claims := NewClaims(client, "test", time.Minute)
	fp := "monthly_aggregation|all|2099-01"
	_ = claims.Release(ctx, fp, "a")

	ok, err := claims.Claim(ctx, fp, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = claims.Claim(ctx, fp, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	// non-owner release is ignored
	require.NoError(t, claims.Release(ctx, fp, "b"))
	owner, err := claims.Owner(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, "a", owner)

	require.NoError(t, claims.Release(ctx, fp, "a"))
	owner, err = claims.Owner(ctx, fp)
	require.NoError(t, err)
	assert.Empty(t, owner)
}

func TestClient_DisabledPing(t *testing.T) {
	assert.NoError(t, disabledClient(t).Ping(context.Background()))
	assert.False(t, NewFromClient(nil).Enabled())
}

func TestCache_DisabledInvalidation(t *testing.T) {
	cache := NewCache(disabledClient(t), "test")
	ctx := context.Background()

	n, err := cache.DeleteMatching(ctx, "aggregates:*")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = cache.InvalidateReads(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, cache.Delete(ctx, NameHistoryKey(7), AggregatesKey(7, "2024-01", "2024-03")))
}

func TestRateLimiter_UnlimitedWaitReturnsImmediately(t *testing.T) {
	limiter := NewRateLimiter(disabledClient(t), "test")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, limiter.Wait(ctx, DataGoKrRateLimit(5)))
}

func TestRateLimiter_Integration(t *testing.T) {
	if os.Getenv("REDIS_ENABLED") != "true" {
		t.Skip("REDIS_ENABLED not set, skipping integration test")
	}
	cfg, err := config.Load()
	require.NoError(t, err)
	client, err := New(cfg)
	require.NoError(t, err)
	defer client.Close()

	limiter := NewRateLimiter(client, "test-"+time.Now().Format("150405.000000"))
	rl := RateLimitConfig{Key: "burst", Limit: 3, Window: time.Minute}
	ctx := context.Background()

	// 같은 ms에 몰려도 3건까지만 허용
	admitted := 0
	for i := 0; i < 5; i++ {
		ok, _, err := limiter.Allow(ctx, rl)
		require.NoError(t, err)
		if ok {
			admitted++
		}
	}
	assert.Equal(t, 3, admitted)
}

func TestCache_Integration(t *testing.T) {
	if os.Getenv("REDIS_ENABLED") != "true" {
		t.Skip("REDIS_ENABLED not set, skipping integration test")
	}
	cfg, err := config.Load()
	require.NoError(t, err)
	client, err := New(cfg)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	cache := NewCache(client, "test-"+time.Now().Format("150405.000000"))
	require.NoError(t, cache.Set(ctx, AggregatesKey(1, "2024-01", "2024-02"), []string{"a"}, TTLShort))
	require.NoError(t, cache.Set(ctx, NameHistoryKey(1), []string{"b"}, TTLShort))

	n, err := cache.InvalidateReads(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var got []string
	found, err := cache.Get(ctx, NameHistoryKey(1), &got)
	require.NoError(t, err)
	assert.False(t, found)
}
