package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Claims guards in-flight job fingerprints across instances.
// SET NX + TTL: 프로세스가 죽어도 TTL 이후 자동 해제
type Claims struct {
	client *Client
	prefix string
	ttl    time.Duration
}

// NewClaims creates a fingerprint claim store
func NewClaims(client *Client, prefix string, ttl time.Duration) *Claims {
	return &Claims{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *Claims) key(fingerprint string) string {
	return fmt.Sprintf("%s:claim:%s", c.prefix, fingerprint)
}

// Claim marks fingerprint as in flight, owned by owner.
// Returns false when another owner already holds it.
func (c *Claims) Claim(ctx context.Context, fingerprint, owner string) (bool, error) {
	ok, err := c.client.Redis().SetNX(ctx, c.key(fingerprint), owner, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim fingerprint: %w", err)
	}
	return ok, nil
}

// Owner returns the current holder of fingerprint, or "" when free
func (c *Claims) Owner(ctx context.Context, fingerprint string) (string, error) {
	v, err := c.client.Redis().Get(ctx, c.key(fingerprint)).Result()
	if err != nil {
		if isNil(err) {
			return "", nil
		}
		return "", fmt.Errorf("read claim: %w", err)
	}
	return v, nil
}

// Release drops the claim only if owner still holds it
func (c *Claims) Release(ctx context.Context, fingerprint, owner string) error {
	_, err := releaseScript.Run(ctx, c.client.Redis(), []string{c.key(fingerprint)}, owner).Result()
	if err != nil && !isNil(err) {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

var releaseScript = goredis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

func isNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}
