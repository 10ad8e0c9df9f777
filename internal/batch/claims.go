package batch

import (
	"context"
	"sync"
)

// Claimer grants exclusive ownership of a fingerprint while its job is in flight
type Claimer interface {
	// Claim returns false when another owner holds fingerprint
	Claim(ctx context.Context, fingerprint, owner string) (bool, error)
	// Release drops the claim if owner still holds it
	Release(ctx context.Context, fingerprint, owner string) error
}

// OwnerReader is implemented by claimers that can name the current holder of a fingerprint
type OwnerReader interface {
	// Owner returns "" when fingerprint is free
	Owner(ctx context.Context, fingerprint string) (string, error)
}

// MemoryClaims is a process-local Claimer
type MemoryClaims struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewMemoryClaims creates an empty claim set
func NewMemoryClaims() *MemoryClaims {
	return &MemoryClaims{owners: make(map[string]string)}
}

// Claim implements Claimer
func (c *MemoryClaims) Claim(_ context.Context, fingerprint, owner string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, held := c.owners[fingerprint]; held {
		return false, nil
	}
	c.owners[fingerprint] = owner
	return true, nil
}

// Release implements Claimer
func (c *MemoryClaims) Release(_ context.Context, fingerprint, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.owners[fingerprint] == owner {
		delete(c.owners, fingerprint)
	}
	return nil
}

// Owner implements OwnerReader
func (c *MemoryClaims) Owner(_ context.Context, fingerprint string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owners[fingerprint], nil
}
