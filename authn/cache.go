package authn

import (
	"context"
	"sync"

	"github.com/tenantry/authkit/oidc"
)

// IdentityCache caches resolved identities by subject so authenticating a
// request doesn't cost a userinfo round-trip every time. Implementations may
// be backed by asynchronous storage. Get returns (nil, nil) on a miss.
type IdentityCache interface {
	Get(ctx context.Context, subject string) (*oidc.IdentityClaims, error)
	Set(ctx context.Context, subject string, identity *oidc.IdentityClaims) error
}

// MemoryCache is an in-process IdentityCache.
type MemoryCache struct {
	mu     sync.RWMutex
	values map[string]*oidc.IdentityClaims
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		values: map[string]*oidc.IdentityClaims{},
	}
}

func (c *MemoryCache) Get(_ context.Context, subject string) (*oidc.IdentityClaims, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[subject], nil
}

func (c *MemoryCache) Set(_ context.Context, subject string, identity *oidc.IdentityClaims) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[subject] = identity
	return nil
}
