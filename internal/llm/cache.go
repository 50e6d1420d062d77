package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Factory builds a client for an auth token.
type Factory func(token string) (Client, error)

// ClientCache keeps one client per auth token for ttl after its last use.
type ClientCache struct {
	factory Factory
	ttl     time.Duration
	items   *cache.Cache
	mu      sync.Mutex
}

// NewClientCache creates a cache that builds missing clients with factory.
func NewClientCache(ttl time.Duration, factory Factory) *ClientCache {
	return &ClientCache{
		factory: factory,
		ttl:     ttl,
		items:   cache.New(ttl, ttl*2),
	}
}

// Get returns the cached client for token, creating it on a miss.
func (c *ClientCache) Get(token string) (Client, error) {
	key := cacheKey(token)
	if v, ok := c.items.Get(key); ok {
		c.items.Set(key, v, c.ttl)
		return v.(Client), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.items.Get(key); ok {
		return v.(Client), nil
	}

	client, err := c.factory(token)
	if err != nil {
		return nil, fmt.Errorf("ClientCache.Get: build client: %w", err)
	}
	c.items.Set(key, client, c.ttl)
	return client, nil
}

// Len returns the number of live cached clients.
func (c *ClientCache) Len() int { return c.items.ItemCount() }

// Flush drops every cached client.
func (c *ClientCache) Flush() { c.items.Flush() }

// cacheKey hashes token so raw credentials are not kept as keys.
func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
