package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/TheraGate/internal/domain/webhook"
	"github.com/Strob0t/TheraGate/internal/port/cache"
)

const capabilityKeyPrefix = "caps."

// CapabilityCache keeps the connected-account capability flags written by
// account.updated handling, so readers do not call the billing API.
type CapabilityCache struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewCapabilityCache wraps c. A non-positive ttl means entries never expire.
func NewCapabilityCache(c cache.Cache, ttl time.Duration) *CapabilityCache {
	return &CapabilityCache{cache: c, ttl: ttl}
}

// Store caches caps under its account id.
func (c *CapabilityCache) Store(ctx context.Context, caps *webhook.Capabilities) error {
	data, err := json.Marshal(caps)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	return c.cache.Set(ctx, capabilityKeyPrefix+caps.AccountID, data, c.ttl)
}

// Get returns the cached capabilities, or false on a miss.
func (c *CapabilityCache) Get(ctx context.Context, accountID string) (*webhook.Capabilities, bool, error) {
	data, ok, err := c.cache.Get(ctx, capabilityKeyPrefix+accountID)
	if err != nil || !ok {
		return nil, false, err
	}
	var caps webhook.Capabilities
	if err := json.Unmarshal(data, &caps); err != nil {
		return nil, false, fmt.Errorf("decode cached capabilities for %s: %w", accountID, err)
	}
	return &caps, true, nil
}

// Evict drops the account's entry.
func (c *CapabilityCache) Evict(ctx context.Context, accountID string) error {
	return c.cache.Delete(ctx, capabilityKeyPrefix+accountID)
}
