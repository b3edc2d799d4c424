package jwks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/coffeeshop-go/storage"
)

// CacheNamespace is the storage namespace holding cached key sets.
const CacheNamespace = "jwks"

// MaxCacheTTL bounds how long a key removed from the published set can keep
// verifying tokens out of the cache.
const MaxCacheTTL = 10 * time.Minute

// CachingProvider serves a key set from storage for up to ttl and falls
// back to the wrapped provider on a miss. Fetch failures are never cached.
type CachingProvider struct {
	next  Provider
	store storage.Storage
	key   string
	ttl   time.Duration
	log   *slog.Logger
}

// NewCachingProvider wraps next. key identifies the issuer in the cache,
// typically its domain.
func NewCachingProvider(next Provider, store storage.Storage, key string, ttl time.Duration, log *slog.Logger) (*CachingProvider, error) {
	if next == nil {
		return nil, fmt.Errorf("jwks: provider is required")
	}
	if store == nil {
		return nil, fmt.Errorf("jwks: storage is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("jwks: cache ttl must be positive")
	}
	if ttl > MaxCacheTTL {
		return nil, fmt.Errorf("jwks: cache ttl %s exceeds %s", ttl, MaxCacheTTL)
	}
	if log == nil {
		log = slog.Default()
	}
	return &CachingProvider{next: next, store: store, key: key, ttl: ttl, log: log}, nil
}

// KeySet returns the cached set when present, otherwise fetches and stores it.
func (c *CachingProvider) KeySet(ctx context.Context) (*KeySet, error) {
	item, err := c.store.Get(ctx, c.key, storage.WithNamespace(CacheNamespace))
	if err != nil {
		// A broken cache degrades to a direct fetch.
		c.log.WarnContext(ctx, "jwks.cache.get.fail", slog.String("err", err.Error()))
	} else if item != nil {
		var set KeySet
		if err := json.Unmarshal(item.Data, &set); err == nil {
			return &set, nil
		}
		c.log.WarnContext(ctx, "jwks.cache.decode.fail")
	}
	return c.Refresh(ctx)
}

// Refresh bypasses the cache and replaces its entry with a fresh fetch.
func (c *CachingProvider) Refresh(ctx context.Context) (*KeySet, error) {
	set, err := c.next.KeySet(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("jwks: encode key set: %w", err)
	}
	if err := c.store.Set(ctx, c.key, data, storage.WithNamespace(CacheNamespace), storage.WithTTL(c.ttl)); err != nil {
		c.log.WarnContext(ctx, "jwks.cache.set.fail", slog.String("err", err.Error()))
	}
	return set, nil
}

var (
	_ Provider  = (*CachingProvider)(nil)
	_ Refresher = (*CachingProvider)(nil)
)
