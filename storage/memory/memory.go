// Package memory provides an in-memory implementation of the storage interface
// using github.com/hashicorp/golang-lru/v2 for efficient caching with TTL support.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/coffeeshop-go/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Storage implements the storage.Storage interface using in-memory storage
type Storage struct {
	mu       sync.RWMutex
	cache    *lru.Cache[string, *storage.StorageItem]
	counters map[string]int64
	done     chan struct{}
	once     sync.Once
}

// New creates a new in-memory storage implementation
func New(maxItems int) (*Storage, error) {
	cache, err := lru.New[string, *storage.StorageItem](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Storage{
		cache:    cache,
		counters: make(map[string]int64),
		done:     make(chan struct{}),
	}

	// Start background cleanup of expired items
	go s.cleanupExpired(5 * time.Minute)

	return s, nil
}

// Get retrieves data for a specific key within the given namespace
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.StorageItem, error) {
	options := storage.Apply(opts...)
	storageKey := buildKey(options.Namespace, key)

	s.mu.RLock()
	item, exists := s.cache.Get(storageKey)
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}

	if item.IsExpired() {
		s.mu.Lock()
		s.cache.Remove(storageKey)
		s.mu.Unlock()
		return nil, nil
	}

	out := *item
	out.Data = append([]byte(nil), item.Data...)
	return &out, nil
}

// Set stores data for a specific key within the given namespace
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	storageKey := buildKey(options.Namespace, key)

	now := time.Now()
	item := &storage.StorageItem{
		Data:      make([]byte, len(data)),
		CreatedAt: now,
	}
	copy(item.Data, data)

	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	s.cache.Add(storageKey, item)
	s.mu.Unlock()

	return nil
}

// Delete removes data within the given namespace
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if options.Key != nil {
		s.cache.Remove(buildKey(options.Namespace, *options.Key))
		return nil
	}

	prefix := namespacePrefix(options.Namespace)
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Remove(key)
		}
	}
	for key := range s.counters {
		if strings.HasPrefix(key, prefix) {
			delete(s.counters, key)
		}
	}
	return nil
}

// List returns the live keys of a namespace.
func (s *Storage) List(ctx context.Context, opts ...storage.Option) ([]string, error) {
	options := storage.Apply(opts...)
	prefix := namespacePrefix(options.Namespace)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for _, key := range s.cache.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if item, ok := s.cache.Peek(key); ok && !item.IsExpired() {
			keys = append(keys, strings.TrimPrefix(key, prefix))
		}
	}
	return keys, nil
}

// Incr increments and returns the named counter. Counters are kept outside
// of the LRU so they are never evicted.
func (s *Storage) Incr(ctx context.Context, key string, opts ...storage.Option) (int64, error) {
	options := storage.Apply(opts...)
	counterKey := buildKey(options.Namespace, "counter:"+key)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[counterKey]++
	return s.counters[counterKey], nil
}

// Close closes the storage backend and releases resources
func (s *Storage) Close() error {
	s.once.Do(func() { close(s.done) })
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

func buildKey(namespace, key string) string {
	return namespacePrefix(namespace) + key
}

func namespacePrefix(namespace string) string {
	if namespace == "" {
		return "global:key:"
	}
	return "ns:" + strconv.Quote(namespace) + ":key:"
}

// cleanupExpired periodically drops expired items until Close is called.
func (s *Storage) cleanupExpired(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		now := time.Now()
		for _, key := range s.cache.Keys() {
			if item, exists := s.cache.Peek(key); exists {
				if item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
					s.cache.Remove(key)
				}
			}
		}
		s.mu.Unlock()
	}
}

var (
	_ storage.Storage = (*Storage)(nil)
	_ storage.Counter = (*Storage)(nil)
)
