// Package cache stores generation results for repeated identical requests.
// It supports both in-memory (single instance) and Redis (distributed) backends.
// Both evict in insertion order once the capacity is reached.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/felipepmaragno/model-router/internal/domain"
)

const (
	DefaultTTL      = time.Hour
	DefaultCapacity = 100
)

// Cache defines the interface for response caching backends.
type Cache interface {
	Get(ctx context.Context, key string) (*domain.GenerationResult, bool)
	Set(ctx context.Context, key string, result *domain.GenerationResult, ttl time.Duration) error
}

// GenerateCacheKey derives the key from the request content. The user ID
// only takes part when byUser is set; the request ID never does.
func GenerateCacheKey(req domain.GenerationRequest, byUser bool) string {
	key := struct {
		Prompt          string            `json:"prompt"`
		Instruction     string            `json:"instruction,omitempty"`
		Language        string            `json:"language,omitempty"`
		Phase           string            `json:"phase,omitempty"`
		Params          map[string]string `json:"params,omitempty"`
		MaxOutputTokens int               `json:"max_output_tokens,omitempty"`
		UserID          string            `json:"user_id,omitempty"`
	}{
		Prompt:          req.Prompt,
		Instruction:     req.Instruction,
		Language:        req.Language,
		Phase:           req.Phase,
		Params:          req.Params,
		MaxOutputTokens: req.MaxOutputTokens,
	}
	if byUser {
		key.UserID = req.UserID
	}

	// encoding/json sorts map keys, so Params hashes deterministically.
	data, _ := json.Marshal(key)

	hash := sha256.Sum256(data)
	return "cache:" + hex.EncodeToString(hash[:])
}

type InMemoryCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
	now      func() time.Time
}

// Entries are cloned on the way in and out so callers never share
// structured fields with the stored copy.
type cacheItem struct {
	key       string
	result    *domain.GenerationResult
	expiresAt time.Time
}

// NewInMemoryCache creates a cache holding at most capacity entries.
// A non-positive capacity falls back to DefaultCapacity.
func NewInMemoryCache(capacity int) *InMemoryCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &InMemoryCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

func (c *InMemoryCache) Get(ctx context.Context, key string) (*domain.GenerationResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}

	item := elem.Value.(*cacheItem)
	if !c.now().Before(item.expiresAt) {
		c.remove(elem)
		return nil, false
	}

	return item.result.Clone(), true
}

// Set stores result under key. Overwriting a key moves it to the back of the
// eviction order as if it were new.
func (c *InMemoryCache) Set(ctx context.Context, key string, result *domain.GenerationResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.items[key]; ok {
		c.remove(elem)
	}

	c.purgeExpired(now)
	for c.order.Len() >= c.capacity {
		c.remove(c.order.Front())
	}

	c.items[key] = c.order.PushBack(&cacheItem{
		key:       key,
		result:    result.Clone(),
		expiresAt: now.Add(ttl),
	})

	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *InMemoryCache) purgeExpired(now time.Time) {
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if !now.Before(elem.Value.(*cacheItem).expiresAt) {
			c.remove(elem)
		}
		elem = next
	}
}

func (c *InMemoryCache) remove(elem *list.Element) {
	item := c.order.Remove(elem).(*cacheItem)
	delete(c.items, item.key)
}
