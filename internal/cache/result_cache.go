package cache

import (
	"sync"
	"time"

	"github.com/iago/autoconnect-pipeline/internal/domain"
)

// LatestKey caches the shared latest report.
const LatestKey = "latest"

type Config struct {
	TTL        time.Duration
	MaxEntries int
}

type entry struct {
	value     *domain.AggregatedResult
	createdAt time.Time
	expiresAt time.Time
}

// ResultCache keeps recently read reports in memory so dashboard polling
// does not hit the store on every request. Cached values are shared and
// must be treated as read-only.
type ResultCache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func NewResultCache(config Config) *ResultCache {
	if config.TTL <= 0 {
		config.TTL = 2 * time.Second
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 256
	}
	return &ResultCache{
		entries:    make(map[string]entry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (c *ResultCache) Get(key string) (*domain.AggregatedResult, bool) {
	c.mu.RLock()
	cached, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if c.now().After(cached.expiresAt) {
		c.Invalidate(key)
		return nil, false
	}
	return cached.value, true
}

func (c *ResultCache) Set(key string, value *domain.AggregatedResult) {
	if value == nil {
		return
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = entry{value: value, createdAt: now, expiresAt: now.Add(c.ttl)}
}

func (c *ResultCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ResultCache) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for key, cached := range c.entries {
		if !found || cached.createdAt.Before(oldest) {
			oldestKey, oldest, found = key, cached.createdAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}
