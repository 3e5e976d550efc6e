package enricher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pucknotes/note-discovery/internal/discovery"
	"github.com/pucknotes/note-discovery/internal/notes"
	pkgredis "github.com/pucknotes/note-discovery/pkg/redis"
)

// Cache is one session's SectionCache. Entries are only ever added; an id
// already present keeps its first value.
type Cache struct {
	mu       sync.RWMutex
	sections map[string]notes.Section
}

func NewCache() *Cache {
	return &Cache{sections: make(map[string]notes.Section)}
}

func (c *Cache) Lookup(id string) (notes.Section, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sec, ok := c.sections[id]
	return sec, ok
}

func (c *Cache) put(sec notes.Section) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sections[sec.ID]; !ok {
		c.sections[sec.ID] = sec
	}
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sections)
}

// Snapshot copies the cache so filtering can read it without locks.
func (c *Cache) Snapshot() discovery.Sections {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(discovery.Sections, len(c.sections))
	for id, sec := range c.sections {
		out[id] = sec
	}
	return out
}

// SharedCache is the cross-session tier. Implementations swallow their own
// errors; a failed lookup is a miss.
type SharedCache interface {
	Get(ctx context.Context, id string) (notes.Section, bool)
	Set(ctx context.Context, sec notes.Section)
}

const keyPrefix = "section:"

// RedisCache stores sections in Redis under section:<id>.
type RedisCache struct {
	client *pkgredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(client *pkgredis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: slog.Default().With("component", "section-cache"),
	}
}

func (r *RedisCache) Get(ctx context.Context, id string) (notes.Section, bool) {
	var sec notes.Section
	found, err := r.client.GetJSON(ctx, keyPrefix+id, &sec)
	if err != nil {
		r.logger.Error("cache get failed", "section", id, "error", err)
		return notes.Section{}, false
	}
	return sec, found
}

func (r *RedisCache) Set(ctx context.Context, sec notes.Section) {
	if err := r.client.SetJSON(ctx, keyPrefix+sec.ID, sec, r.ttl); err != nil {
		r.logger.Error("cache set failed", "section", sec.ID, "error", err)
	}
}

// Invalidate drops every shared section entry.
func (r *RedisCache) Invalidate(ctx context.Context) (int64, error) {
	return r.client.FlushByPattern(ctx, keyPrefix+"*")
}
