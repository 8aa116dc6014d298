package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultCacheMaxSize = 256
	defaultCacheTTL     = 5 * time.Minute
)

// CacheConfig configures the reply cache.
type CacheConfig struct {
	// MaxSize is the maximum number of cached replies.
	MaxSize int
	// TTL is how long a cached reply remains valid.
	TTL time.Duration
}

type cacheEntry struct {
	reply    string
	storedAt time.Time
}

// CachedGenerator memoizes successful replies by prompt. Errors are never
// cached.
type CachedGenerator struct {
	delegate Generator
	cache    *lru.Cache[string, cacheEntry]
	ttl      time.Duration
	now      func() time.Time
}

var _ Generator = (*CachedGenerator)(nil)

// NewCachedGenerator wraps delegate with an LRU reply cache. Zero config
// values fall back to defaults.
func NewCachedGenerator(delegate Generator, cfg CacheConfig) *CachedGenerator {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultCacheMaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	// lru.New only errors on non-positive size, guarded above.
	cache, _ := lru.New[string, cacheEntry](cfg.MaxSize)
	return &CachedGenerator{
		delegate: delegate,
		cache:    cache,
		ttl:      cfg.TTL,
		now:      time.Now,
	}
}

// GenerateReply returns a cached reply younger than the TTL or asks the
// delegate.
func (c *CachedGenerator) GenerateReply(ctx context.Context, prompt string) (string, error) {
	key := cacheKey(prompt)
	if entry, ok := c.cache.Get(key); ok {
		if c.now().Sub(entry.storedAt) < c.ttl {
			return entry.reply, nil
		}
		c.cache.Remove(key)
	}

	reply, err := c.delegate.GenerateReply(ctx, prompt)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, cacheEntry{reply: reply, storedAt: c.now()})
	return reply, nil
}

// Len reports the number of cached replies.
func (c *CachedGenerator) Len() int {
	return c.cache.Len()
}

func cacheKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
