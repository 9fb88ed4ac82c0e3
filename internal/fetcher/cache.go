package fetcher

import (
	"sync"
	"time"

	"github.com/TwiN/gocache/v2"

	"github.com/inahga/trustfed/internal/entityid"
	"github.com/inahga/trustfed/internal/statement"
)

// statementCache is the fetcher's in-memory, per-run statement cache, keyed
// by (iss, sub) (§4.1 Caching). It wraps TwiN/gocache's TTL-bounded store;
// entries carry their own exp, so the TTL handed to gocache is whichever is
// sooner: the statement's exp, or the configured default.
type statementCache struct {
	mu          sync.Mutex
	cache       *gocache.Cache
	defaultTTL  time.Duration
}

func newStatementCache(defaultTTL time.Duration) *statementCache {
	return &statementCache{
		cache:      gocache.NewCache().WithMaxSize(0), // 0 == unbounded, TTL governs eviction
		defaultTTL: defaultTTL,
	}
}

func cacheKey(iss, sub entityid.ID) string {
	return string(iss) + "|" + string(sub)
}

func (c *statementCache) get(iss, sub entityid.ID) (*statement.Statement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache.Get(cacheKey(iss, sub))
	if !ok {
		return nil, false
	}
	s, ok := v.(*statement.Statement)
	return s, ok
}

func (c *statementCache) put(s *statement.Statement) {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 || ttl > c.defaultTTL {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.SetWithTTL(cacheKey(s.Issuer, s.Subject), s, ttl)
}
