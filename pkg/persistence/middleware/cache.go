package middleware

import (
	"context"
	"time"

	"github.com/aretw0/guardrail/pkg/ports"
	gocache "github.com/patrickmn/go-cache"
)

// DefaultCacheTTL is how long a loaded session stays cached.
const DefaultCacheTTL = 5 * time.Minute

type cacheMiddleware struct {
	next  ports.StateStore
	cache *gocache.Cache
}

// NewCacheMiddleware keeps recently saved or loaded sessions in process
// memory. Writes go through to the wrapped store first; the cache is only
// updated once they succeed. A ttl <= 0 uses DefaultCacheTTL.
//
// The cache is local to the process: with several replicas sharing one
// store, pair it with a distributed locker and a short ttl.
func NewCacheMiddleware(ttl time.Duration) Middleware {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return func(next ports.StateStore) ports.StateStore {
		return &cacheMiddleware{
			next:  next,
			cache: gocache.New(ttl, 2*ttl),
		}
	}
}

func (m *cacheMiddleware) Save(ctx context.Context, sessionID string, data []byte) error {
	if err := m.next.Save(ctx, sessionID, data); err != nil {
		m.cache.Delete(sessionID)
		return err
	}
	m.cache.SetDefault(sessionID, clone(data))
	return nil
}

func (m *cacheMiddleware) Load(ctx context.Context, sessionID string) ([]byte, error) {
	if v, ok := m.cache.Get(sessionID); ok {
		return clone(v.([]byte)), nil
	}
	data, err := m.next.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	m.cache.SetDefault(sessionID, clone(data))
	return data, nil
}

func (m *cacheMiddleware) Delete(ctx context.Context, sessionID string) error {
	m.cache.Delete(sessionID)
	return m.next.Delete(ctx, sessionID)
}

func (m *cacheMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
