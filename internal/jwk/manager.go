package jwk

import (
	"context"
	"fmt"
	"time"

	"github.com/keksclan/coffeeshop/internal/cache"
	"golang.org/x/sync/singleflight"
)

// DefaultMinRefreshInterval is how long a refresh triggered by an unknown
// kid suppresses further such refreshes for the same URL.
const DefaultMinRefreshInterval = 30 * time.Second

// Manager resolves key sets for a JWKS URL, optionally caching them.
//
// With a zero TTL every call performs a fresh fetch. With a positive TTL the
// set is cached per URL and concurrent misses share one fetch. A kid missing
// from the cached set forces a refetch at most once per MinRefreshInterval.
//
// Concurrency: safe for concurrent use if the Cache is.
type Manager struct {
	cache   cache.Cache
	fetcher Fetcher
	ttl     time.Duration
	sfGroup singleflight.Group

	// MinRefreshInterval throttles unknown-kid refetches. Zero disables the
	// throttle.
	MinRefreshInterval time.Duration
}

func NewManager(f Fetcher, c cache.Cache, ttl time.Duration) *Manager {
	if ttl < 0 {
		ttl = 0
	}
	return &Manager{cache: c, fetcher: f, ttl: ttl, MinRefreshInterval: DefaultMinRefreshInterval}
}

// Caching reports whether fetched sets are retained between calls.
func (m *Manager) Caching() bool { return m.ttl > 0 && m.cache != nil }

// KeySet returns the key set for jwksURL, from cache when possible.
func (m *Manager) KeySet(ctx context.Context, jwksURL string) (*KeySet, error) {
	if !m.Caching() {
		return m.fetcher.Fetch(ctx, jwksURL)
	}
	if set, ok := m.cached(jwksURL); ok {
		return set, nil
	}
	return m.refresh(ctx, jwksURL, false)
}

// Lookup resolves kid against the key set for jwksURL. A cached set that does
// not know kid is refreshed so rotated keys are picked up, unless another
// such refresh happened within MinRefreshInterval.
func (m *Manager) Lookup(ctx context.Context, jwksURL, kid string) (Record, error) {
	if m.Caching() {
		if set, ok := m.cached(jwksURL); ok {
			if rec, ok := set.Lookup(kid); ok {
				return rec, nil
			}
			if m.recentlyRefreshed(jwksURL) {
				return lookup(set, kid)
			}
			set, err := m.refresh(ctx, jwksURL, true)
			if err != nil {
				return Record{}, err
			}
			return lookup(set, kid)
		}
	}
	set, err := m.KeySet(ctx, jwksURL)
	if err != nil {
		return Record{}, err
	}
	return lookup(set, kid)
}

func lookup(set *KeySet, kid string) (Record, error) {
	rec, ok := set.Lookup(kid)
	if !ok {
		return Record{}, fmt.Errorf("%w: kid=%s", ErrKeyNotFound, kid)
	}
	return rec, nil
}

func (m *Manager) cached(jwksURL string) (*KeySet, bool) {
	val, ok := m.cache.Get(cacheKey(jwksURL))
	if !ok {
		return nil, false
	}
	set, ok := val.(*KeySet)
	return set, ok && set != nil
}

func (m *Manager) recentlyRefreshed(jwksURL string) bool {
	if m.MinRefreshInterval <= 0 {
		return false
	}
	_, ok := m.cache.Get(refreshedKey(jwksURL))
	return ok
}

// refresh fetches the set, sharing the request among concurrent callers.
// The fetch runs detached from any one caller's cancellation and is bounded
// by the fetcher's own timeout; each caller stops waiting when its ctx ends.
func (m *Manager) refresh(ctx context.Context, jwksURL string, force bool) (*KeySet, error) {
	key := jwksURL
	if force {
		key = "force:" + jwksURL
	}
	fetchCtx := context.WithoutCancel(ctx)
	ch := m.sfGroup.DoChan(key, func() (any, error) {
		if !force {
			if set, ok := m.cached(jwksURL); ok {
				return set, nil
			}
		}
		set, err := m.fetcher.Fetch(fetchCtx, jwksURL)
		if err != nil {
			return nil, err
		}
		m.cache.Set(cacheKey(jwksURL), set, 1, m.ttl)
		if force && m.MinRefreshInterval > 0 {
			m.cache.Set(refreshedKey(jwksURL), struct{}{}, 1, m.MinRefreshInterval)
		}
		// ristretto applies sets asynchronously
		if w, ok := m.cache.(interface{ Wait() }); ok {
			w.Wait()
		}
		return set, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	set, ok := res.Val.(*KeySet)
	if !ok {
		return nil, fmt.Errorf("unexpected singleflight result type %T for jwksURL=%s", res.Val, jwksURL)
	}
	return set, nil
}

func cacheKey(jwksURL string) string { return "jwks:" + jwksURL }

func refreshedKey(jwksURL string) string { return "jwks:refreshed:" + jwksURL }
