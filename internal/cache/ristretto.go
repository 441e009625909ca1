package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// RistrettoCache is a Cache backed by ristretto. Sets are applied
// asynchronously; call Wait when a read must observe a preceding write.
type RistrettoCache struct {
	cache *ristretto.Cache
}

// NewKeySetCache sizes a cache for a handful of key sets, one per
// JWKS URL, each costing 1. Costs are taken as given, without ristretto's
// per-item overhead, so maxSets entries always fit.
func NewKeySetCache(maxSets int64) (*RistrettoCache, error) {
	if maxSets <= 0 {
		maxSets = 16
	}
	return NewRistrettoCache(maxSets*10, maxSets, 64)
}

func NewRistrettoCache(numCounters, maxCost, bufferItems int64) (*RistrettoCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        numCounters,
		MaxCost:            maxCost,
		BufferItems:        bufferItems,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return &RistrettoCache{cache: c}, nil
}

func (r *RistrettoCache) Get(key string) (any, bool) { return r.cache.Get(key) }

func (r *RistrettoCache) Set(key string, value any, cost int64, ttl time.Duration) bool {
	return r.cache.SetWithTTL(key, value, cost, ttl)
}

func (r *RistrettoCache) Del(key string) { r.cache.Del(key) }

func (r *RistrettoCache) Wait() { r.cache.Wait() }

func (r *RistrettoCache) Close() { r.cache.Close() }
