package cache

import (
	"context"
	"time"

	"github.com/celer-network/oracle-updater/types"
	"github.com/ethereum/go-ethereum/common"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// ReadFunc reads on-chain values for the given feeds.
type ReadFunc func(ctx context.Context, ids []common.Hash) (map[common.Hash]types.PriceValue, error)

type entry struct {
	value     types.PriceValue
	fetchedAt time.Time
}

// OnChainCache caches on-chain feed values for a bounded time. Every batch has
// a generation counter that Invalidate bumps, so readers can tell whether the
// data they hold predates a confirmed write.
type OnChainCache struct {
	ttl         time.Duration
	entries     cmap.ConcurrentMap[string, entry]
	generations cmap.ConcurrentMap[string, uint64]
}

// New returns a cache. A zero ttl disables caching but keeps generations.
func New(ttl time.Duration) *OnChainCache {
	return &OnChainCache{
		ttl:         ttl,
		entries:     cmap.New[entry](),
		generations: cmap.New[uint64](),
	}
}

func feedKey(chain string, id common.Hash) string {
	return chain + "|" + id.Hex()
}

func batchKey(chain, batchID string) string {
	return chain + "|" + batchID
}

// Generation returns the current generation of a batch.
func (c *OnChainCache) Generation(chain, batchID string) uint64 {
	g, _ := c.generations.Get(batchKey(chain, batchID))
	return g
}

// Get returns a cached value younger than the ttl.
func (c *OnChainCache) Get(chain string, id common.Hash, now time.Time) (types.PriceValue, bool) {
	if c.ttl <= 0 {
		return types.PriceValue{}, false
	}
	e, ok := c.entries.Get(feedKey(chain, id))
	if !ok || now.Sub(e.fetchedAt) >= c.ttl {
		return types.PriceValue{}, false
	}
	return e.value, true
}

func (c *OnChainCache) put(chain string, id common.Hash, v types.PriceValue, now time.Time) {
	if c.ttl <= 0 {
		return
	}
	c.entries.Set(feedKey(chain, id), entry{value: v, fetchedAt: now})
}

// Read serves the batch's feeds from cache and reads the rest through fn. It
// returns the generation the values belong to. Values read while an
// invalidation raced the call are returned but not cached.
func (c *OnChainCache) Read(ctx context.Context, chain string, batch *types.Batch, now time.Time, fn ReadFunc) (map[common.Hash]types.PriceValue, uint64, error) {
	gen := c.Generation(chain, batch.ID)

	values := make(map[common.Hash]types.PriceValue, len(batch.Feeds))
	var missing []common.Hash
	for _, id := range batch.FeedIDs() {
		if v, ok := c.Get(chain, id, now); ok {
			values[id] = v
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return values, gen, nil
	}

	fetched, err := fn(ctx, missing)
	if err != nil {
		return nil, gen, err
	}
	cacheable := c.Generation(chain, batch.ID) == gen
	for id, v := range fetched {
		values[id] = v
		if cacheable {
			c.put(chain, id, v, now)
		}
	}
	return values, gen, nil
}

// Invalidate drops every cached value of the batch and bumps its generation.
func (c *OnChainCache) Invalidate(chain string, batch *types.Batch) uint64 {
	for _, id := range batch.FeedIDs() {
		c.entries.Remove(feedKey(chain, id))
	}
	gen := c.generations.Upsert(batchKey(chain, batch.ID), 1, func(exist bool, old, _ uint64) uint64 {
		if exist {
			return old + 1
		}
		return 1
	})
	return gen
}
