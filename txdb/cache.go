// Copyright (c) 2025-2026 The utxokit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txdb

import (
	"errors"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"
)

// defaultCoinCacheSize is the default capacity of the coin cache, measured in
// credits.
const defaultCoinCacheSize = 10000

// cachedCredit wraps a credit for the lru cache.  Each entry counts as one
// unit of capacity.
type cachedCredit struct {
	credit *Credit
}

// Size returns the number of cache capacity units the entry occupies.
//
// This is part of the cache.Value interface.
func (c *cachedCredit) Size() (uint64, error) {
	return 1, nil
}

// coinCache caches credits by funding outpoint so the input loop of repeated
// inserts does not hit the database for every lookup.
//
// While a batch is active, writes are staged in a pending layer instead of
// the shared lru so that an aborted batch leaves the cache untouched.  A nil
// pending entry is a tombstone marking the credit as deleted within the
// batch.  Staged entries are authoritative: a pending hit (including a
// tombstone) must not fall through to the database, which still holds the
// pre-batch value.
type coinCache struct {
	lru     *lru.Cache[wire.OutPoint, *cachedCredit]
	pending map[wire.OutPoint]*Credit
	batch   bool
}

func newCoinCache(capacity uint64) *coinCache {
	return &coinCache{
		lru: lru.NewCache[wire.OutPoint, *cachedCredit](capacity),
	}
}

// get returns the cached credit for the outpoint.  The second return value
// reports whether the cache has authoritative knowledge: when true with a nil
// credit, the credit is known to not exist.
func (c *coinCache) get(op wire.OutPoint) (*Credit, bool) {
	if c.batch {
		if credit, ok := c.pending[op]; ok {
			return credit, true
		}
	}
	entry, err := c.lru.Get(op)
	if err != nil {
		if !errors.Is(err, cache.ErrElementNotFound) {
			log.Warnf("Coin cache lookup for %v: %v", op, err)
		}
		return nil, false
	}
	return entry.credit, true
}

// put records the credit for the outpoint, staging it while a batch is
// active.
func (c *coinCache) put(op wire.OutPoint, credit *Credit) {
	if c.batch {
		c.pending[op] = credit
		return
	}
	if _, err := c.lru.Put(op, &cachedCredit{credit: credit}); err != nil {
		log.Warnf("Coin cache store for %v: %v", op, err)
	}
}

// del marks the credit as deleted.  Within a batch this stages a tombstone;
// outside a batch the entry is simply evicted.
func (c *coinCache) del(op wire.OutPoint) {
	if c.batch {
		c.pending[op] = nil
		return
	}
	c.lru.Delete(op)
}

// begin starts staging writes for a batch.
func (c *coinCache) begin() {
	c.pending = make(map[wire.OutPoint]*Credit)
	c.batch = true
}

// commit flushes the staged layer into the shared lru.
func (c *coinCache) commit() {
	for op, credit := range c.pending {
		if credit == nil {
			c.lru.Delete(op)
			continue
		}
		if _, err := c.lru.Put(op, &cachedCredit{credit: credit}); err != nil {
			log.Warnf("Coin cache store for %v: %v", op, err)
		}
	}
	c.pending = nil
	c.batch = false
}

// drop discards the staged layer.
func (c *coinCache) drop() {
	c.pending = nil
	c.batch = false
}
