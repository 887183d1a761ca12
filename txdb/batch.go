// Copyright (c) 2025-2026 The utxokit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txdb

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/utxokit/wtxdb/kvdb"
)

// txBatch collects every effect of a single mutating operation: the staged
// key-value writes, a shadow copy of the running counters, and the
// notifications to deliver once the batch lands.  Either the whole batch
// commits or none of it does.
type txBatch struct {
	kv kvdb.Batch

	// state is the shadow of the running counters.  Operations mutate
	// this copy; the store's counters are only swapped on commit.
	state State

	// events are delivered after a successful commit and discarded
	// otherwise.
	events []queuedEvent

	// markers overlays spender markers staged in this batch over the
	// committed ones, so reads within the batch observe its own writes.
	// A nil entry records a staged deletion.
	markers map[wire.OutPoint]*spender

	// blocks overlays block records the same way, keyed by height.
	blocks map[int32]*blockRecord

	// erased tracks transactions erased by this batch, guarding cascades
	// that can reach the same record along multiple spend paths.
	erased map[chainhash.Hash]struct{}

	// relevant is set once the operation stages a change worth keeping.
	// An operation that finishes with relevant still false drops the
	// batch without writing.
	relevant bool
}

// beginBatch starts a new batch seeded with the current counters and puts
// the coin cache into staging mode.  The store mutex must be held.
func (s *Store) beginBatch() (*txBatch, error) {
	kv, err := s.db.Batch()
	if err != nil {
		return nil, storeError(ErrDatabase, "failed to begin batch", err)
	}
	s.cache.begin()
	return &txBatch{
		kv:      kv,
		state:   s.state,
		markers: make(map[wire.OutPoint]*spender),
		blocks:  make(map[int32]*blockRecord),
		erased:  make(map[chainhash.Hash]struct{}),
	}, nil
}

// commitBatch persists the batch.  The counters are written under their own
// key so a reopened store resumes with the exact values the batch left
// behind.  On success the in-memory counters and the coin cache are updated
// and queued notifications fire; on failure everything staged is discarded
// and the database is untouched.
func (s *Store) commitBatch(b *txBatch) error {
	b.kv.Put(rootStateKey, valueState(&b.state))
	if err := b.kv.Write(); err != nil {
		s.dropBatch(b)
		return storeError(ErrDatabase, "failed to commit batch", err)
	}

	s.stateMu.Lock()
	s.state = b.state
	s.stateMu.Unlock()
	s.cache.commit()

	s.notify(b.events)
	return nil
}

// dropBatch discards the batch and everything staged with it.
func (s *Store) dropBatch(b *txBatch) {
	b.kv.Reset()
	b.events = nil
	s.cache.drop()
}

// queueTx stages a transaction notification.
func (b *txBatch) queueTx(kind eventKind, rec *TxRecord) {
	b.events = append(b.events, queuedEvent{kind: kind, details: &TxDetails{TxRecord: *rec}})
}

// queueBalance stages a balance notification carrying the batch's final
// counters.  Call once, after all mutations.
func (b *txBatch) queueBalance() {
	b.events = append(b.events, queuedEvent{kind: eventBalance, balance: b.state})
}
