// Copyright (c) 2025-2026 The utxokit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txdb

// Notifications defines callbacks fired by the store as transactions move
// through their lifecycle.  All callbacks are optional.
//
// Callbacks run synchronously on the goroutine performing the mutating
// operation, strictly after the operation's batch has been committed.  An
// operation that fails or turns out to be irrelevant fires nothing.
// Callbacks must not call back into mutating store methods.
type Notifications struct {
	// TxInserted is invoked when a relevant transaction is inserted into
	// the store, mined or unmined.
	TxInserted func(details *TxDetails)

	// TxConfirmed is invoked when a previously unmined transaction is
	// marked as mined in a block.
	TxConfirmed func(details *TxDetails)

	// TxUnconfirmed is invoked when a mined transaction is moved back to
	// the unmined pool because its block was disconnected.
	TxUnconfirmed func(details *TxDetails)

	// TxRemoved is invoked for every transaction erased from the store,
	// including descendants removed by a cascading removal.
	TxRemoved func(details *TxDetails)

	// TxConflict is invoked for every transaction evicted because a
	// double spend of one of its inputs was inserted or confirmed.
	TxConflict func(details *TxDetails)

	// BalanceChanged is invoked once per mutating operation that changed
	// the running counters, after all transaction callbacks of that
	// operation.
	BalanceChanged func(balance Balance)
}

type eventKind uint8

const (
	eventInserted eventKind = iota
	eventConfirmed
	eventUnconfirmed
	eventRemoved
	eventConflict
	eventBalance
)

// queuedEvent is a notification staged in a batch.  Events are queued in
// operation order and delivered only after the batch commits; a dropped batch
// discards them.
type queuedEvent struct {
	kind    eventKind
	details *TxDetails
	balance Balance
}

// notify delivers committed events to the registered callbacks.
func (s *Store) notify(events []queuedEvent) {
	n := s.notifs
	if n == nil {
		return
	}
	for i := range events {
		e := &events[i]
		if e.details != nil {
			if err := s.completeDetails(e.details); err != nil {
				log.Warnf("Failed to complete details for "+
					"transaction %v: %v", e.details.Hash,
					err)
			}
		}
		switch e.kind {
		case eventInserted:
			if n.TxInserted != nil {
				n.TxInserted(e.details)
			}
		case eventConfirmed:
			if n.TxConfirmed != nil {
				n.TxConfirmed(e.details)
			}
		case eventUnconfirmed:
			if n.TxUnconfirmed != nil {
				n.TxUnconfirmed(e.details)
			}
		case eventRemoved:
			if n.TxRemoved != nil {
				n.TxRemoved(e.details)
			}
		case eventConflict:
			if n.TxConflict != nil {
				n.TxConflict(e.details)
			}
		case eventBalance:
			if n.BalanceChanged != nil {
				n.BalanceChanged(e.balance)
			}
		}
	}
}
