// Copyright (c) 2025-2026 The utxokit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package kvdb defines an ordered key-value database interface together with
// a driver registration mechanism, so database backends can be swapped
// without touching callers.  The interface is deliberately flat: the wallet
// ledger built on top of it is specified entirely in terms of ordered prefix
// scans and atomic write batches, and every driver must preserve
// lexicographic byte ordering of keys.
package kvdb

// DB represents an open ordered key-value database.
//
// All methods are safe for concurrent use.  Key ordering is unsigned
// lexicographic byte order, and iterators observe it directly; callers rely
// on this to make composite keys scan in chronological or height order.
type DB interface {
	// Get returns the value for the given key.  A missing key is not an
	// error: Get returns (nil, nil).  The returned slice is owned by the
	// caller.
	Get(key []byte) ([]byte, error)

	// Has returns whether the key exists.
	Has(key []byte) (bool, error)

	// Put saves the key/value pair, overwriting any existing value.
	Put(key, value []byte) error

	// Delete removes the key.  Deleting a missing key is not an error.
	Delete(key []byte) error

	// Iterator returns an iterator over the given range.  A nil range
	// iterates the entire database.
	Iterator(rng *Range) (Iterator, error)

	// Batch returns a new empty write batch.  Writes staged in the batch
	// are not visible until Write is called, at which point they are
	// applied atomically.
	Batch() (Batch, error)

	// Close closes the database, releasing all resources.  Using the DB
	// after Close returns ErrDbNotOpen.
	Close() error
}

// Range describes the bounds of an iteration.  Both bounds are inclusive.
type Range struct {
	// Gte restricts iteration to keys >= Gte.  Nil means no lower bound.
	Gte []byte

	// Lte restricts iteration to keys <= Lte.  Nil means no upper bound.
	Lte []byte

	// Reverse iterates from the upper bound down to the lower bound.
	Reverse bool

	// Limit caps the number of returned pairs.  Zero means no limit.
	Limit int
}

// Iterator iterates over a range of key/value pairs in key order.
//
// The canonical usage pattern is:
//
//	it, err := db.Iterator(&kvdb.Range{Gte: lo, Lte: hi})
//	if err != nil { ... }
//	defer it.Close()
//	for it.Next() {
//	        process(it.Key(), it.Value())
//	}
//	if err := it.Error(); err != nil { ... }
type Iterator interface {
	// Next advances to the next pair, returning false when the range is
	// exhausted or an error occurred.  It must be called before the first
	// Key/Value access.
	Next() bool

	// Key returns the current key.  Valid only after a successful Next
	// and only until the following Next call.
	Key() []byte

	// Value returns the current value, with the same validity rules as
	// Key.
	Value() []byte

	// Error returns the first error hit during iteration, if any.
	Error() error

	// Close releases the iterator.
	Close() error
}

// Batch is a set of staged writes applied atomically by Write.  A Batch is
// not safe for concurrent use.
type Batch interface {
	// Put stages a key/value write.
	Put(key, value []byte)

	// Delete stages a key deletion.
	Delete(key []byte)

	// Write atomically applies every staged operation.  On error nothing
	// is applied.  A batch may not be reused after a successful Write
	// without calling Reset.
	Write() error

	// Reset discards all staged operations, allowing reuse.
	Reset()
}

// PrefixEnd returns the smallest key that is strictly greater than every key
// carrying the given prefix.  Drivers use it to derive exclusive upper bounds
// for prefix scans.  It returns nil when the prefix is empty or consists
// solely of 0xff bytes, in which case there is no upper bound.
func PrefixEnd(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xff {
			end := make([]byte, i+1)
			copy(end, prefix)
			end[i]++
			return end
		}
	}
	return nil
}
