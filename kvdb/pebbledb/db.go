// Copyright (c) 2025-2026 The utxokit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package pebbledb implements an instance of the kvdb interface backed by
// pebble, the LSM storage engine used by CockroachDB.  Pebble supplies
// exactly the primitives the interface promises: ordered byte-key iteration
// with bounds and atomic write batches.
package pebbledb

import (
	"errors"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/utxokit/wtxdb/kvdb"
)

// Options controls how a database is opened.
type Options struct {
	// Memory backs the database with an in-memory filesystem.  Nothing is
	// persisted; primarily useful for tests.
	Memory bool

	// NoSync disables synchronous writes on batch commit.  Committed
	// batches may be lost on machine crash, but remain atomic.
	NoSync bool
}

// dbState tracks the open/close lifecycle of a database handle.
type dbState int

const (
	stateOpen dbState = iota
	stateClosing
	stateClosed
)

// db wraps a pebble database to implement kvdb.DB.
type db struct {
	mu    sync.RWMutex
	state dbState
	pdb   *pebble.DB
	wopts *pebble.WriteOptions
}

// Enforce db implements the kvdb.DB interface.
var _ kvdb.DB = (*db)(nil)

func openDB(path string, opts *Options, create bool) (kvdb.DB, error) {
	if opts == nil {
		opts = &Options{}
	}

	popts := &pebble.Options{}
	if opts.Memory {
		popts.FS = vfs.NewMem()
	} else if create {
		popts.ErrorIfExists = true
	} else {
		popts.ErrorIfNotExists = true
	}

	pdb, err := pebble.Open(path, popts)
	if err != nil {
		return nil, convertErr(err)
	}

	wopts := pebble.Sync
	if opts.NoSync || opts.Memory {
		wopts = pebble.NoSync
	}
	return &db{pdb: pdb, wopts: wopts}, nil
}

// convertErr maps pebble open errors to the equivalent kvdb sentinels.
func convertErr(err error) error {
	switch {
	case errors.Is(err, pebble.ErrDBAlreadyExists):
		return kvdb.ErrDbExists
	case errors.Is(err, pebble.ErrDBDoesNotExist):
		return kvdb.ErrDbDoesNotExist
	}
	return err
}

// checkOpen returns ErrDbNotOpen when the handle is no longer usable.  The
// read lock is held by the caller.
func (d *db) checkOpen() error {
	if d.state != stateOpen {
		return kvdb.ErrDbNotOpen
	}
	return nil
}

func (d *db) Get(key []byte) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, kvdb.ErrKeyRequired
	}

	v, closer, err := d.pdb.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	// The slice is only valid until the closer is released.
	out := make([]byte, len(v))
	copy(out, v)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *db) Has(key []byte) (bool, error) {
	v, err := d.Get(key)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

func (d *db) Put(key, value []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	if len(key) == 0 {
		return kvdb.ErrKeyRequired
	}
	return d.pdb.Set(key, value, d.wopts)
}

func (d *db) Delete(key []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	if len(key) == 0 {
		return kvdb.ErrKeyRequired
	}
	return d.pdb.Delete(key, d.wopts)
}

func (d *db) Iterator(rng *kvdb.Range) (kvdb.Iterator, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	r := kvdb.Range{}
	if rng != nil {
		r = *rng
	}

	iopts := &pebble.IterOptions{LowerBound: r.Gte}
	if r.Lte != nil {
		// Pebble upper bounds are exclusive; the immediate successor
		// of the inclusive bound is the bound followed by a zero byte.
		upper := make([]byte, 0, len(r.Lte)+1)
		upper = append(upper, r.Lte...)
		iopts.UpperBound = append(upper, 0x00)
	}

	pit, err := d.pdb.NewIter(iopts)
	if err != nil {
		return nil, err
	}
	return &iterator{it: pit, reverse: r.Reverse, limit: r.Limit}, nil
}

func (d *db) Batch() (kvdb.Batch, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	return &batch{pb: d.pdb.NewBatch(), wopts: d.wopts}, nil
}

func (d *db) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != stateOpen {
		return kvdb.ErrDbNotOpen
	}
	d.state = stateClosing
	err := d.pdb.Close()
	d.state = stateClosed
	return err
}

// iterator adapts a pebble iterator to kvdb.Iterator, handling direction,
// limits, and first-call positioning.
type iterator struct {
	it      *pebble.Iterator
	reverse bool
	limit   int
	started bool
	count   int
	closed  bool
}

func (it *iterator) Next() bool {
	if it.closed {
		return false
	}
	if it.limit > 0 && it.count >= it.limit {
		return false
	}

	var valid bool
	switch {
	case !it.started && it.reverse:
		valid = it.it.Last()
	case !it.started:
		valid = it.it.First()
	case it.reverse:
		valid = it.it.Prev()
	default:
		valid = it.it.Next()
	}
	it.started = true
	if valid {
		it.count++
	}
	return valid
}

func (it *iterator) Key() []byte {
	k := it.it.Key()
	out := make([]byte, len(k))
	copy(out, k)
	return out
}

func (it *iterator) Value() []byte {
	v := it.it.Value()
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

func (it *iterator) Error() error {
	return it.it.Error()
}

func (it *iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.it.Close()
}

// batch adapts a pebble batch to kvdb.Batch.  The first error hit while
// staging an operation is latched and surfaced by Write, which then refuses
// to commit.
type batch struct {
	pb      *pebble.Batch
	wopts   *pebble.WriteOptions
	written bool
	err     error
}

func (b *batch) Put(key, value []byte) {
	if err := b.pb.Set(key, value, nil); err != nil && b.err == nil {
		b.err = err
	}
}

func (b *batch) Delete(key []byte) {
	if err := b.pb.Delete(key, nil); err != nil && b.err == nil {
		b.err = err
	}
}

func (b *batch) Write() error {
	if b.written {
		return kvdb.ErrBatchWritten
	}
	if b.err != nil {
		return b.err
	}
	if err := b.pb.Commit(b.wopts); err != nil {
		return err
	}
	b.written = true
	return nil
}

func (b *batch) Reset() {
	b.pb.Reset()
	b.written = false
	b.err = nil
}
