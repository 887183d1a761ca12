// Copyright (c) 2025-2026 The utxokit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bdb implements an instance of the kvdb interface backed by bbolt.
//
// Bolt is a B+tree with a single writer, so the flat ordered-KV contract
// maps onto one top-level bucket: point operations run in short bolt
// transactions, a kvdb batch buffers its operations and replays them inside
// a single read-write transaction, and iterators materialize the bounded
// range under a read transaction because bolt values do not outlive the
// transaction that produced them.
package bdb

import (
	"bytes"
	"os"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/utxokit/wtxdb/kvdb"
)

// topBucket is the single bucket holding every key/value pair.
var topBucket = []byte("kv")

// db wraps a bolt database to implement kvdb.DB.
type db struct {
	mu     sync.RWMutex
	closed bool
	bdb    *bolt.DB
}

// Enforce db implements the kvdb.DB interface.
var _ kvdb.DB = (*db)(nil)

func fileExists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func openDB(path string, create bool) (kvdb.DB, error) {
	if !create && !fileExists(path) {
		return nil, kvdb.ErrDbDoesNotExist
	}
	if create && fileExists(path) {
		return nil, kvdb.ErrDbExists
	}

	boltDB, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, err
	}

	err = boltDB.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(topBucket)
		return err
	})
	if err != nil {
		_ = boltDB.Close()
		return nil, err
	}

	return &db{bdb: boltDB}, nil
}

func (d *db) checkOpen() error {
	if d.closed {
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

	var out []byte
	err := d.bdb.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(topBucket).Get(key)
		if v != nil {
			out = make([]byte, len(v))
			copy(out, v)
		}
		return nil
	})
	if err != nil {
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

	return d.bdb.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(topBucket).Put(key, value)
	})
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

	return d.bdb.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(topBucket).Delete(key)
	})
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

	// Collect the bounded range up front.  Limits bound the copy; an
	// unlimited scan copies the full range, which the ledger only does
	// for explicitly bounded prefixes.
	var pairs []kvPair
	err := d.bdb.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(topBucket).Cursor()

		appendPair := func(k, v []byte) {
			pairs = append(pairs, kvPair{
				key:   append([]byte(nil), k...),
				value: append([]byte(nil), v...),
			})
		}

		if r.Reverse {
			// Position at the largest key <= Lte.  Seek lands on
			// the first key >= Lte, so step back when it
			// overshoots; a nil seek result means every key is
			// smaller and the scan starts at the end.
			var k, v []byte
			if r.Lte != nil {
				k, v = c.Seek(r.Lte)
				switch {
				case k == nil:
					k, v = c.Last()
				case bytes.Compare(k, r.Lte) > 0:
					k, v = c.Prev()
				}
			} else {
				k, v = c.Last()
			}
			for ; k != nil; k, v = c.Prev() {
				if r.Gte != nil && bytes.Compare(k, r.Gte) < 0 {
					break
				}
				appendPair(k, v)
				if r.Limit > 0 && len(pairs) >= r.Limit {
					break
				}
			}
			return nil
		}

		var k, v []byte
		if r.Gte != nil {
			k, v = c.Seek(r.Gte)
		} else {
			k, v = c.First()
		}
		for ; k != nil; k, v = c.Next() {
			if r.Lte != nil && bytes.Compare(k, r.Lte) > 0 {
				break
			}
			appendPair(k, v)
			if r.Limit > 0 && len(pairs) >= r.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &iterator{pairs: pairs, pos: -1}, nil
}

func (d *db) Batch() (kvdb.Batch, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	return &batch{db: d}, nil
}

func (d *db) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return kvdb.ErrDbNotOpen
	}
	d.closed = true
	return d.bdb.Close()
}

type kvPair struct {
	key   []byte
	value []byte
}

// iterator walks a materialized range.
type iterator struct {
	pairs []kvPair
	pos   int
}

func (it *iterator) Next() bool {
	if it.pos+1 >= len(it.pairs) {
		it.pos = len(it.pairs)
		return false
	}
	it.pos++
	return true
}

func (it *iterator) Key() []byte {
	return it.pairs[it.pos].key
}

func (it *iterator) Value() []byte {
	return it.pairs[it.pos].value
}

func (it *iterator) Error() error {
	return nil
}

func (it *iterator) Close() error {
	it.pairs = nil
	return nil
}

// batchOp is a single staged write.  A nil value marks a deletion.
type batchOp struct {
	key   []byte
	value []byte
	del   bool
}

// batch buffers operations and replays them in one bolt transaction.
type batch struct {
	db      *db
	ops     []batchOp
	written bool
}

func (b *batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
}

func (b *batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{
		key: append([]byte(nil), key...),
		del: true,
	})
}

func (b *batch) Write() error {
	if b.written {
		return kvdb.ErrBatchWritten
	}

	b.db.mu.RLock()
	defer b.db.mu.RUnlock()
	if err := b.db.checkOpen(); err != nil {
		return err
	}

	err := b.db.bdb.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(topBucket)
		for _, op := range b.ops {
			if op.del {
				if err := bkt.Delete(op.key); err != nil {
					return err
				}
				continue
			}
			if err := bkt.Put(op.key, op.value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.written = true
	return nil
}

func (b *batch) Reset() {
	b.ops = b.ops[:0]
	b.written = false
}
