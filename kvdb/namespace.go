// Copyright (c) 2025-2026 The utxokit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package kvdb

import "bytes"

// Namespace returns a view of db in which every key is transparently
// prefixed with the given prefix.  Multiple namespaces over one physical
// database do not observe each other's keys, which allows several wallets to
// share a single store.  The returned DB shares the lifetime of the
// underlying database; closing it is a no-op.
func Namespace(db DB, prefix []byte) DB {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &nsDB{db: db, prefix: p}
}

type nsDB struct {
	db     DB
	prefix []byte
}

func (n *nsDB) key(k []byte) []byte {
	out := make([]byte, 0, len(n.prefix)+len(k))
	out = append(out, n.prefix...)
	return append(out, k...)
}

func (n *nsDB) Get(key []byte) ([]byte, error) {
	return n.db.Get(n.key(key))
}

func (n *nsDB) Has(key []byte) (bool, error) {
	return n.db.Has(n.key(key))
}

func (n *nsDB) Put(key, value []byte) error {
	return n.db.Put(n.key(key), value)
}

func (n *nsDB) Delete(key []byte) error {
	return n.db.Delete(n.key(key))
}

func (n *nsDB) Iterator(rng *Range) (Iterator, error) {
	inner := Range{}
	if rng != nil {
		inner = *rng
	}

	outer := Range{Reverse: inner.Reverse}
	if !inner.Reverse || inner.Lte != nil {
		outer.Limit = inner.Limit
	}
	outer.Gte = n.key(inner.Gte)
	if inner.Lte != nil {
		outer.Lte = n.key(inner.Lte)
	} else {
		// No explicit upper bound: scan to the end of the namespace.
		// PrefixEnd is exclusive, so the iterator additionally guards
		// with a prefix check below.
		outer.Lte = nil
	}

	it, err := n.db.Iterator(&outer)
	if err != nil {
		return nil, err
	}

	// A reverse scan with no upper bound starts at the end of the
	// physical database and may first visit keys beyond the namespace,
	// which must be skipped rather than treated as the end of the range.
	// The limit then has to be enforced here so skipped foreign keys do
	// not count against it.
	skipForeign := inner.Reverse && outer.Lte == nil
	limit := 0
	if skipForeign && inner.Limit > 0 {
		limit = inner.Limit
	}
	return &nsIterator{
		it:          it,
		prefix:      n.prefix,
		skipForeign: skipForeign,
		limit:       limit,
	}, nil
}

func (n *nsDB) Batch() (Batch, error) {
	b, err := n.db.Batch()
	if err != nil {
		return nil, err
	}
	return &nsBatch{b: b, ns: n}, nil
}

// Close is a no-op; the underlying database is owned by whoever opened it.
func (n *nsDB) Close() error {
	return nil
}

type nsIterator struct {
	it          Iterator
	prefix      []byte
	skipForeign bool
	limit       int
	count       int
	done        bool
}

func (it *nsIterator) Next() bool {
	if it.done {
		return false
	}
	if it.limit > 0 && it.count >= it.limit {
		it.done = true
		return false
	}
	for it.it.Next() {
		if bytes.HasPrefix(it.it.Key(), it.prefix) {
			it.count++
			return true
		}
		if !it.skipForeign {
			break
		}
	}
	it.done = true
	return false
}

func (it *nsIterator) Key() []byte {
	return it.it.Key()[len(it.prefix):]
}

func (it *nsIterator) Value() []byte {
	return it.it.Value()
}

func (it *nsIterator) Error() error {
	return it.it.Error()
}

func (it *nsIterator) Close() error {
	return it.it.Close()
}

type nsBatch struct {
	b  Batch
	ns *nsDB
}

func (b *nsBatch) Put(key, value []byte) {
	b.b.Put(b.ns.key(key), value)
}

func (b *nsBatch) Delete(key []byte) {
	b.b.Delete(b.ns.key(key))
}

func (b *nsBatch) Write() error {
	return b.b.Write()
}

func (b *nsBatch) Reset() {
	b.b.Reset()
}
