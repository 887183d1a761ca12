// Copyright (c) 2025-2026 The utxokit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package kvdb_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/utxokit/wtxdb/kvdb"
	_ "github.com/utxokit/wtxdb/kvdb/bdb"
	"github.com/utxokit/wtxdb/kvdb/pebbledb"
)

type driverCase struct {
	name   string
	create func(t *testing.T) kvdb.DB
}

func driverCases() []driverCase {
	return []driverCase{
		{
			name: "pebbledb",
			create: func(t *testing.T) kvdb.DB {
				db, err := kvdb.Create("pebbledb", t.TempDir(),
					&pebbledb.Options{Memory: true})
				require.NoError(t, err)
				t.Cleanup(func() { _ = db.Close() })
				return db
			},
		},
		{
			name: "bdb",
			create: func(t *testing.T) kvdb.DB {
				path := filepath.Join(t.TempDir(), "kv.db")
				db, err := kvdb.Create("bdb", path)
				require.NoError(t, err)
				t.Cleanup(func() { _ = db.Close() })
				return db
			},
		},
	}
}

func TestBasicOps(t *testing.T) {
	for _, tc := range driverCases() {
		t.Run(tc.name, func(t *testing.T) {
			db := tc.create(t)

			// A missing key is not an error.
			v, err := db.Get([]byte("missing"))
			require.NoError(t, err)
			require.Nil(t, v)

			require.NoError(t, db.Put([]byte("k"), []byte("v1")))
			v, err = db.Get([]byte("k"))
			require.NoError(t, err)
			require.Equal(t, []byte("v1"), v)

			has, err := db.Has([]byte("k"))
			require.NoError(t, err)
			require.True(t, has)

			// Overwrites replace.
			require.NoError(t, db.Put([]byte("k"), []byte("v2")))
			v, err = db.Get([]byte("k"))
			require.NoError(t, err)
			require.Equal(t, []byte("v2"), v)

			// Deleting twice is fine.
			require.NoError(t, db.Delete([]byte("k")))
			require.NoError(t, db.Delete([]byte("k")))
			has, err = db.Has([]byte("k"))
			require.NoError(t, err)
			require.False(t, has)

			// Empty keys are rejected.
			_, err = db.Get(nil)
			require.ErrorIs(t, err, kvdb.ErrKeyRequired)
			require.ErrorIs(t, db.Put(nil, []byte("v")),
				kvdb.ErrKeyRequired)
		})
	}
}

func TestIteration(t *testing.T) {
	keys := []string{"a1", "a2", "a3", "b1", "b2"}

	collect := func(t *testing.T, db kvdb.DB, rng *kvdb.Range) []string {
		t.Helper()
		it, err := db.Iterator(rng)
		require.NoError(t, err)
		defer it.Close()
		var out []string
		for it.Next() {
			require.Equal(t, "v-"+string(it.Key()),
				string(it.Value()))
			out = append(out, string(it.Key()))
		}
		require.NoError(t, it.Error())
		return out
	}

	for _, tc := range driverCases() {
		t.Run(tc.name, func(t *testing.T) {
			db := tc.create(t)
			for _, k := range keys {
				require.NoError(t, db.Put([]byte(k),
					[]byte("v-"+k)))
			}

			// Full forward scan in key order.
			require.Equal(t, keys, collect(t, db, nil))

			// Both bounds are inclusive.
			require.Equal(t, []string{"a2", "a3", "b1"},
				collect(t, db, &kvdb.Range{
					Gte: []byte("a2"),
					Lte: []byte("b1"),
				}))

			// Reverse scans walk the same range backwards.
			require.Equal(t, []string{"b1", "a3", "a2"},
				collect(t, db, &kvdb.Range{
					Gte:     []byte("a2"),
					Lte:     []byte("b1"),
					Reverse: true,
				}))
			require.Equal(t, []string{"b2", "b1", "a3", "a2", "a1"},
				collect(t, db, &kvdb.Range{Reverse: true}))

			// Limits cap the scan from its starting end.
			require.Equal(t, []string{"a1", "a2"},
				collect(t, db, &kvdb.Range{Limit: 2}))
			require.Equal(t, []string{"b2", "b1"},
				collect(t, db, &kvdb.Range{
					Reverse: true,
					Limit:   2,
				}))
		})
	}
}

func TestPrefixEnd(t *testing.T) {
	require.Equal(t, []byte{0x62}, kvdb.PrefixEnd([]byte{0x61}))
	require.Equal(t, []byte{0x61, 0x63}, kvdb.PrefixEnd([]byte{0x61, 0x62}))

	// Trailing 0xff bytes roll over into the preceding byte.
	require.Equal(t, []byte{0x62}, kvdb.PrefixEnd([]byte{0x61, 0xff}))

	// No key can follow an all-0xff prefix.
	require.Nil(t, kvdb.PrefixEnd([]byte{0xff, 0xff}))
	require.Nil(t, kvdb.PrefixEnd(nil))
}

func TestBatch(t *testing.T) {
	for _, tc := range driverCases() {
		t.Run(tc.name, func(t *testing.T) {
			db := tc.create(t)
			require.NoError(t, db.Put([]byte("doomed"), []byte("x")))

			b, err := db.Batch()
			require.NoError(t, err)
			b.Put([]byte("k1"), []byte("v1"))
			b.Put([]byte("k2"), []byte("v2"))
			b.Delete([]byte("doomed"))

			// Nothing lands before Write.
			has, err := db.Has([]byte("k1"))
			require.NoError(t, err)
			require.False(t, has)

			require.NoError(t, b.Write())
			v, err := db.Get([]byte("k1"))
			require.NoError(t, err)
			require.Equal(t, []byte("v1"), v)
			has, err = db.Has([]byte("doomed"))
			require.NoError(t, err)
			require.False(t, has)

			// A written batch cannot be rewritten without a Reset.
			require.ErrorIs(t, b.Write(), kvdb.ErrBatchWritten)
			b.Reset()
			b.Put([]byte("k3"), []byte("v3"))
			require.NoError(t, b.Write())
			has, err = db.Has([]byte("k3"))
			require.NoError(t, err)
			require.True(t, has)
		})
	}
}

func TestCreateOpenErrors(t *testing.T) {
	_, err := kvdb.Create("no-such-driver", "x")
	require.ErrorIs(t, err, kvdb.ErrDbUnknownType)
	_, err = kvdb.Open("no-such-driver", "x")
	require.ErrorIs(t, err, kvdb.ErrDbUnknownType)

	t.Run("pebbledb", func(t *testing.T) {
		path := t.TempDir()
		db, err := kvdb.Create("pebbledb", path)
		require.NoError(t, err)
		require.NoError(t, db.Close())

		_, err = kvdb.Create("pebbledb", path)
		require.ErrorIs(t, err, kvdb.ErrDbExists)

		_, err = kvdb.Open("pebbledb",
			filepath.Join(t.TempDir(), "nope"))
		require.ErrorIs(t, err, kvdb.ErrDbDoesNotExist)

		db, err = kvdb.Open("pebbledb", path)
		require.NoError(t, err)
		require.NoError(t, db.Close())
	})

	t.Run("bdb", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kv.db")
		db, err := kvdb.Create("bdb", path)
		require.NoError(t, err)
		require.NoError(t, db.Close())

		_, err = kvdb.Create("bdb", path)
		require.ErrorIs(t, err, kvdb.ErrDbExists)

		_, err = kvdb.Open("bdb", filepath.Join(t.TempDir(), "nope"))
		require.ErrorIs(t, err, kvdb.ErrDbDoesNotExist)

		db, err = kvdb.Open("bdb", path)
		require.NoError(t, err)
		require.NoError(t, db.Close())
	})
}

func TestClosedDB(t *testing.T) {
	for _, tc := range driverCases() {
		t.Run(tc.name, func(t *testing.T) {
			db := tc.create(t)
			require.NoError(t, db.Close())

			_, err := db.Get([]byte("k"))
			require.ErrorIs(t, err, kvdb.ErrDbNotOpen)
			require.ErrorIs(t, db.Put([]byte("k"), nil),
				kvdb.ErrDbNotOpen)
			_, err = db.Iterator(nil)
			require.ErrorIs(t, err, kvdb.ErrDbNotOpen)
			_, err = db.Batch()
			require.ErrorIs(t, err, kvdb.ErrDbNotOpen)
			require.ErrorIs(t, db.Close(), kvdb.ErrDbNotOpen)
		})
	}
}

func TestNamespace(t *testing.T) {
	for _, tc := range driverCases() {
		t.Run(tc.name, func(t *testing.T) {
			db := tc.create(t)
			ns1 := kvdb.Namespace(db, []byte("a/"))
			ns2 := kvdb.Namespace(db, []byte("b/"))

			// Keys sorting before and after both namespaces.
			require.NoError(t, db.Put([]byte("0-outside"), []byte("x")))
			require.NoError(t, db.Put([]byte("z-outside"), []byte("x")))

			for i := 1; i <= 3; i++ {
				k := []byte(fmt.Sprintf("k%d", i))
				require.NoError(t, ns1.Put(k,
					[]byte(fmt.Sprintf("one%d", i))))
				require.NoError(t, ns2.Put(k,
					[]byte(fmt.Sprintf("two%d", i))))
			}

			// Point reads are isolated.
			v, err := ns1.Get([]byte("k1"))
			require.NoError(t, err)
			require.Equal(t, []byte("one1"), v)
			v, err = ns2.Get([]byte("k1"))
			require.NoError(t, err)
			require.Equal(t, []byte("two1"), v)

			// Iteration sees only the namespace, with stripped keys.
			it, err := ns1.Iterator(nil)
			require.NoError(t, err)
			var got []string
			for it.Next() {
				got = append(got, string(it.Key()))
			}
			require.NoError(t, it.Error())
			require.NoError(t, it.Close())
			require.Equal(t, []string{"k1", "k2", "k3"}, got)

			// Reverse unbounded scans skip foreign keys beyond the
			// namespace rather than stopping at them.
			it, err = ns2.Iterator(&kvdb.Range{Reverse: true, Limit: 2})
			require.NoError(t, err)
			got = nil
			for it.Next() {
				got = append(got, string(it.Key()))
			}
			require.NoError(t, it.Error())
			require.NoError(t, it.Close())
			require.Equal(t, []string{"k3", "k2"}, got)

			// Batches write through the prefix.
			b, err := ns1.Batch()
			require.NoError(t, err)
			b.Put([]byte("k4"), []byte("one4"))
			b.Delete([]byte("k1"))
			require.NoError(t, b.Write())

			v, err = db.Get([]byte("a/k4"))
			require.NoError(t, err)
			require.Equal(t, []byte("one4"), v)
			has, err := ns1.Has([]byte("k1"))
			require.NoError(t, err)
			require.False(t, has)

			// Closing a namespace never touches the shared database.
			require.NoError(t, ns1.Close())
			has, err = db.Has([]byte("z-outside"))
			require.NoError(t, err)
			require.True(t, has)
		})
	}
}
