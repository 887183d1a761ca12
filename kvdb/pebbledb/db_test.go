// Copyright (c) 2025-2026 The utxokit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pebbledb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatchStagedErrorSurfaces(t *testing.T) {
	db, err := openDB(t.TempDir(), &Options{Memory: true}, true)
	require.NoError(t, err)
	defer db.Close()

	kb, err := db.Batch()
	require.NoError(t, err)
	kb.Put([]byte("k1"), []byte("v1"))

	// A failed staging operation poisons the batch: Write must refuse to
	// commit anything staged around the failure.
	staged := errors.New("staged operation failed")
	kb.(*batch).err = staged
	require.ErrorIs(t, kb.Write(), staged)

	v, err := db.Get([]byte("k1"))
	require.NoError(t, err)
	require.Nil(t, v)

	// Reset clears the latched error along with the staged writes.
	kb.Reset()
	kb.Put([]byte("k2"), []byte("v2"))
	require.NoError(t, kb.Write())

	has, err := db.Has([]byte("k1"))
	require.NoError(t, err)
	require.False(t, has)
	has, err = db.Has([]byte("k2"))
	require.NoError(t, err)
	require.True(t, has)
}
