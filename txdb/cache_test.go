// Copyright (c) 2025-2026 The utxokit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txdb

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestCoinCacheStaging(t *testing.T) {
	c := newCoinCache(16)
	op := wire.OutPoint{Index: 1}
	credit := &Credit{Coin: Coin{Value: 5000, Height: 100}}

	// Unknown outpoints are not authoritative.
	_, known := c.get(op)
	require.False(t, known)

	// Writes staged in a batch are visible inside it but vanish on drop.
	c.begin()
	c.put(op, credit)
	got, known := c.get(op)
	require.True(t, known)
	require.Equal(t, credit, got)
	c.drop()
	_, known = c.get(op)
	require.False(t, known)

	// Committed writes stick.
	c.begin()
	c.put(op, credit)
	c.commit()
	got, known = c.get(op)
	require.True(t, known)
	require.Equal(t, credit, got)

	// A staged deletion is an authoritative miss that must not fall
	// through to the committed layer.
	c.begin()
	c.del(op)
	got, known = c.get(op)
	require.True(t, known)
	require.Nil(t, got)

	// And dropping it brings the committed entry back.
	c.drop()
	got, known = c.get(op)
	require.True(t, known)
	require.NotNil(t, got)

	// Committing the deletion evicts for real.
	c.begin()
	c.del(op)
	c.commit()
	_, known = c.get(op)
	require.False(t, known)
}

func TestCoinCacheNegativeEntries(t *testing.T) {
	c := newCoinCache(16)
	op := wire.OutPoint{Index: 9}

	// A cached nil outside a batch records a definite absence.
	c.put(op, nil)
	got, known := c.get(op)
	require.True(t, known)
	require.Nil(t, got)

	// Overwriting with a real credit replaces the negative entry.
	credit := &Credit{Coin: Coin{Value: 1}}
	c.put(op, credit)
	got, known = c.get(op)
	require.True(t, known)
	require.Equal(t, credit, got)
}
