// Copyright (c) 2025-2026 The utxokit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package txdb provides an implementation of a transaction database handling
spend tracking for a bitcoin wallet.  The store records all relevant
transactions, the outputs they create for the wallet, the inputs spending
them, and running balance counters maintained incrementally with every
mutation.

Every mutating operation runs as one atomic batch against a flat ordered
key-value database (see the kvdb package), pairing spends with undo coins so
a chain reorganization can disconnect mined transactions as the exact inverse
of confirming them.  Double spends evict the recorded spender and its
descendants recursively, unless the replacement opted into coexistence via
BIP 125 signaling, in which case the conflict settles when one side is mined.
*/
package txdb
