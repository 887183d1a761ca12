// Copyright (c) 2025-2026 The utxokit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txdb

import (
	"bytes"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Block contains the minimum amount of data to uniquely identify any block on
// either the best or side chain.
type Block struct {
	Hash   chainhash.Hash
	Height int32
}

// BlockMeta contains the unique identification for a block and any metadata
// pertaining to the block.  At the moment, this additional metadata only
// includes the block time from the block header.
type BlockMeta struct {
	Block
	Time time.Time
}

// blockRecord is an in-memory representation of the block record saved in the
// database.  It tracks every relevant transaction mined in the block so that
// an entire block can be disconnected during a reorganization.
type blockRecord struct {
	Block
	Time         time.Time
	transactions []chainhash.Hash
}

// TxRecord represents a transaction managed by the Store.  A nil Block marks
// the transaction as unmined.
type TxRecord struct {
	MsgTx        wire.MsgTx
	Hash         chainhash.Hash
	Received     time.Time
	SerializedTx []byte // Optional: may be nil
	Block        *BlockMeta
}

// NewTxRecord creates a new transaction record that may be inserted into the
// store.  It uses memoization to save the transaction hash and the serialized
// transaction.
func NewTxRecord(serializedTx []byte, received time.Time) (*TxRecord, error) {
	rec := &TxRecord{
		Received:     received,
		SerializedTx: serializedTx,
	}
	err := rec.MsgTx.Deserialize(bytes.NewReader(serializedTx))
	if err != nil {
		str := "failed to deserialize transaction"
		return nil, storeError(ErrInput, str, err)
	}
	copy(rec.Hash[:], chainhash.DoubleHashB(serializedTx))
	return rec, nil
}

// NewTxRecordFromMsgTx creates a new transaction record that may be inserted
// into the store.
func NewTxRecordFromMsgTx(msgTx *wire.MsgTx, received time.Time) (*TxRecord, error) {
	buf := bytes.NewBuffer(make([]byte, 0, msgTx.SerializeSize()))
	err := msgTx.Serialize(buf)
	if err != nil {
		str := "failed to serialize transaction"
		return nil, storeError(ErrInput, str, err)
	}
	rec := &TxRecord{
		MsgTx:        *msgTx,
		Received:     received,
		SerializedTx: buf.Bytes(),
	}
	copy(rec.Hash[:], chainhash.DoubleHashB(rec.SerializedTx))
	return rec, nil
}

// Coin describes a transaction output as tracked by the store: its value,
// locking script, and the height it was mined at.  A height of -1 marks the
// funding transaction as unmined.
type Coin struct {
	Value    btcutil.Amount
	PkScript []byte
	Height   int32
	Coinbase bool
}

// Credit records a transaction output that is spendable (or was, until a
// pending transaction spent it) by the wallet.  Spent reports whether an
// unmined transaction currently spends the output, and Own reports whether
// that spender was indexed while inserting it rather than reconstructed from
// an undo coin.
//
// A credit remains in the database while its spender is unmined so the
// wallet's view can be compared against the chain.  Once the spend confirms
// the record is deleted, leaving only the undo coin behind for reorg
// handling.
type Credit struct {
	Coin  Coin
	Spent bool
	Own   bool
}

// DerivationPath locates an output script within the wallet's key hierarchy.
type DerivationPath struct {
	Account uint32
	Branch  uint32
	Index   uint32
}

// PathResolver reports whether an output script belongs to the wallet, and if
// so, where it derives from.  A nil path with a nil error means the script is
// not relevant.
//
// Resolution must be deterministic for the lifetime of a Store: the account
// indexes are keyed by the resolved account number.
type PathResolver interface {
	LookupPath(pkScript []byte) (*DerivationPath, error)
}

// State holds the running counters maintained by the store.  The counters are
// updated incrementally by each mutating operation and persisted atomically
// with it, so a balance query never scans the credit records.
type State struct {
	// TxCount is the number of transaction records in the store.
	TxCount uint64

	// CoinCount is the number of unspent credits in the store.
	CoinCount uint64

	// Confirmed is the sum of all unspent credits whose funding
	// transaction is mined.
	Confirmed btcutil.Amount

	// Unconfirmed is the sum of all unspent credits, mined or not.
	Unconfirmed btcutil.Amount
}

// Balance is a point-in-time copy of the store counters.
type Balance = State
