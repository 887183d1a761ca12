// Copyright (c) 2025-2026 The utxokit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/utxokit/wtxdb/kvdb"
)

// Naming
//
// The store lives in a flat ordered keyspace.  Each record class is assigned
// a single-byte prefix, and the remainder of the key is built from fixed
// width big endian fields so that lexicographic iteration equals logical
// ordering.  Multi-byte integers inside values are little endian.
//
// The following keys are used:
//
//   R                                   -> running state counters
//   V                                   -> database version
//   t<txhash>                           -> transaction record
//   c<txhash><output index>             -> credit
//   d<spender txhash><input index>      -> undo coin (spent credit)
//   s<funding txhash><output index>     -> spender outpoint
//   b<height>                           -> block record
//   h<height><txhash>                   -> confirmed height index (dummy)
//   m<unix time><txhash>                -> received time index (dummy)
//   p<txhash>                           -> unmined index (dummy)
//   r<txhash>                           -> replace-by-fee index (dummy)
//
// Every transaction and credit is additionally mirrored into per-account
// indexes keyed by the account the output script derives from:
//
//   T<account><txhash>                  -> account transaction index (dummy)
//   P<account><txhash>                  -> account unmined index (dummy)
//   M<account><unix time><txhash>       -> account time index (dummy)
//   H<account><height><txhash>          -> account height index (dummy)
//   C<account><txhash><output index>    -> account credit index (dummy)
//
// The dummy values are empty byte slices.  The presence of the key is the
// record.

// Record class prefixes.
const (
	prefixState       = 'R'
	prefixVersion     = 'V'
	prefixTxRecord    = 't'
	prefixCredit      = 'c'
	prefixUndoCoin    = 'd'
	prefixSpender     = 's'
	prefixBlockRecord = 'b'
	prefixHeightIdx   = 'h'
	prefixTimeIdx     = 'm'
	prefixUnminedIdx  = 'p'
	prefixRBFIdx      = 'r'

	prefixAcctTxIdx      = 'T'
	prefixAcctUnminedIdx = 'P'
	prefixAcctTimeIdx    = 'M'
	prefixAcctHeightIdx  = 'H'
	prefixAcctCreditIdx  = 'C'
)

// Database versions.  Versions start at 1 and increment for each database
// change.
const (
	// initialVersion is the version of a newly created database.
	initialVersion = 2

	// latestVersion is the most recent database version.
	latestVersion = initialVersion
)

// Credit serialization versions.  Version 1 credits predate the own flag and
// are deserialized with Own forced true.
const (
	creditVersionLegacy = 1
	creditVersionOwn    = 2

	latestCreditVersion = creditVersionOwn
)

// Key fields use big endian so cursor order matches numeric order.  Value
// fields use little endian.
var (
	keyOrder = binary.BigEndian
	valOrder = binary.LittleEndian
)

var (
	rootStateKey   = []byte{prefixState}
	rootVersionKey = []byte{prefixVersion}
)

// spender identifies the transaction input consuming an output.
type spender struct {
	hash  chainhash.Hash
	index uint32
}

// canonicalOutPoint returns the canonical serialization of an outpoint as
// used in keys: the transaction hash followed by the big endian output
// index.
func canonicalOutPoint(txHash *chainhash.Hash, index uint32) []byte {
	k := make([]byte, 36)
	copy(k, txHash[:])
	keyOrder.PutUint32(k[32:36], index)
	return k
}

func keyTxRecord(txHash *chainhash.Hash) []byte {
	k := make([]byte, 33)
	k[0] = prefixTxRecord
	copy(k[1:], txHash[:])
	return k
}

func keyCredit(txHash *chainhash.Hash, index uint32) []byte {
	k := make([]byte, 37)
	k[0] = prefixCredit
	copy(k[1:33], txHash[:])
	keyOrder.PutUint32(k[33:37], index)
	return k
}

func keyUndoCoin(spenderHash *chainhash.Hash, inputIndex uint32) []byte {
	k := make([]byte, 37)
	k[0] = prefixUndoCoin
	copy(k[1:33], spenderHash[:])
	keyOrder.PutUint32(k[33:37], inputIndex)
	return k
}

func keySpender(txHash *chainhash.Hash, outputIndex uint32) []byte {
	k := make([]byte, 37)
	k[0] = prefixSpender
	copy(k[1:33], txHash[:])
	keyOrder.PutUint32(k[33:37], outputIndex)
	return k
}

func keyBlockRecord(height int32) []byte {
	k := make([]byte, 5)
	k[0] = prefixBlockRecord
	keyOrder.PutUint32(k[1:5], uint32(height))
	return k
}

func keyHeightIdx(height int32, txHash *chainhash.Hash) []byte {
	k := make([]byte, 37)
	k[0] = prefixHeightIdx
	keyOrder.PutUint32(k[1:5], uint32(height))
	copy(k[5:], txHash[:])
	return k
}

func keyTimeIdx(received time.Time, txHash *chainhash.Hash) []byte {
	k := make([]byte, 41)
	k[0] = prefixTimeIdx
	keyOrder.PutUint64(k[1:9], uint64(received.Unix()))
	copy(k[9:], txHash[:])
	return k
}

func keyUnminedIdx(txHash *chainhash.Hash) []byte {
	k := make([]byte, 33)
	k[0] = prefixUnminedIdx
	copy(k[1:], txHash[:])
	return k
}

func keyRBFIdx(txHash *chainhash.Hash) []byte {
	k := make([]byte, 33)
	k[0] = prefixRBFIdx
	copy(k[1:], txHash[:])
	return k
}

func keyAcctTxIdx(account uint32, txHash *chainhash.Hash) []byte {
	k := make([]byte, 37)
	k[0] = prefixAcctTxIdx
	keyOrder.PutUint32(k[1:5], account)
	copy(k[5:], txHash[:])
	return k
}

func keyAcctUnminedIdx(account uint32, txHash *chainhash.Hash) []byte {
	k := make([]byte, 37)
	k[0] = prefixAcctUnminedIdx
	keyOrder.PutUint32(k[1:5], account)
	copy(k[5:], txHash[:])
	return k
}

func keyAcctTimeIdx(account uint32, received time.Time, txHash *chainhash.Hash) []byte {
	k := make([]byte, 45)
	k[0] = prefixAcctTimeIdx
	keyOrder.PutUint32(k[1:5], account)
	keyOrder.PutUint64(k[5:13], uint64(received.Unix()))
	copy(k[13:], txHash[:])
	return k
}

func keyAcctHeightIdx(account uint32, height int32, txHash *chainhash.Hash) []byte {
	k := make([]byte, 41)
	k[0] = prefixAcctHeightIdx
	keyOrder.PutUint32(k[1:5], account)
	keyOrder.PutUint32(k[5:9], uint32(height))
	copy(k[9:], txHash[:])
	return k
}

func keyAcctCreditIdx(account uint32, txHash *chainhash.Hash, index uint32) []byte {
	k := make([]byte, 41)
	k[0] = prefixAcctCreditIdx
	keyOrder.PutUint32(k[1:5], account)
	copy(k[5:37], txHash[:])
	keyOrder.PutUint32(k[37:41], index)
	return k
}

// idxRange builds an inclusive range covering every key that begins with
// prefix, where keyLen is the total fixed key length of the record class.
// The upper bound pads the prefix with 0xff which is inclusive because no
// stored key under the prefix can exceed it.
func idxRange(prefix []byte, keyLen int) *kvdb.Range {
	gte := make([]byte, keyLen)
	copy(gte, prefix)
	lte := make([]byte, keyLen)
	copy(lte, prefix)
	for i := len(prefix); i < keyLen; i++ {
		lte[i] = 0xff
	}
	return &kvdb.Range{Gte: gte, Lte: lte}
}

// Transaction records

func valueTxRecord(rec *TxRecord) ([]byte, error) {
	tx := rec.SerializedTx
	if tx == nil {
		buf := bytes.NewBuffer(make([]byte, 0, rec.MsgTx.SerializeSize()))
		if err := rec.MsgTx.Serialize(buf); err != nil {
			str := fmt.Sprintf("unable to serialize transaction %v",
				rec.Hash)
			return nil, storeError(ErrInput, str, err)
		}
		tx = buf.Bytes()
	}

	n := 9
	if rec.Block != nil {
		n += 44
	}
	v := make([]byte, n, n+len(tx))
	valOrder.PutUint64(v[0:8], uint64(rec.Received.Unix()))
	if rec.Block != nil {
		v[8] = 1
		copy(v[9:41], rec.Block.Hash[:])
		valOrder.PutUint32(v[41:45], uint32(rec.Block.Height))
		valOrder.PutUint64(v[45:53], uint64(rec.Block.Time.Unix()))
	}
	return append(v, tx...), nil
}

func readTxRecord(txHash *chainhash.Hash, v []byte) (*TxRecord, error) {
	if len(v) < 9 {
		str := fmt.Sprintf("%s: short read (expected %d bytes, read %d)",
			"transaction record", 9, len(v))
		return nil, storeError(ErrData, str, nil)
	}

	rec := &TxRecord{Hash: *txHash}
	rec.Received = time.Unix(int64(valOrder.Uint64(v[0:8])), 0)
	off := 9
	if v[8] != 0 {
		if len(v) < 53 {
			str := fmt.Sprintf("%s: short read (expected %d bytes, "+
				"read %d)", "transaction record", 53, len(v))
			return nil, storeError(ErrData, str, nil)
		}
		block := &BlockMeta{}
		copy(block.Hash[:], v[9:41])
		block.Height = int32(valOrder.Uint32(v[41:45]))
		block.Time = time.Unix(int64(valOrder.Uint64(v[45:53])), 0)
		rec.Block = block
		off = 53
	}

	err := rec.MsgTx.Deserialize(bytes.NewReader(v[off:]))
	if err != nil {
		str := fmt.Sprintf("%s: failed to deserialize transaction %v",
			"transaction record", txHash)
		return nil, storeError(ErrData, str, err)
	}
	rec.SerializedTx = v[off:]
	return rec, nil
}

func fetchTxRecord(db kvdb.DB, txHash *chainhash.Hash) (*TxRecord, error) {
	v, err := db.Get(keyTxRecord(txHash))
	if err != nil {
		return nil, storeError(ErrDatabase, "failed to fetch transaction "+
			"record", err)
	}
	if v == nil {
		return nil, nil
	}
	return readTxRecord(txHash, v)
}

// Credits and undo coins

func valueCredit(c *Credit) []byte {
	v := make([]byte, 19+len(c.Coin.PkScript))
	v[0] = latestCreditVersion
	valOrder.PutUint32(v[1:5], uint32(c.Coin.Height))
	valOrder.PutUint64(v[5:13], uint64(c.Coin.Value))
	if c.Coin.Coinbase {
		v[13] |= 1 << 0
	}
	valOrder.PutUint32(v[14:18], uint32(len(c.Coin.PkScript)))
	copy(v[18:], c.Coin.PkScript)
	flags := v[18+len(c.Coin.PkScript):]
	if c.Spent {
		flags[0] |= 1 << 0
	}
	if c.Own {
		flags[0] |= 1 << 1
	}
	return v
}

func readCredit(v []byte) (*Credit, error) {
	if len(v) < 19 {
		str := fmt.Sprintf("credit: short read (expected %d bytes, "+
			"read %d)", 19, len(v))
		return nil, storeError(ErrData, str, nil)
	}

	version := v[0]
	c := &Credit{}
	c.Coin.Height = int32(valOrder.Uint32(v[1:5]))
	c.Coin.Value = btcutil.Amount(valOrder.Uint64(v[5:13]))
	c.Coin.Coinbase = v[13]&(1<<0) != 0
	scriptLen := int(valOrder.Uint32(v[14:18]))
	if len(v) != 19+scriptLen {
		str := fmt.Sprintf("credit: short read (expected %d bytes, "+
			"read %d)", 19+scriptLen, len(v))
		return nil, storeError(ErrData, str, nil)
	}
	c.Coin.PkScript = make([]byte, scriptLen)
	copy(c.Coin.PkScript, v[18:18+scriptLen])

	flags := v[18+scriptLen]
	switch version {
	case creditVersionLegacy:
		// Legacy credits only recorded the spent flag.  Every spend
		// was indexed by the wallet at the time, so the own flag is
		// implied.
		c.Spent = flags&(1<<0) != 0
		c.Own = true
	case creditVersionOwn:
		c.Spent = flags&(1<<0) != 0
		c.Own = flags&(1<<1) != 0
	default:
		str := fmt.Sprintf("credit: unknown serialization version %d",
			version)
		return nil, storeError(ErrData, str, nil)
	}
	return c, nil
}

func fetchCredit(db kvdb.DB, txHash *chainhash.Hash, index uint32) (*Credit, error) {
	v, err := db.Get(keyCredit(txHash, index))
	if err != nil {
		return nil, storeError(ErrDatabase, "failed to fetch credit", err)
	}
	if v == nil {
		return nil, nil
	}
	return readCredit(v)
}

func fetchUndoCoin(db kvdb.DB, spenderHash *chainhash.Hash, inputIndex uint32) (*Credit, error) {
	v, err := db.Get(keyUndoCoin(spenderHash, inputIndex))
	if err != nil {
		return nil, storeError(ErrDatabase, "failed to fetch undo coin",
			err)
	}
	if v == nil {
		return nil, nil
	}
	return readCredit(v)
}

// Spender markers

func valueSpender(sp *spender) []byte {
	v := make([]byte, 36)
	copy(v, sp.hash[:])
	valOrder.PutUint32(v[32:36], sp.index)
	return v
}

func readSpender(v []byte) (*spender, error) {
	if len(v) != 36 {
		str := fmt.Sprintf("spender: short read (expected %d bytes, "+
			"read %d)", 36, len(v))
		return nil, storeError(ErrData, str, nil)
	}
	sp := &spender{}
	copy(sp.hash[:], v[0:32])
	sp.index = valOrder.Uint32(v[32:36])
	return sp, nil
}

func fetchSpender(db kvdb.DB, txHash *chainhash.Hash, outputIndex uint32) (*spender, error) {
	v, err := db.Get(keySpender(txHash, outputIndex))
	if err != nil {
		return nil, storeError(ErrDatabase, "failed to fetch spender "+
			"marker", err)
	}
	if v == nil {
		return nil, nil
	}
	return readSpender(v)
}

// Block records

func valueBlockRecord(br *blockRecord) []byte {
	v := make([]byte, 44+32*len(br.transactions))
	copy(v[0:32], br.Hash[:])
	valOrder.PutUint64(v[32:40], uint64(br.Time.Unix()))
	valOrder.PutUint32(v[40:44], uint32(len(br.transactions)))
	off := 44
	for i := range br.transactions {
		copy(v[off:off+32], br.transactions[i][:])
		off += 32
	}
	return v
}

func readBlockRecord(height int32, v []byte) (*blockRecord, error) {
	if len(v) < 44 {
		str := fmt.Sprintf("block record: short read (expected %d "+
			"bytes, read %d)", 44, len(v))
		return nil, storeError(ErrData, str, nil)
	}
	numTx := int(valOrder.Uint32(v[40:44]))
	if len(v) != 44+32*numTx {
		str := fmt.Sprintf("block record: short read (expected %d "+
			"bytes, read %d)", 44+32*numTx, len(v))
		return nil, storeError(ErrData, str, nil)
	}

	br := &blockRecord{
		Block:        Block{Height: height},
		Time:         time.Unix(int64(valOrder.Uint64(v[32:40])), 0),
		transactions: make([]chainhash.Hash, numTx),
	}
	copy(br.Hash[:], v[0:32])
	off := 44
	for i := 0; i < numTx; i++ {
		copy(br.transactions[i][:], v[off:off+32])
		off += 32
	}
	return br, nil
}

func fetchBlockRecord(db kvdb.DB, height int32) (*blockRecord, error) {
	v, err := db.Get(keyBlockRecord(height))
	if err != nil {
		return nil, storeError(ErrDatabase, "failed to fetch block "+
			"record", err)
	}
	if v == nil {
		return nil, nil
	}
	return readBlockRecord(height, v)
}

// State and version

func valueState(s *State) []byte {
	v := make([]byte, 32)
	valOrder.PutUint64(v[0:8], s.TxCount)
	valOrder.PutUint64(v[8:16], s.CoinCount)
	valOrder.PutUint64(v[16:24], uint64(s.Confirmed))
	valOrder.PutUint64(v[24:32], uint64(s.Unconfirmed))
	return v
}

func readState(v []byte) (*State, error) {
	if len(v) != 32 {
		str := fmt.Sprintf("state: short read (expected %d bytes, "+
			"read %d)", 32, len(v))
		return nil, storeError(ErrData, str, nil)
	}
	return &State{
		TxCount:     valOrder.Uint64(v[0:8]),
		CoinCount:   valOrder.Uint64(v[8:16]),
		Confirmed:   btcutil.Amount(valOrder.Uint64(v[16:24])),
		Unconfirmed: btcutil.Amount(valOrder.Uint64(v[24:32])),
	}, nil
}

func fetchState(db kvdb.DB) (*State, error) {
	v, err := db.Get(rootStateKey)
	if err != nil {
		return nil, storeError(ErrDatabase, "failed to fetch state", err)
	}
	if v == nil {
		return nil, storeError(ErrData, "missing state counters", nil)
	}
	return readState(v)
}

func fetchVersion(db kvdb.DB) (uint32, error) {
	v, err := db.Get(rootVersionKey)
	if err != nil {
		return 0, storeError(ErrDatabase, "failed to fetch version", err)
	}
	if v == nil {
		return 0, nil
	}
	if len(v) != 4 {
		str := fmt.Sprintf("version: short read (expected %d bytes, "+
			"read %d)", 4, len(v))
		return 0, storeError(ErrData, str, nil)
	}
	return valOrder.Uint32(v), nil
}

func putVersion(b kvdb.Batch, version uint32) {
	v := make([]byte, 4)
	valOrder.PutUint32(v, version)
	b.Put(rootVersionKey, v)
}
