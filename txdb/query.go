// Copyright (c) 2025-2026 The utxokit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txdb

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/utxokit/wtxdb/kvdb"
)

// UnspentOutput pairs an unspent credit with the outpoint funding it.
type UnspentOutput struct {
	OutPoint wire.OutPoint
	Coin     Coin
}

// Tx looks up the record for a transaction.  A nil record with a nil error
// is returned when the transaction is not recorded.
func (s *Store) Tx(txHash *chainhash.Hash) (*TxRecord, error) {
	return fetchTxRecord(s.db, txHash)
}

// GetCredit looks up the credit funding the outpoint, mined or not.  A nil
// credit with a nil error is returned when none is recorded.
func (s *Store) GetCredit(op wire.OutPoint) (*Credit, error) {
	return fetchCredit(s.db, &op.Hash, op.Index)
}

// Spender returns the outpoint-shaped location of the input spending the
// given output: the spending transaction hash and its input index.  A nil
// value means no recorded transaction spends the output.
func (s *Store) Spender(op wire.OutPoint) (*wire.OutPoint, error) {
	sp, err := fetchSpender(s.db, &op.Hash, op.Index)
	if err != nil || sp == nil {
		return nil, err
	}
	return &wire.OutPoint{Hash: sp.hash, Index: sp.index}, nil
}

// BlockHash returns the hash of the mined block at the given height, or nil
// if no relevant transaction was mined there.
func (s *Store) BlockHash(height int32) (*chainhash.Hash, error) {
	br, err := fetchBlockRecord(s.db, height)
	if err != nil || br == nil {
		return nil, err
	}
	hash := br.Hash
	return &hash, nil
}

// forEachCredit walks the credit records within the range.
func (s *Store) forEachCredit(rng *kvdb.Range, f func(op wire.OutPoint, credit *Credit) error) error {
	it, err := s.db.Iterator(rng)
	if err != nil {
		return storeError(ErrDatabase, "failed to scan credits", err)
	}
	defer it.Close()
	for it.Next() {
		k := it.Key()
		var op wire.OutPoint
		copy(op.Hash[:], k[1:33])
		op.Index = keyOrder.Uint32(k[33:37])
		credit, err := readCredit(it.Value())
		if err != nil {
			return err
		}
		if err := f(op, credit); err != nil {
			return err
		}
	}
	if err := it.Error(); err != nil {
		return storeError(ErrDatabase, "failed to scan credits", err)
	}
	return nil
}

// UnspentOutputs returns every unspent credit in the store.
func (s *Store) UnspentOutputs() ([]UnspentOutput, error) {
	var utxos []UnspentOutput
	err := s.forEachCredit(idxRange([]byte{prefixCredit}, 37),
		func(op wire.OutPoint, credit *Credit) error {
			if !credit.Spent {
				utxos = append(utxos, UnspentOutput{
					OutPoint: op,
					Coin:     credit.Coin,
				})
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return utxos, nil
}

// AccountUnspentOutputs returns every unspent credit derived from the given
// account.
func (s *Store) AccountUnspentOutputs(account uint32) ([]UnspentOutput, error) {
	prefix := make([]byte, 5)
	prefix[0] = prefixAcctCreditIdx
	keyOrder.PutUint32(prefix[1:5], account)

	it, err := s.db.Iterator(idxRange(prefix, 41))
	if err != nil {
		return nil, storeError(ErrDatabase, "failed to scan account "+
			"credits", err)
	}
	defer it.Close()

	var utxos []UnspentOutput
	for it.Next() {
		k := it.Key()
		var op wire.OutPoint
		copy(op.Hash[:], k[5:37])
		op.Index = keyOrder.Uint32(k[37:41])
		credit, err := fetchCredit(s.db, &op.Hash, op.Index)
		if err != nil {
			return nil, err
		}
		if credit != nil && !credit.Spent {
			utxos = append(utxos, UnspentOutput{
				OutPoint: op,
				Coin:     credit.Coin,
			})
		}
	}
	if err := it.Error(); err != nil {
		return nil, storeError(ErrDatabase, "failed to scan account "+
			"credits", err)
	}
	return utxos, nil
}

// AccountBalance computes the balance of a single account by walking its
// credit index.  Unlike Balance this is not a constant-time lookup.
func (s *Store) AccountBalance(account uint32) (Balance, error) {
	var bal Balance
	utxos, err := s.AccountUnspentOutputs(account)
	if err != nil {
		return bal, err
	}
	for i := range utxos {
		bal.CoinCount++
		bal.Unconfirmed += utxos[i].Coin.Value
		if utxos[i].Coin.Height != unminedHeight {
			bal.Confirmed += utxos[i].Coin.Value
		}
	}

	hashes, err := s.hashIdx(prefixAcctTxIdx, account)
	if err != nil {
		return bal, err
	}
	bal.TxCount = uint64(len(hashes))
	return bal, nil
}

// hashIdx collects the transaction hashes of a per-account dummy index.
func (s *Store) hashIdx(prefixByte byte, account uint32) ([]chainhash.Hash, error) {
	prefix := make([]byte, 5)
	prefix[0] = prefixByte
	keyOrder.PutUint32(prefix[1:5], account)

	it, err := s.db.Iterator(idxRange(prefix, 37))
	if err != nil {
		return nil, storeError(ErrDatabase, "failed to scan index", err)
	}
	defer it.Close()

	var hashes []chainhash.Hash
	for it.Next() {
		var txHash chainhash.Hash
		copy(txHash[:], it.Key()[5:37])
		hashes = append(hashes, txHash)
	}
	if err := it.Error(); err != nil {
		return nil, storeError(ErrDatabase, "failed to scan index", err)
	}
	return hashes, nil
}

// AccountTxHashes returns the hashes of every transaction crediting the
// account.
func (s *Store) AccountTxHashes(account uint32) ([]chainhash.Hash, error) {
	return s.hashIdx(prefixAcctTxIdx, account)
}

// AccountUnminedTxHashes returns the hashes of the account's unmined
// transactions.
func (s *Store) AccountUnminedTxHashes(account uint32) ([]chainhash.Hash, error) {
	return s.hashIdx(prefixAcctUnminedIdx, account)
}

// UnminedTxs returns the records of every unmined transaction.
func (s *Store) UnminedTxs() ([]*TxRecord, error) {
	it, err := s.db.Iterator(idxRange([]byte{prefixUnminedIdx}, 33))
	if err != nil {
		return nil, storeError(ErrDatabase, "failed to scan unmined "+
			"index", err)
	}
	defer it.Close()

	var recs []*TxRecord
	for it.Next() {
		var txHash chainhash.Hash
		copy(txHash[:], it.Key()[1:33])
		rec, err := fetchTxRecord(s.db, &txHash)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			recs = append(recs, rec)
		}
	}
	if err := it.Error(); err != nil {
		return nil, storeError(ErrDatabase, "failed to scan unmined "+
			"index", err)
	}
	return recs, nil
}

// History returns transaction records ordered by received time, oldest
// first, or newest first when reverse is set.  A positive limit caps the
// result.
func (s *Store) History(limit int, reverse bool) ([]*TxRecord, error) {
	rng := idxRange([]byte{prefixTimeIdx}, 41)
	rng.Reverse = reverse
	rng.Limit = limit
	return s.timeIdxRecords(rng)
}

// TimeRange returns the records of every transaction received within
// [start, end], oldest first.
func (s *Store) TimeRange(start, end time.Time) ([]*TxRecord, error) {
	var zero chainhash.Hash
	var max chainhash.Hash
	for i := range max {
		max[i] = 0xff
	}
	return s.timeIdxRecords(&kvdb.Range{
		Gte: keyTimeIdx(start, &zero),
		Lte: keyTimeIdx(end, &max),
	})
}

func (s *Store) timeIdxRecords(rng *kvdb.Range) ([]*TxRecord, error) {
	it, err := s.db.Iterator(rng)
	if err != nil {
		return nil, storeError(ErrDatabase, "failed to scan time "+
			"index", err)
	}
	defer it.Close()

	var recs []*TxRecord
	for it.Next() {
		var txHash chainhash.Hash
		copy(txHash[:], it.Key()[9:41])
		rec, err := fetchTxRecord(s.db, &txHash)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			recs = append(recs, rec)
		}
	}
	if err := it.Error(); err != nil {
		return nil, storeError(ErrDatabase, "failed to scan time "+
			"index", err)
	}
	return recs, nil
}

// HeightRange returns the records of every transaction mined within the
// height range [start, end], lowest block first.
func (s *Store) HeightRange(start, end int32) ([]*TxRecord, error) {
	var zero chainhash.Hash
	var max chainhash.Hash
	for i := range max {
		max[i] = 0xff
	}
	it, err := s.db.Iterator(&kvdb.Range{
		Gte: keyHeightIdx(start, &zero),
		Lte: keyHeightIdx(end, &max),
	})
	if err != nil {
		return nil, storeError(ErrDatabase, "failed to scan height "+
			"index", err)
	}
	defer it.Close()

	var recs []*TxRecord
	for it.Next() {
		var txHash chainhash.Hash
		copy(txHash[:], it.Key()[5:37])
		rec, err := fetchTxRecord(s.db, &txHash)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			recs = append(recs, rec)
		}
	}
	if err := it.Error(); err != nil {
		return nil, storeError(ErrDatabase, "failed to scan height "+
			"index", err)
	}
	return recs, nil
}

// RecomputeState derives fresh counters by walking every record instead of
// trusting the maintained ones.  It exists for consistency audits; Balance
// is the cheap path.
func (s *Store) RecomputeState() (*State, error) {
	state := &State{}

	err := s.forEachCredit(idxRange([]byte{prefixCredit}, 37),
		func(op wire.OutPoint, credit *Credit) error {
			if credit.Spent {
				return nil
			}
			state.CoinCount++
			state.Unconfirmed += credit.Coin.Value
			if credit.Coin.Height != unminedHeight {
				state.Confirmed += credit.Coin.Value
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	it, err := s.db.Iterator(idxRange([]byte{prefixTxRecord}, 33))
	if err != nil {
		return nil, storeError(ErrDatabase, "failed to scan "+
			"transaction records", err)
	}
	defer it.Close()
	for it.Next() {
		state.TxCount++
	}
	if err := it.Error(); err != nil {
		return nil, storeError(ErrDatabase, "failed to scan "+
			"transaction records", err)
	}
	return state, nil
}
