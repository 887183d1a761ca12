// Copyright (c) 2025-2026 The utxokit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txdb

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// CreditRecord contains metadata for an output of a transaction that is or
// was spendable by the wallet.
type CreditRecord struct {
	Index  uint32
	Amount btcutil.Amount
	Spent  bool
	Path   DerivationPath
}

// DebitRecord contains metadata for a transaction input which spent a
// tracked credit.
type DebitRecord struct {
	Index            uint32
	Amount           btcutil.Amount
	PreviousOutPoint wire.OutPoint
}

// TxDetails is intended to provide callers with access to rich details
// regarding a relevant transaction and which inputs and outputs are credits
// or debits.
type TxDetails struct {
	TxRecord
	Credits []CreditRecord
	Debits  []DebitRecord
}

// completeDetails fills in the credit and debit records from committed data.
// Records of an erased transaction are gone by the time its notification
// fires, so completion is best effort: resolver-known outputs are still
// reported, debits only while their undo coins exist.
func (s *Store) completeDetails(det *TxDetails) error {
	for i, txOut := range det.MsgTx.TxOut {
		path, err := s.resolver.LookupPath(txOut.PkScript)
		if err != nil {
			return err
		}
		if path == nil {
			continue
		}

		spent := false
		credit, err := fetchCredit(s.db, &det.Hash, uint32(i))
		if err != nil {
			return err
		}
		if credit != nil {
			spent = credit.Spent
		} else {
			sp, err := fetchSpender(s.db, &det.Hash, uint32(i))
			if err != nil {
				return err
			}
			spent = sp != nil
		}

		det.Credits = append(det.Credits, CreditRecord{
			Index:  uint32(i),
			Amount: btcutil.Amount(txOut.Value),
			Spent:  spent,
			Path:   *path,
		})
	}

	for i, txIn := range det.MsgTx.TxIn {
		undo, err := fetchUndoCoin(s.db, &det.Hash, uint32(i))
		if err != nil {
			return err
		}
		if undo == nil {
			continue
		}
		det.Debits = append(det.Debits, DebitRecord{
			Index:            uint32(i),
			Amount:           undo.Coin.Value,
			PreviousOutPoint: txIn.PreviousOutPoint,
		})
	}
	return nil
}

// TxDetails looks up all recorded details regarding a transaction, mined or
// not.  A nil value with a nil error is returned when the transaction is not
// recorded.
func (s *Store) TxDetails(txHash *chainhash.Hash) (*TxDetails, error) {
	rec, err := fetchTxRecord(s.db, txHash)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	det := &TxDetails{TxRecord: *rec}
	if err := s.completeDetails(det); err != nil {
		return nil, err
	}
	return det, nil
}
