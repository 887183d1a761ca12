// Copyright (c) 2025-2026 The utxokit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txdb

import (
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/utxokit/wtxdb/kvdb"
)

// unminedHeight marks a coin whose funding transaction is not mined.
const unminedHeight = -1

// Options customizes a Store opened with Open.  The zero value is valid.
type Options struct {
	// Notifications registers lifecycle callbacks.  May be nil.
	Notifications *Notifications

	// CoinCacheSize bounds the coin cache, in credits.  Zero selects the
	// default.
	CoinCacheSize uint64

	// Clock provides the current time for Zap.  Nil selects the wall
	// clock.
	Clock clock.Clock
}

// Store implements a transaction store for a wallet: it tracks relevant
// transactions, the outputs they create for the wallet, the inputs that spend
// them, and running balance counters, all on top of a flat ordered key-value
// database.
//
// Mutating methods are serialized by an internal mutex and each runs as a
// single atomic batch against the database.  Read methods may run
// concurrently with mutations and observe the most recently committed batch.
type Store struct {
	mu sync.Mutex // serializes mutating operations

	db       kvdb.DB
	resolver PathResolver
	clock    clock.Clock
	notifs   *Notifications
	cache    *coinCache

	stateMu sync.RWMutex
	state   State
}

// Create initializes a new transaction store in the passed database.  It
// fails with ErrAlreadyExists if one was already created there.
func Create(db kvdb.DB) error {
	version, err := fetchVersion(db)
	if err != nil {
		return err
	}
	if version != 0 {
		str := "transaction store already exists"
		return storeError(ErrAlreadyExists, str, nil)
	}

	b, err := db.Batch()
	if err != nil {
		return storeError(ErrDatabase, "failed to begin batch", err)
	}
	putVersion(b, latestVersion)
	b.Put(rootStateKey, valueState(&State{}))
	if err := b.Write(); err != nil {
		return storeError(ErrDatabase, "failed to create store", err)
	}
	return nil
}

// Open opens an existing transaction store from the passed database.  The
// resolver decides which output scripts belong to the wallet and is required.
func Open(db kvdb.DB, resolver PathResolver, opts *Options) (*Store, error) {
	version, err := fetchVersion(db)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		str := "transaction store does not exist"
		return nil, storeError(ErrNoExists, str, nil)
	}
	if version > latestVersion {
		str := fmt.Sprintf("unknown database version %d", version)
		return nil, storeError(ErrUnknownVersion, str, nil)
	}

	state, err := fetchState(db)
	if err != nil {
		return nil, err
	}

	var o Options
	if opts != nil {
		o = *opts
	}
	cacheSize := o.CoinCacheSize
	if cacheSize == 0 {
		cacheSize = defaultCoinCacheSize
	}
	c := o.Clock
	if c == nil {
		c = clock.NewDefaultClock()
	}

	return &Store{
		db:       db,
		resolver: resolver,
		clock:    c,
		notifs:   o.Notifications,
		cache:    newCoinCache(cacheSize),
		state:    *state,
	}, nil
}

// Balance returns a copy of the running counters.
func (s *Store) Balance() Balance {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Credit and marker primitives.  All credit access inside a batch goes
// through the coin cache so staged writes are visible to later reads of the
// same batch.

// getCredit returns the credit funding the outpoint, or nil if the store
// holds none.  The returned credit is a copy and safe to mutate.
func (s *Store) getCredit(op wire.OutPoint) (*Credit, error) {
	if credit, known := s.cache.get(op); known {
		if credit == nil {
			return nil, nil
		}
		c := *credit
		return &c, nil
	}
	credit, err := fetchCredit(s.db, &op.Hash, op.Index)
	if err != nil {
		return nil, err
	}
	s.cache.put(op, credit)
	if credit == nil {
		return nil, nil
	}
	c := *credit
	return &c, nil
}

func (s *Store) saveCredit(b *txBatch, op wire.OutPoint, credit *Credit) error {
	b.kv.Put(keyCredit(&op.Hash, op.Index), valueCredit(credit))
	s.cache.put(op, credit)

	path, err := s.resolver.LookupPath(credit.Coin.PkScript)
	if err != nil {
		return err
	}
	if path != nil {
		b.kv.Put(keyAcctCreditIdx(path.Account, &op.Hash, op.Index), nil)
	}
	return nil
}

func (s *Store) deleteCredit(b *txBatch, op wire.OutPoint, credit *Credit) error {
	b.kv.Delete(keyCredit(&op.Hash, op.Index))
	s.cache.del(op)

	path, err := s.resolver.LookupPath(credit.Coin.PkScript)
	if err != nil {
		return err
	}
	if path != nil {
		b.kv.Delete(keyAcctCreditIdx(path.Account, &op.Hash, op.Index))
	}
	return nil
}

// getSpenderMarker returns the input recorded as spending the outpoint,
// observing writes staged in the batch.
func (s *Store) getSpenderMarker(b *txBatch, op wire.OutPoint) (*spender, error) {
	if b != nil {
		if sp, ok := b.markers[op]; ok {
			return sp, nil
		}
	}
	return fetchSpender(s.db, &op.Hash, op.Index)
}

func (s *Store) putSpenderMarker(b *txBatch, op wire.OutPoint, sp *spender) {
	b.kv.Put(keySpender(&op.Hash, op.Index), valueSpender(sp))
	b.markers[op] = sp
}

func (s *Store) deleteSpenderMarker(b *txBatch, op wire.OutPoint) {
	b.kv.Delete(keySpender(&op.Hash, op.Index))
	b.markers[op] = nil
}

// getBlockRecord returns the block record for the height, observing writes
// staged in the batch.
func (s *Store) getBlockRecord(b *txBatch, height int32) (*blockRecord, error) {
	if b != nil {
		if br, ok := b.blocks[height]; ok {
			return br, nil
		}
	}
	return fetchBlockRecord(s.db, height)
}

// appendBlockRecord adds a transaction to the block record for the block,
// creating the record first if needed.
func (s *Store) appendBlockRecord(b *txBatch, txHash chainhash.Hash, block *BlockMeta) error {
	br, err := s.getBlockRecord(b, block.Height)
	if err != nil {
		return err
	}
	if br == nil {
		br = &blockRecord{
			Block: block.Block,
			Time:  block.Time,
		}
	}
	for i := range br.transactions {
		if br.transactions[i] == txHash {
			return nil
		}
	}
	br.transactions = append(br.transactions, txHash)
	b.blocks[block.Height] = br
	b.kv.Put(keyBlockRecord(block.Height), valueBlockRecord(br))
	return nil
}

// removeBlockRecordTx removes a transaction from the block record at the
// height, deleting the record once it empties.
func (s *Store) removeBlockRecordTx(b *txBatch, txHash chainhash.Hash, height int32) error {
	br, err := s.getBlockRecord(b, height)
	if err != nil || br == nil {
		return err
	}
	for i := range br.transactions {
		if br.transactions[i] != txHash {
			continue
		}
		br.transactions = append(br.transactions[:i], br.transactions[i+1:]...)
		break
	}
	if len(br.transactions) == 0 {
		b.blocks[height] = nil
		b.kv.Delete(keyBlockRecord(height))
		return nil
	}
	b.blocks[height] = br
	b.kv.Put(keyBlockRecord(height), valueBlockRecord(br))
	return nil
}

// txAccounts returns the set of accounts the transaction's outputs derive
// from.  The per-account transaction indexes are keyed by this set.
func (s *Store) txAccounts(rec *TxRecord) (map[uint32]struct{}, error) {
	accounts := make(map[uint32]struct{})
	for _, txOut := range rec.MsgTx.TxOut {
		path, err := s.resolver.LookupPath(txOut.PkScript)
		if err != nil {
			return nil, err
		}
		if path != nil {
			accounts[path.Account] = struct{}{}
		}
	}
	return accounts, nil
}

// signalsReplacement reports whether the transaction opts into replacement:
// either directly through a low input sequence, or inherited by spending an
// output of an unmined transaction that did.
func (s *Store) signalsReplacement(rec *TxRecord) (bool, error) {
	for _, txIn := range rec.MsgTx.TxIn {
		if txIn.Sequence < wire.MaxTxInSequenceNum-1 {
			return true, nil
		}
	}
	for _, txIn := range rec.MsgTx.TxIn {
		replaceable, err := s.db.Has(keyRBFIdx(&txIn.PreviousOutPoint.Hash))
		if err != nil {
			return false, storeError(ErrDatabase, "failed to check "+
				"replacement index", err)
		}
		if replaceable {
			return true, nil
		}
	}
	return false, nil
}

// Add inserts a new relevant transaction, or marks a known unmined
// transaction as mined when block is non-nil.  It reports whether the store
// changed: a transaction touching nothing the wallet tracks is dropped
// without a write, as is a duplicate of an already recorded transaction.
//
// Inserting an unmined double spend evicts the already recorded spender and
// its descendants, unless the new transaction signals replacement, in which
// case both survive until one of them is mined.  If a mined transaction
// already spends one of the inputs, the incoming transaction loses and is
// dropped.
func (s *Store) Add(rec *TxRecord, block *BlockMeta) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := fetchTxRecord(s.db, &rec.Hash)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if existing.Block != nil {
			if block != nil && existing.Block.Hash != block.Hash {
				str := fmt.Sprintf("transaction %v is already "+
					"mined in block %v", rec.Hash,
					existing.Block.Hash)
				return false, storeError(ErrInvalidState, str, nil)
			}
			return false, nil
		}
		if block == nil {
			return false, nil
		}

		// A transaction we have been holding as unmined was mined.
		b, err := s.beginBatch()
		if err != nil {
			return false, err
		}
		if _, err := s.removeConflicts(b, existing, false); err != nil {
			s.dropBatch(b)
			return false, err
		}
		if err := s.confirm(b, existing, block); err != nil {
			s.dropBatch(b)
			return false, err
		}
		b.queueBalance()
		return true, s.commitBatch(b)
	}

	b, err := s.beginBatch()
	if err != nil {
		return false, err
	}
	if block == nil {
		replacement, err := s.signalsReplacement(rec)
		if err != nil {
			s.dropBatch(b)
			return false, err
		}
		if replacement {
			// Replacement transactions coexist with the spends
			// they conflict with.  The loser is evicted when one
			// of them is mined.
			b.kv.Put(keyRBFIdx(&rec.Hash), nil)
		} else {
			ok, err := s.removeConflicts(b, rec, true)
			if err != nil {
				s.dropBatch(b)
				return false, err
			}
			if !ok {
				log.Debugf("Ignoring transaction %v which "+
					"double spends a mined input", rec.Hash)
				s.dropBatch(b)
				return false, nil
			}
		}
	} else {
		if _, err := s.removeConflicts(b, rec, false); err != nil {
			s.dropBatch(b)
			return false, err
		}
	}

	if err := s.insert(b, rec, block); err != nil {
		s.dropBatch(b)
		return false, err
	}
	if !b.relevant {
		s.dropBatch(b)
		return false, nil
	}
	b.queueBalance()
	return true, s.commitBatch(b)
}

// insert records the transaction, spending tracked credits its inputs
// consume and creating credits for outputs the resolver claims.  The batch's
// relevant flag is left false if the transaction touches nothing tracked.
func (s *Store) insert(b *txBatch, rec *TxRecord, block *BlockMeta) error {
	log.Tracef("Inserting transaction %v: %v", rec.Hash,
		newLogClosure(func() string {
			return spew.Sdump(&rec.MsgTx)
		}))

	coinbase := blockchain.IsCoinBaseTx(&rec.MsgTx)
	if coinbase && block == nil {
		str := fmt.Sprintf("coinbase transaction %v cannot be unmined",
			rec.Hash)
		return storeError(ErrInput, str, nil)
	}

	if !coinbase {
		for i, txIn := range rec.MsgTx.TxIn {
			op := txIn.PreviousOutPoint
			credit, err := s.getCredit(op)
			if err != nil {
				return err
			}
			if credit == nil {
				// Unknown output.  Leave a marker behind so a
				// late arriving funding transaction can resolve
				// the spend.
				sp, err := s.getSpenderMarker(b, op)
				if err != nil {
					return err
				}
				if sp == nil {
					s.putSpenderMarker(b, op, &spender{
						hash:  rec.Hash,
						index: uint32(i),
					})
				}
				continue
			}
			if credit.Spent {
				// Passive double spend: the marker and undo
				// coin stay with the recorded spender until
				// one side is mined.
				log.Debugf("Transaction %v double spends "+
					"output %v", rec.Hash, op)
				continue
			}

			spent := &Credit{Coin: credit.Coin, Spent: true, Own: true}
			b.kv.Put(keyUndoCoin(&rec.Hash, uint32(i)),
				valueCredit(spent))
			s.putSpenderMarker(b, op, &spender{
				hash:  rec.Hash,
				index: uint32(i),
			})

			b.state.CoinCount--
			b.state.Unconfirmed -= credit.Coin.Value
			if credit.Coin.Height != unminedHeight {
				b.state.Confirmed -= credit.Coin.Value
			}

			if block == nil {
				// Keep the credit visible, flagged spent, so
				// the wallet view can be compared against the
				// chain while the spend is unmined.
				if err := s.saveCredit(b, op, spent); err != nil {
					return err
				}
			} else {
				if err := s.deleteCredit(b, op, credit); err != nil {
					return err
				}
			}
			b.relevant = true
		}
	}

	for i, txOut := range rec.MsgTx.TxOut {
		path, err := s.resolver.LookupPath(txOut.PkScript)
		if err != nil {
			return err
		}
		if path == nil {
			continue
		}
		op := wire.OutPoint{Hash: rec.Hash, Index: uint32(i)}

		resolved, err := s.resolveOutput(b, rec, op, txOut, block)
		if err != nil {
			return err
		}
		if !resolved {
			coin := Coin{
				Value:    btcutil.Amount(txOut.Value),
				PkScript: txOut.PkScript,
				Height:   unminedHeight,
				Coinbase: coinbase,
			}
			if block != nil {
				coin.Height = block.Height
			}
			if err := s.saveCredit(b, op, &Credit{Coin: coin}); err != nil {
				return err
			}
			b.state.CoinCount++
			b.state.Unconfirmed += coin.Value
			if block != nil {
				b.state.Confirmed += coin.Value
			}
		}
		b.relevant = true
	}

	if !b.relevant {
		return nil
	}

	rec.Block = block
	v, err := valueTxRecord(rec)
	if err != nil {
		return err
	}
	b.kv.Put(keyTxRecord(&rec.Hash), v)
	b.kv.Put(keyTimeIdx(rec.Received, &rec.Hash), nil)

	accounts, err := s.txAccounts(rec)
	if err != nil {
		return err
	}
	for acct := range accounts {
		b.kv.Put(keyAcctTxIdx(acct, &rec.Hash), nil)
		b.kv.Put(keyAcctTimeIdx(acct, rec.Received, &rec.Hash), nil)
	}
	if block == nil {
		b.kv.Put(keyUnminedIdx(&rec.Hash), nil)
		for acct := range accounts {
			b.kv.Put(keyAcctUnminedIdx(acct, &rec.Hash), nil)
		}
		log.Debugf("Inserting unmined transaction %v", rec.Hash)
	} else {
		b.kv.Put(keyHeightIdx(block.Height, &rec.Hash), nil)
		for acct := range accounts {
			b.kv.Put(keyAcctHeightIdx(acct, block.Height, &rec.Hash), nil)
		}
		if err := s.appendBlockRecord(b, rec.Hash, block); err != nil {
			return err
		}
		log.Debugf("Inserting transaction %v mined in block %d",
			rec.Hash, block.Height)
	}

	b.state.TxCount++
	b.queueTx(eventInserted, rec)
	return nil
}

// resolveOutput checks whether an output of a newly inserted transaction is
// already being spent by a previously recorded transaction, and if so,
// records the credit in spent form together with the spender's undo coin.
// Balances are untouched: the output is created and consumed in one step.
func (s *Store) resolveOutput(b *txBatch, rec *TxRecord, op wire.OutPoint,
	txOut *wire.TxOut, block *BlockMeta) (bool, error) {

	sp, err := s.getSpenderMarker(b, op)
	if err != nil {
		return false, err
	}
	if sp == nil {
		return false, nil
	}
	spenderRec, err := fetchTxRecord(s.db, &sp.hash)
	if err != nil {
		return false, err
	}
	if spenderRec == nil {
		s.deleteSpenderMarker(b, op)
		return false, nil
	}

	coin := Coin{
		Value:    btcutil.Amount(txOut.Value),
		PkScript: txOut.PkScript,
		Height:   unminedHeight,
	}
	if block != nil {
		coin.Height = block.Height
	}
	spent := &Credit{Coin: coin, Spent: true}
	b.kv.Put(keyUndoCoin(&sp.hash, sp.index), valueCredit(spent))
	if spenderRec.Block == nil {
		if err := s.saveCredit(b, op, spent); err != nil {
			return false, err
		}
	}
	log.Debugf("Output %v of %v was already spent by %v", op.Index,
		rec.Hash, sp.hash)
	return true, nil
}

// Confirm marks a recorded unmined transaction as mined in the given block.
// Unmined transactions conflicting with it are evicted first, together with
// their descendants.
func (s *Store) Confirm(txHash *chainhash.Hash, block *BlockMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := fetchTxRecord(s.db, txHash)
	if err != nil {
		return err
	}
	if rec == nil {
		str := fmt.Sprintf("no transaction record for %v", txHash)
		return storeError(ErrNoExists, str, nil)
	}
	if rec.Block != nil {
		str := fmt.Sprintf("transaction %v is already mined in block "+
			"%v", txHash, rec.Block.Hash)
		return storeError(ErrAlreadyExists, str, nil)
	}

	b, err := s.beginBatch()
	if err != nil {
		return err
	}
	if _, err := s.removeConflicts(b, rec, false); err != nil {
		s.dropBatch(b)
		return err
	}
	if err := s.confirm(b, rec, block); err != nil {
		s.dropBatch(b)
		return err
	}
	b.queueBalance()
	return s.commitBatch(b)
}

// confirm moves an unmined transaction into the given block.  Placeholder
// spent credits for its inputs become durably removed, spends deferred by
// replacement are settled, and its own outputs move to mined heights.
func (s *Store) confirm(b *txBatch, rec *TxRecord, block *BlockMeta) error {
	rec.Block = block
	v, err := valueTxRecord(rec)
	if err != nil {
		return err
	}
	b.kv.Put(keyTxRecord(&rec.Hash), v)

	accounts, err := s.txAccounts(rec)
	if err != nil {
		return err
	}
	b.kv.Delete(keyUnminedIdx(&rec.Hash))
	b.kv.Delete(keyRBFIdx(&rec.Hash))
	b.kv.Put(keyHeightIdx(block.Height, &rec.Hash), nil)
	for acct := range accounts {
		b.kv.Delete(keyAcctUnminedIdx(acct, &rec.Hash))
		b.kv.Put(keyAcctHeightIdx(acct, block.Height, &rec.Hash), nil)
	}
	if err := s.appendBlockRecord(b, rec.Hash, block); err != nil {
		return err
	}

	for i, txIn := range rec.MsgTx.TxIn {
		op := txIn.PreviousOutPoint
		undo, err := fetchUndoCoin(s.db, &rec.Hash, uint32(i))
		if err != nil {
			return err
		}
		if undo != nil {
			// The spend was indexed when the transaction was
			// inserted.  Drop the placeholder spent credit now
			// that the spend is mined.
			credit, err := s.getCredit(op)
			if err != nil {
				return err
			}
			if credit != nil && credit.Spent {
				if err := s.deleteCredit(b, op, credit); err != nil {
					return err
				}
			}
			continue
		}

		// No undo coin: a foreign input, or a spend deferred because
		// this transaction signaled replacement.  Any conflicting
		// spender was evicted before this call, so a live credit here
		// means the deferred spend settles now.
		credit, err := s.getCredit(op)
		if err != nil {
			return err
		}
		if credit == nil {
			continue
		}
		if credit.Spent {
			log.Warnf("Credit %v still spent by another "+
				"transaction while confirming %v", op, rec.Hash)
			continue
		}
		spent := &Credit{Coin: credit.Coin, Spent: true, Own: true}
		b.kv.Put(keyUndoCoin(&rec.Hash, uint32(i)), valueCredit(spent))
		s.putSpenderMarker(b, op, &spender{hash: rec.Hash, index: uint32(i)})
		b.state.CoinCount--
		b.state.Unconfirmed -= credit.Coin.Value
		if credit.Coin.Height != unminedHeight {
			b.state.Confirmed -= credit.Coin.Value
		}
		if err := s.deleteCredit(b, op, credit); err != nil {
			return err
		}
	}

	for i := range rec.MsgTx.TxOut {
		op := wire.OutPoint{Hash: rec.Hash, Index: uint32(i)}
		credit, err := s.getCredit(op)
		if err != nil {
			return err
		}
		if credit == nil {
			continue
		}
		credit.Coin.Height = block.Height
		if err := s.saveCredit(b, op, credit); err != nil {
			return err
		}
		if credit.Spent {
			if err := s.updateSpentCoin(b, op, &credit.Coin); err != nil {
				return err
			}
		} else {
			b.state.Confirmed += credit.Coin.Value
		}
	}

	b.relevant = true
	b.queueTx(eventConfirmed, rec)
	log.Infof("Marking unmined transaction %v mined in block %d",
		rec.Hash, block.Height)
	return nil
}

// updateSpentCoin rewrites the undo coin held by the spender of the outpoint
// so it matches the credit's current coin, keeping the two copies in sync
// when the funding transaction moves between mined and unmined.
func (s *Store) updateSpentCoin(b *txBatch, op wire.OutPoint, coin *Coin) error {
	sp, err := s.getSpenderMarker(b, op)
	if err != nil {
		return err
	}
	if sp == nil {
		log.Warnf("Missing spender marker for spent credit %v", op)
		return nil
	}
	undo, err := fetchUndoCoin(s.db, &sp.hash, sp.index)
	if err != nil {
		return err
	}
	if undo == nil {
		log.Warnf("Missing undo coin for input %d of %v", sp.index,
			sp.hash)
		return nil
	}
	undo.Coin = *coin
	b.kv.Put(keyUndoCoin(&sp.hash, sp.index), valueCredit(undo))
	return nil
}

// Unconfirm moves a mined transaction back to the unmined pool after its
// block was disconnected.  Coinbase transactions cannot exist unmined, so a
// disconnected coinbase is removed instead, together with every descendant.
func (s *Store) Unconfirm(txHash *chainhash.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := fetchTxRecord(s.db, txHash)
	if err != nil {
		return err
	}
	if rec == nil {
		str := fmt.Sprintf("no transaction record for %v", txHash)
		return storeError(ErrNoExists, str, nil)
	}
	if rec.Block == nil {
		str := fmt.Sprintf("transaction %v is not mined", txHash)
		return storeError(ErrInvalidState, str, nil)
	}

	b, err := s.beginBatch()
	if err != nil {
		return err
	}
	if blockchain.IsCoinBaseTx(&rec.MsgTx) {
		err = s.removeRecursive(b, rec, eventRemoved)
	} else {
		err = s.disconnect(b, rec)
	}
	if err != nil {
		s.dropBatch(b)
		return err
	}
	b.queueBalance()
	return s.commitBatch(b)
}

// disconnect is the exact inverse of confirm: the transaction returns to the
// unmined pool, its outputs return to unmined heights, and placeholder spent
// credits removed when its spends were mined are resurrected from undo coins.
func (s *Store) disconnect(b *txBatch, rec *TxRecord) error {
	block := rec.Block
	rec.Block = nil
	v, err := valueTxRecord(rec)
	if err != nil {
		return err
	}
	b.kv.Put(keyTxRecord(&rec.Hash), v)

	accounts, err := s.txAccounts(rec)
	if err != nil {
		return err
	}
	b.kv.Put(keyUnminedIdx(&rec.Hash), nil)
	b.kv.Delete(keyHeightIdx(block.Height, &rec.Hash))
	for acct := range accounts {
		b.kv.Put(keyAcctUnminedIdx(acct, &rec.Hash), nil)
		b.kv.Delete(keyAcctHeightIdx(acct, block.Height, &rec.Hash))
	}
	if err := s.removeBlockRecordTx(b, rec.Hash, block.Height); err != nil {
		return err
	}

	// Confirming dropped the replacement index entry.  Restore it so the
	// transaction keeps its coexistence semantics, and so descendants
	// inherit the signal again, now that it is back in the unmined pool.
	replaceable, err := s.signalsReplacement(rec)
	if err != nil {
		return err
	}
	if replaceable {
		b.kv.Put(keyRBFIdx(&rec.Hash), nil)
	}

	for i := range rec.MsgTx.TxOut {
		op := wire.OutPoint{Hash: rec.Hash, Index: uint32(i)}
		credit, err := s.getCredit(op)
		if err != nil {
			return err
		}
		if credit == nil {
			continue
		}
		credit.Coin.Height = unminedHeight
		if err := s.saveCredit(b, op, credit); err != nil {
			return err
		}
		if credit.Spent {
			if err := s.updateSpentCoin(b, op, &credit.Coin); err != nil {
				return err
			}
		} else {
			b.state.Confirmed -= credit.Coin.Value
		}
	}

	for i := range rec.MsgTx.TxIn {
		undo, err := fetchUndoCoin(s.db, &rec.Hash, uint32(i))
		if err != nil {
			return err
		}
		if undo == nil {
			continue
		}
		op := rec.MsgTx.TxIn[i].PreviousOutPoint
		if err := s.saveCredit(b, op, undo); err != nil {
			return err
		}
	}

	b.relevant = true
	b.queueTx(eventUnconfirmed, rec)
	log.Infof("Moving transaction %v from block %d back to unmined pool",
		rec.Hash, block.Height)
	return nil
}

// Revert disconnects every transaction mined above the given height, newest
// block first, spenders before the transactions funding them.  Coinbase
// transactions cannot return to the unmined pool and are removed outright,
// together with their descendants.  It returns the number of block
// transactions processed directly; transactions swept up by a removal
// cascade are not counted again.
func (s *Store) Revert(height int32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Collect affected heights in descending order.
	it, err := s.db.Iterator(&kvdb.Range{
		Gte:     keyBlockRecord(height + 1),
		Lte:     keyBlockRecord(1<<31 - 1),
		Reverse: true,
	})
	if err != nil {
		return 0, storeError(ErrDatabase, "failed to scan block "+
			"records", err)
	}
	var heights []int32
	for it.Next() {
		heights = append(heights, int32(keyOrder.Uint32(it.Key()[1:5])))
	}
	if err := it.Error(); err != nil {
		it.Close()
		return 0, storeError(ErrDatabase, "failed to scan block "+
			"records", err)
	}
	it.Close()

	n := 0
	for _, h := range heights {
		br, err := fetchBlockRecord(s.db, h)
		if err != nil {
			return n, err
		}
		if br == nil {
			continue
		}

		recs := make([]*TxRecord, 0, len(br.transactions))
		for i := range br.transactions {
			rec, err := fetchTxRecord(s.db, &br.transactions[i])
			if err != nil {
				return n, err
			}
			if rec != nil {
				recs = append(recs, rec)
			}
		}
		sorted := dependencySort(recs)

		b, err := s.beginBatch()
		if err != nil {
			return n, err
		}
		disconnected := 0
		for i := len(sorted) - 1; i >= 0; i-- {
			rec := sorted[i]
			if _, ok := b.erased[rec.Hash]; ok {
				continue
			}
			if blockchain.IsCoinBaseTx(&rec.MsgTx) {
				err = s.removeRecursive(b, rec, eventRemoved)
			} else {
				err = s.disconnect(b, rec)
			}
			if err != nil {
				s.dropBatch(b)
				return n, err
			}
			disconnected++
		}
		b.queueBalance()
		if err := s.commitBatch(b); err != nil {
			return n, err
		}
		n += disconnected
		log.Infof("Disconnected %d transactions from block %d",
			disconnected, h)
	}
	return n, nil
}

// Remove erases the transaction and every descendant spending from it,
// returning whether anything was removed.
func (s *Store) Remove(txHash *chainhash.Hash) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := fetchTxRecord(s.db, txHash)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	b, err := s.beginBatch()
	if err != nil {
		return false, err
	}
	if err := s.removeRecursive(b, rec, eventRemoved); err != nil {
		s.dropBatch(b)
		return false, err
	}
	b.queueBalance()
	return true, s.commitBatch(b)
}

// Abandon erases an unmined transaction and its descendants.  Unlike Remove
// it refuses mined transactions, and fails if the transaction is unknown.
func (s *Store) Abandon(txHash *chainhash.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := fetchTxRecord(s.db, txHash)
	if err != nil {
		return err
	}
	if rec == nil {
		str := fmt.Sprintf("no transaction record for %v", txHash)
		return storeError(ErrNoExists, str, nil)
	}
	if rec.Block != nil {
		str := fmt.Sprintf("cannot abandon mined transaction %v",
			txHash)
		return storeError(ErrInvalidState, str, nil)
	}

	b, err := s.beginBatch()
	if err != nil {
		return err
	}
	if err := s.removeRecursive(b, rec, eventRemoved); err != nil {
		s.dropBatch(b)
		return err
	}
	b.queueBalance()
	return s.commitBatch(b)
}

// Zap erases every unmined transaction received before the given age,
// together with any descendants.  It returns the hashes of all erased
// transactions.
func (s *Store) Zap(age time.Duration) ([]chainhash.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().Add(-age)

	it, err := s.db.Iterator(idxRange([]byte{prefixUnminedIdx}, 33))
	if err != nil {
		return nil, storeError(ErrDatabase, "failed to scan unmined "+
			"index", err)
	}
	var stale []*TxRecord
	for it.Next() {
		var txHash chainhash.Hash
		copy(txHash[:], it.Key()[1:33])
		rec, err := fetchTxRecord(s.db, &txHash)
		if err != nil {
			it.Close()
			return nil, err
		}
		if rec != nil && rec.Received.Before(cutoff) {
			stale = append(stale, rec)
		}
	}
	if err := it.Error(); err != nil {
		it.Close()
		return nil, storeError(ErrDatabase, "failed to scan unmined "+
			"index", err)
	}
	it.Close()

	if len(stale) == 0 {
		return nil, nil
	}

	b, err := s.beginBatch()
	if err != nil {
		return nil, err
	}
	for _, rec := range stale {
		if _, ok := b.erased[rec.Hash]; ok {
			continue
		}
		if err := s.removeRecursive(b, rec, eventRemoved); err != nil {
			s.dropBatch(b)
			return nil, err
		}
	}
	b.queueBalance()

	zapped := make([]chainhash.Hash, 0, len(b.erased))
	for txHash := range b.erased {
		zapped = append(zapped, txHash)
	}
	if err := s.commitBatch(b); err != nil {
		return nil, err
	}
	log.Infof("Zapped %d stale unmined transactions", len(zapped))
	return zapped, nil
}

// removeRecursive erases the transaction after first erasing every recorded
// spender of its outputs, so credits are always released child first.
func (s *Store) removeRecursive(b *txBatch, rec *TxRecord, kind eventKind) error {
	if _, ok := b.erased[rec.Hash]; ok {
		return nil
	}

	for i := range rec.MsgTx.TxOut {
		op := wire.OutPoint{Hash: rec.Hash, Index: uint32(i)}
		sp, err := s.getSpenderMarker(b, op)
		if err != nil {
			return err
		}
		if sp == nil {
			continue
		}
		spenderRec, err := fetchTxRecord(s.db, &sp.hash)
		if err != nil {
			return err
		}
		if spenderRec == nil {
			s.deleteSpenderMarker(b, op)
			continue
		}
		if err := s.removeRecursive(b, spenderRec, kind); err != nil {
			return err
		}
	}
	return s.erase(b, rec, kind)
}

// erase removes a single transaction: spent credits its inputs consumed are
// given back, credits its outputs created are deleted, and every index entry
// is unwound.  Spenders of its outputs must have been erased already.
func (s *Store) erase(b *txBatch, rec *TxRecord, kind eventKind) error {
	if !blockchain.IsCoinBaseTx(&rec.MsgTx) {
		for i, txIn := range rec.MsgTx.TxIn {
			op := txIn.PreviousOutPoint
			undo, err := fetchUndoCoin(s.db, &rec.Hash, uint32(i))
			if err != nil {
				return err
			}
			if undo == nil {
				// Possibly a blind marker from an unresolved
				// input.
				sp, err := s.getSpenderMarker(b, op)
				if err != nil {
					return err
				}
				if sp != nil && sp.hash == rec.Hash {
					s.deleteSpenderMarker(b, op)
				}
				continue
			}

			b.kv.Delete(keyUndoCoin(&rec.Hash, uint32(i)))
			sp, err := s.getSpenderMarker(b, op)
			if err != nil {
				return err
			}
			if sp != nil && sp.hash == rec.Hash {
				s.deleteSpenderMarker(b, op)
			}

			// Give the credit back, unless its funding
			// transaction is itself gone.
			funding, err := fetchTxRecord(s.db, &op.Hash)
			if err != nil {
				return err
			}
			if funding == nil {
				continue
			}
			if _, ok := b.erased[op.Hash]; ok {
				continue
			}
			credit, err := s.getCredit(op)
			if err != nil {
				return err
			}
			if credit != nil {
				credit.Spent = false
				credit.Own = false
			} else {
				credit = &Credit{Coin: undo.Coin}
			}
			if err := s.saveCredit(b, op, credit); err != nil {
				return err
			}
			b.state.CoinCount++
			b.state.Unconfirmed += credit.Coin.Value
			if credit.Coin.Height != unminedHeight {
				b.state.Confirmed += credit.Coin.Value
			}
		}
	}

	for i := range rec.MsgTx.TxOut {
		op := wire.OutPoint{Hash: rec.Hash, Index: uint32(i)}
		credit, err := s.getCredit(op)
		if err != nil {
			return err
		}
		if credit == nil {
			continue
		}
		if credit.Spent {
			log.Warnf("Erasing transaction %v while output %d is "+
				"still marked spent", rec.Hash, i)
		} else {
			b.state.CoinCount--
			b.state.Unconfirmed -= credit.Coin.Value
			if credit.Coin.Height != unminedHeight {
				b.state.Confirmed -= credit.Coin.Value
			}
		}
		if err := s.deleteCredit(b, op, credit); err != nil {
			return err
		}
	}

	b.kv.Delete(keyTxRecord(&rec.Hash))
	b.kv.Delete(keyTimeIdx(rec.Received, &rec.Hash))
	b.kv.Delete(keyRBFIdx(&rec.Hash))

	accounts, err := s.txAccounts(rec)
	if err != nil {
		return err
	}
	for acct := range accounts {
		b.kv.Delete(keyAcctTxIdx(acct, &rec.Hash))
		b.kv.Delete(keyAcctTimeIdx(acct, rec.Received, &rec.Hash))
	}
	if rec.Block == nil {
		b.kv.Delete(keyUnminedIdx(&rec.Hash))
		for acct := range accounts {
			b.kv.Delete(keyAcctUnminedIdx(acct, &rec.Hash))
		}
	} else {
		b.kv.Delete(keyHeightIdx(rec.Block.Height, &rec.Hash))
		for acct := range accounts {
			b.kv.Delete(keyAcctHeightIdx(acct, rec.Block.Height,
				&rec.Hash))
		}
		if err := s.removeBlockRecordTx(b, rec.Hash, rec.Block.Height); err != nil {
			return err
		}
	}

	b.state.TxCount--
	b.relevant = true
	b.erased[rec.Hash] = struct{}{}
	b.queueTx(kind, rec)
	log.Debugf("Erased transaction %v", rec.Hash)
	return nil
}

// removeConflicts evicts recorded unmined transactions spending any input of
// rec, cascading through their descendants.  When pendingOnly is set and a
// mined transaction already spends one of the inputs, nothing is evicted and
// false is returned: rec is the losing side of that conflict.
func (s *Store) removeConflicts(b *txBatch, rec *TxRecord, pendingOnly bool) (bool, error) {
	var conflicts []*TxRecord
	seen := make(map[chainhash.Hash]struct{})
	for _, txIn := range rec.MsgTx.TxIn {
		op := txIn.PreviousOutPoint
		sp, err := s.getSpenderMarker(b, op)
		if err != nil {
			return false, err
		}
		if sp == nil || sp.hash == rec.Hash {
			continue
		}
		if _, ok := seen[sp.hash]; ok {
			continue
		}
		seen[sp.hash] = struct{}{}

		spenderRec, err := fetchTxRecord(s.db, &sp.hash)
		if err != nil {
			return false, err
		}
		if spenderRec == nil {
			continue
		}
		if spenderRec.Block != nil {
			if pendingOnly {
				return false, nil
			}
			log.Warnf("Mined transaction %v conflicts with mined "+
				"transaction %v", rec.Hash, sp.hash)
			continue
		}
		conflicts = append(conflicts, spenderRec)
	}

	for _, conflict := range conflicts {
		if _, ok := b.erased[conflict.Hash]; ok {
			continue
		}
		log.Debugf("Removing double spend transaction %v conflicting "+
			"with %v", conflict.Hash, rec.Hash)
		if err := s.removeRecursive(b, conflict, eventConflict); err != nil {
			return false, err
		}
	}
	return true, nil
}
