// Copyright (c) 2025-2026 The utxokit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txdb

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// dependencySort topologically sorts a set of transaction records by their
// dependency order using Kahn's algorithm.  Transactions are ordered so that
// every funding transaction sorts before any transaction spending one of its
// outputs.  Transactions with no dependency relation keep their input order.
//
// This is used when disconnecting or removing a whole block of transactions:
// walking the sorted slice in reverse guarantees spenders are handled before
// the transactions that funded them.
func dependencySort(txs []*TxRecord) []*TxRecord {
	if len(txs) < 2 {
		return txs
	}

	byHash := make(map[chainhash.Hash]*TxRecord, len(txs))
	for _, rec := range txs {
		byHash[rec.Hash] = rec
	}

	// dependents maps a transaction to the set members spending its
	// outputs, and indegree counts how many set members each transaction
	// spends from.
	dependents := make(map[chainhash.Hash][]*TxRecord)
	indegree := make(map[chainhash.Hash]int, len(txs))
	for _, rec := range txs {
		indegree[rec.Hash] = 0
	}
	for _, rec := range txs {
		seen := make(map[chainhash.Hash]struct{})
		for _, input := range rec.MsgTx.TxIn {
			prevHash := input.PreviousOutPoint.Hash
			if _, ok := byHash[prevHash]; !ok {
				continue
			}
			if _, ok := seen[prevHash]; ok {
				continue
			}
			seen[prevHash] = struct{}{}
			dependents[prevHash] = append(dependents[prevHash], rec)
			indegree[rec.Hash]++
		}
	}

	// Seed the queue with every transaction that spends nothing from the
	// set, preserving input order for determinism.
	var queue []*TxRecord
	for _, rec := range txs {
		if indegree[rec.Hash] == 0 {
			queue = append(queue, rec)
		}
	}

	sorted := make([]*TxRecord, 0, len(txs))
	for len(queue) > 0 {
		rec := queue[0]
		queue = queue[1:]
		sorted = append(sorted, rec)

		for _, dep := range dependents[rec.Hash] {
			indegree[dep.Hash]--
			if indegree[dep.Hash] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	// A dependency cycle is impossible for valid transactions since a
	// transaction hash commits to its inputs.  Fall back to input order
	// if one shows up anyway.
	if len(sorted) != len(txs) {
		log.Warnf("Dependency sort saw a cycle across %d transactions",
			len(txs))
		return txs
	}
	return sorted
}
