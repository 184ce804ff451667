// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"

	"github.com/excalibur-exs/excd/wire"
)

// handleReceivedForge decodes a gossiped forge and, if it validates,
// admits it to the mempool. Failures are logged and dropped — gossip
// has no request/response leg to report them on (spec.md §9 "never hand
// gossip decoded in-memory forges" — decoding happens here, at the
// boundary, not inside the gossip package itself).
func (n *Node) handleReceivedForge(raw []byte) {
	f, err := wire.ForgeTransactionFromBytes(raw)
	if err != nil {
		log.Warnf("dropping malformed gossiped forge: %v", err)
		return
	}

	if err := n.engine.ValidateForge(f); err != nil {
		log.Debugf("rejecting gossiped forge: %v", err)
		return
	}

	if err := n.pool.AddForge(f); err != nil {
		log.Debugf("not admitting gossiped forge: %v", err)
	}
}

// handleReceivedBlock decodes a gossiped block, validates and applies
// it against the current chain tip, persists it, and evicts its forges
// from the mempool.
func (n *Node) handleReceivedBlock(raw []byte) {
	blk, err := wire.BlockFromBytes(raw)
	if err != nil {
		log.Warnf("dropping malformed gossiped block: %v", err)
		return
	}

	parentHash := n.engine.LatestHash()
	if err := n.engine.ValidateBlock(blk, parentHash); err != nil {
		log.Debugf("rejecting gossiped block at height %d: %v", blk.Header.Height, err)
		return
	}

	headerHash, err := blk.Header.Hash()
	if err != nil {
		log.Errorf("failed to hash gossiped block header: %v", err)
		return
	}

	// Persist before mutating the engine's in-memory state: if any of
	// these writes fail, the engine must stay at its prior height rather
	// than believe a block the store never recorded was applied (a
	// restart's loadChainState only ever sees what's actually persisted).
	// The store writes below (PutBlock, PutForge per forge, SetHeight,
	// SetBestBlock) are not batched (store.PutBlock's own doc comment:
	// batching is out of scope per spec.md §4.2), so a failure between
	// them can leave the store briefly ahead of the engine on what's
	// retrievable by height versus by hash — a
	// narrower, transient version of the inconsistency this ordering
	// otherwise eliminates on restart.
	if err := n.store.PutBlock(blk.Header.Height, headerHash, blk); err != nil {
		log.Errorf("failed to persist gossiped block at height %d: %v", blk.Header.Height, err)
		return
	}
	for _, f := range blk.Forges {
		if err := n.store.PutForge(f.ProofHash, f); err != nil {
			log.Errorf("failed to persist forge from block at height %d: %v", blk.Header.Height, err)
			return
		}
	}
	if err := n.store.SetHeight(blk.Header.Height); err != nil {
		log.Errorf("failed to persist chain height: %v", err)
		return
	}
	if err := n.store.SetBestBlock(headerHash); err != nil {
		log.Errorf("failed to persist best block: %v", err)
		return
	}

	if err := n.engine.ApplyBlock(blk); err != nil {
		log.Errorf("failed to apply persisted block at height %d: %v", blk.Header.Height, err)
		return
	}

	n.pool.RemoveBlockForges(blk)

	n.notifier.Notify("blockreceived", map[string]interface{}{
		"height": blk.Header.Height,
		"hash":   hex.EncodeToString(headerHash[:]),
	})
}
