// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package consensus implements Proof-of-Forge validation and chain-state
// application: the second leg of the core trio described in spec.md §1.
// It validates individual forges and whole blocks, enforces replay
// protection, retargets difficulty, and is the sole owner of chain
// state — no other component may hold a mutable handle into it
// (spec.md §9).
package consensus

import (
	"crypto/sha256"
	"strings"
	"sync"
	"time"

	"github.com/excalibur-exs/excd/chaincfg"
	"github.com/excalibur-exs/excd/pof"
	"github.com/excalibur-exs/excd/wire"
)

// MaxForgesPerBlock is the maximum number of forges a block may contain.
// It is wire.MaxForgesPerBlock, not a second independent constant: wire's
// deserializer enforces the same bound at the gossip/store boundary, and
// the two must never drift apart or a block consensus would accept could
// already have been rejected as malformed before reaching ValidateBlock.
const MaxForgesPerBlock = wire.MaxForgesPerBlock

// MaxFutureSkew is how far into the future (relative to the validator's
// clock) a block header's timestamp may be without being rejected.
const MaxFutureSkew = 7200 * time.Second

// DifficultyAdjustmentInterval is the number of applied forges between
// each difficulty increment (spec.md §4.4, §6).
const DifficultyAdjustmentInterval = 10_000

// CanonicalProphecy is the space-joined canonical 13-word prophecy.
var CanonicalProphecy = strings.Join(pof.CanonicalProphecy[:], " ")

// chainState is the authoritative, in-memory chain state described in
// spec.md §3. It is never exposed by value or by handle outside Engine.
type chainState struct {
	height         uint64
	latestHash     [32]byte
	usedProphecies map[[32]byte]uint64
}

// Engine is the Proof-of-Forge consensus engine. All exported methods
// are safe for concurrent use; a single mutex protects every field so
// that ApplyBlock runs as one uninterrupted critical section and readers
// never observe a torn update (spec.md §5).
type Engine struct {
	mu sync.RWMutex

	difficulty   uint32
	minBlockTime uint64
	totalForges  uint64
	state        chainState

	netParams *chaincfg.Params
}

// NewEngine creates a consensus engine for the given network, starting
// at genesis (height 0, zero previous hash, empty used-prophecy set).
func NewEngine(net *chaincfg.Params) *Engine {
	return &Engine{
		difficulty:   net.InitialDifficulty,
		minBlockTime: net.MinBlockTime,
		netParams:    net,
		state: chainState{
			usedProphecies: make(map[[32]byte]uint64),
		},
	}
}

// ValidateForge checks a single forge transaction against every rule in
// spec.md §4.4: canonical prophecy, pipeline re-derivation, difficulty,
// and replay protection. It takes a read lock only — it never mutates
// state.
func (e *Engine) ValidateForge(f *wire.ForgeTransaction) error {
	if f.Prophecy != CanonicalProphecy {
		return ruleErr(ErrInvalidProphecy,
			"prophecy %q does not match the canonical axiom", f.Prophecy)
	}

	words := strings.Split(f.Prophecy, " ")
	result, err := pof.Derive(words, nil, e.netParams.BtcParams)
	if err != nil {
		return ruleErr(ErrDerivationMismatch, "pipeline re-derivation failed: %v", err)
	}

	if result.FinalSeed != f.DerivedKey {
		return ruleErr(ErrDerivationMismatch, "derived key mismatch")
	}
	if result.TaprootAddress != f.TaprootAddress {
		return ruleErr(ErrDerivationMismatch, "taproot address mismatch")
	}

	proofHash := result.ProofHash()
	if f.ProofHash != proofHash {
		return ruleErr(ErrDerivationMismatch, "proof hash mismatch")
	}

	e.mu.RLock()
	difficulty := e.difficulty
	_, used := e.state.usedProphecies[proofHash]
	e.mu.RUnlock()

	if !leadingZeroBytesAtLeast(proofHash[:], difficulty) {
		return ruleErr(ErrDifficultyNotMet,
			"proof hash does not meet difficulty %d", difficulty)
	}
	if used {
		return ruleErr(ErrReplay, "proof hash already applied to the chain")
	}

	return nil
}

// ValidateBlock checks a candidate block against every rule in spec.md
// §4.4: parent linkage, forge count bounds, per-forge validation, Merkle
// integrity, and future-timestamp skew.
func (e *Engine) ValidateBlock(b *wire.Block, parentHash [32]byte) error {
	if b.Header.PrevBlockHash != parentHash {
		return ruleErr(ErrBadBlockLink, "prev_block_hash does not match chain tip")
	}

	e.mu.RLock()
	wantHeight := e.state.height + 1
	e.mu.RUnlock()
	if b.Header.Height != wantHeight {
		return ruleErr(ErrBadHeight,
			"block height %d is not the chain tip height %d plus one", b.Header.Height, wantHeight-1)
	}

	if len(b.Forges) == 0 {
		return ruleErr(ErrEmptyBlock, "block must contain at least one forge")
	}
	if len(b.Forges) > MaxForgesPerBlock {
		return ruleErr(ErrTooManyForges,
			"block contains %d forges, max is %d", len(b.Forges), MaxForgesPerBlock)
	}

	seen := make(map[[32]byte]struct{}, len(b.Forges))
	for _, f := range b.Forges {
		if err := e.ValidateForge(f); err != nil {
			return err
		}
		if _, dup := seen[f.ProofHash]; dup {
			return ruleErr(ErrReplay, "block contains the same proof hash more than once")
		}
		seen[f.ProofHash] = struct{}{}
	}

	computedRoot, err := ComputeMerkleRoot(b.Forges)
	if err != nil {
		return err
	}
	if computedRoot != b.Header.MerkleRoot {
		return ruleErr(ErrBadMerkleRoot, "merkle root mismatch")
	}

	// Compare as uint64 throughout: casting Header.Timestamp to int64
	// first would wrap any value >= 2^63 negative, silently passing a
	// block timestamped far enough in the future to defeat this check.
	maxTimestamp := time.Now().Add(MaxFutureSkew).Unix()
	if maxTimestamp < 0 {
		maxTimestamp = 0
	}
	if b.Header.Timestamp > uint64(maxTimestamp) {
		return ruleErr(ErrFutureTimestamp,
			"block timestamp %d is more than %s in the future",
			b.Header.Timestamp, MaxFutureSkew)
	}

	return nil
}

// ApplyBlock commits a block that has already passed ValidateBlock.
// Calling it on an unvalidated block is a programming error — the
// caller owns that ordering guarantee (spec.md §4.4 state machine).
//
// ApplyBlock is serialized end to end: readers of Engine's accessors
// never observe a mix of pre- and post-apply state (spec.md §5).
func (e *Engine) ApplyBlock(b *wire.Block) error {
	headerHash, err := b.Header.Hash()
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.height = b.Header.Height
	e.state.latestHash = headerHash
	for _, f := range b.Forges {
		e.state.usedProphecies[f.ProofHash] = b.Header.Height
	}

	e.totalForges += uint64(len(b.Forges))
	e.adjustDifficultyLocked()

	log.Debugf("applied block at height %d with %d forges, new difficulty %d",
		b.Header.Height, len(b.Forges), e.difficulty)

	return nil
}

// adjustDifficultyLocked increments difficulty once every
// DifficultyAdjustmentInterval applied forges. Callers must hold e.mu
// for writing.
func (e *Engine) adjustDifficultyLocked() {
	if e.totalForges > 0 && e.totalForges%DifficultyAdjustmentInterval == 0 {
		e.difficulty++
	}
}

// Difficulty returns the current difficulty (required leading zero
// bytes).
func (e *Engine) Difficulty() uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.difficulty
}

// Height returns the current chain height.
func (e *Engine) Height() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.height
}

// LatestHash returns the header hash of the most recently applied
// block, or the zero hash at genesis.
func (e *Engine) LatestHash() [32]byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.latestHash
}

// TotalForges returns the total number of forges applied across every
// block so far.
func (e *Engine) TotalForges() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totalForges
}

// HasUsedProphecy reports whether proofHash has already been applied to
// the chain, and if so, at which height.
func (e *Engine) HasUsedProphecy(proofHash [32]byte) (height uint64, used bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	height, used = e.state.usedProphecies[proofHash]
	return height, used
}

// leadingZeroBytesAtLeast reports whether hash has at least n leading
// zero bytes.
func leadingZeroBytesAtLeast(hash []byte, n uint32) bool {
	var count uint32
	for _, b := range hash {
		if b != 0 {
			break
		}
		count++
	}
	return count >= n
}

// ComputeMerkleRoot computes the binary Merkle root over forges' 32-byte
// leaf hashes (SHA-256 of each forge's canonical serialization), pairing
// adjacent hashes and duplicating an odd final element, exactly as
// specified in spec.md §4.4. An empty forge list yields the zero digest
// (unreachable for a block that has passed ValidateBlock).
func ComputeMerkleRoot(forges []*wire.ForgeTransaction) ([32]byte, error) {
	if len(forges) == 0 {
		return [32]byte{}, nil
	}

	level := make([][32]byte, len(forges))
	for i, f := range forges {
		raw, err := f.Bytes()
		if err != nil {
			return [32]byte{}, err
		}
		level[i] = sha256.Sum256(raw)
	}

	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}

	return level[0], nil
}

func hashPair(a, b [32]byte) [32]byte {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return sha256.Sum256(buf[:])
}
