// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consensus

import (
	"crypto/sha256"
	"strings"
	"testing"
	"time"

	"github.com/excalibur-exs/excd/chaincfg"
	"github.com/excalibur-exs/excd/pof"
	"github.com/excalibur-exs/excd/wire"
)

// validForge derives a real canonical forge transaction against the
// given network, so validation exercises the real pipeline rather than
// a stub.
func validForge(t *testing.T, net *chaincfg.Params, timestamp uint64) *wire.ForgeTransaction {
	t.Helper()
	words := strings.Split(CanonicalProphecy, " ")
	result, err := pof.Derive(words, nil, net.BtcParams)
	if err != nil {
		t.Fatalf("pof.Derive: %v", err)
	}
	return &wire.ForgeTransaction{
		Prophecy:       CanonicalProphecy,
		DerivedKey:     result.FinalSeed,
		TaprootAddress: result.TaprootAddress,
		ProofHash:      result.ProofHash(),
		Timestamp:      timestamp,
	}
}

func TestValidateForgeAcceptsCanonical(t *testing.T) {
	e := NewEngine(&chaincfg.RegNetParams)
	f := validForge(t, &chaincfg.RegNetParams, 1000)
	if err := e.ValidateForge(f); err != nil {
		t.Fatalf("ValidateForge: unexpected error: %v", err)
	}
}

// TestNonCanonicalProphecyRejected reproduces spec.md §8 scenario 2.
func TestNonCanonicalProphecyRejected(t *testing.T) {
	e := NewEngine(&chaincfg.RegNetParams)
	f := &wire.ForgeTransaction{
		Prophecy: "sword sword sword sword sword sword sword sword sword sword sword sword sword",
	}
	err := e.ValidateForge(f)
	if !IsErrorKind(err, ErrInvalidProphecy) {
		t.Fatalf("expected ErrInvalidProphecy, got %v", err)
	}
}

func TestValidateForgeRejectsTamperedDerivedKey(t *testing.T) {
	e := NewEngine(&chaincfg.RegNetParams)
	f := validForge(t, &chaincfg.RegNetParams, 1000)
	f.DerivedKey[0] ^= 0xFF

	err := e.ValidateForge(f)
	if !IsErrorKind(err, ErrDerivationMismatch) {
		t.Fatalf("expected ErrDerivationMismatch, got %v", err)
	}
}

// TestDifficultyBoundary reproduces spec.md §8's difficulty boundary
// behavior directly against leadingZeroBytesAtLeast.
func TestDifficultyBoundary(t *testing.T) {
	hash := make([]byte, 32)
	hash[2] = 1 // exactly two leading zero bytes

	if !leadingZeroBytesAtLeast(hash, 2) {
		t.Fatal("expected hash with 2 leading zero bytes to satisfy difficulty 2")
	}
	if leadingZeroBytesAtLeast(hash, 3) {
		t.Fatal("expected hash with 2 leading zero bytes to fail difficulty 3")
	}
}

func buildAndApplyGenesisLikeBlock(t *testing.T, e *Engine, net *chaincfg.Params, height uint64, parent [32]byte, forges []*wire.ForgeTransaction) *wire.Block {
	t.Helper()
	root, err := ComputeMerkleRoot(forges)
	if err != nil {
		t.Fatalf("ComputeMerkleRoot: %v", err)
	}
	blk := &wire.Block{
		Header: wire.BlockHeader{
			Version:       1,
			Height:        height,
			PrevBlockHash: parent,
			MerkleRoot:    root,
			Timestamp:     uint64(time.Now().Unix()),
			Difficulty:    e.Difficulty(),
		},
		Forges: forges,
	}
	if err := e.ValidateBlock(blk, parent); err != nil {
		t.Fatalf("ValidateBlock: %v", err)
	}
	if err := e.ApplyBlock(blk); err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}
	return blk
}

// TestReplayRejected reproduces spec.md §8 scenario 3: once a forge is
// applied at height 1, a later block reusing it is rejected.
func TestReplayRejected(t *testing.T) {
	e := NewEngine(&chaincfg.RegNetParams)
	forge := validForge(t, &chaincfg.RegNetParams, 1000)

	blk1 := buildAndApplyGenesisLikeBlock(t, e, &chaincfg.RegNetParams, 1, [32]byte{}, []*wire.ForgeTransaction{forge})

	tip, err := blk1.Header.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	root, err := ComputeMerkleRoot([]*wire.ForgeTransaction{forge})
	if err != nil {
		t.Fatalf("ComputeMerkleRoot: %v", err)
	}
	blk2 := &wire.Block{
		Header: wire.BlockHeader{
			Version:       1,
			Height:        2,
			PrevBlockHash: tip,
			MerkleRoot:    root,
			Timestamp:     uint64(time.Now().Unix()),
		},
		Forges: []*wire.ForgeTransaction{forge},
	}

	err = e.ValidateBlock(blk2, tip)
	if !IsErrorKind(err, ErrReplay) {
		t.Fatalf("expected ErrReplay, got %v", err)
	}
}

func TestApplyBlockAdvancesHeightAndLatestHash(t *testing.T) {
	e := NewEngine(&chaincfg.RegNetParams)
	forge := validForge(t, &chaincfg.RegNetParams, 1000)
	blk := buildAndApplyGenesisLikeBlock(t, e, &chaincfg.RegNetParams, 1, [32]byte{}, []*wire.ForgeTransaction{forge})

	wantHash, err := blk.Header.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	if e.Height() != 1 {
		t.Fatalf("Height() = %d, want 1", e.Height())
	}
	if e.LatestHash() != wantHash {
		t.Fatal("LatestHash() does not match the applied block's header hash")
	}
	if e.TotalForges() != 1 {
		t.Fatalf("TotalForges() = %d, want 1", e.TotalForges())
	}
}

func TestValidateBlockRejectsBadLink(t *testing.T) {
	e := NewEngine(&chaincfg.RegNetParams)
	forge := validForge(t, &chaincfg.RegNetParams, 1000)
	root, _ := ComputeMerkleRoot([]*wire.ForgeTransaction{forge})
	blk := &wire.Block{
		Header: wire.BlockHeader{Height: 1, PrevBlockHash: [32]byte{0xAA}, MerkleRoot: root, Timestamp: uint64(time.Now().Unix())},
		Forges: []*wire.ForgeTransaction{forge},
	}
	err := e.ValidateBlock(blk, [32]byte{})
	if !IsErrorKind(err, ErrBadBlockLink) {
		t.Fatalf("expected ErrBadBlockLink, got %v", err)
	}
}

func TestValidateBlockRejectsEmptyAndOversized(t *testing.T) {
	e := NewEngine(&chaincfg.RegNetParams)

	empty := &wire.Block{Header: wire.BlockHeader{Height: 1, Timestamp: uint64(time.Now().Unix())}}
	if err := e.ValidateBlock(empty, [32]byte{}); !IsErrorKind(err, ErrEmptyBlock) {
		t.Fatalf("expected ErrEmptyBlock, got %v", err)
	}

	forge := validForge(t, &chaincfg.RegNetParams, 1000)
	forges := make([]*wire.ForgeTransaction, MaxForgesPerBlock+1)
	for i := range forges {
		forges[i] = forge
	}
	oversized := &wire.Block{Header: wire.BlockHeader{Height: 1, Timestamp: uint64(time.Now().Unix())}, Forges: forges}
	if err := e.ValidateBlock(oversized, [32]byte{}); !IsErrorKind(err, ErrTooManyForges) {
		t.Fatalf("expected ErrTooManyForges, got %v", err)
	}
}

func TestValidateBlockRejectsFutureTimestamp(t *testing.T) {
	e := NewEngine(&chaincfg.RegNetParams)
	forge := validForge(t, &chaincfg.RegNetParams, 1000)
	root, _ := ComputeMerkleRoot([]*wire.ForgeTransaction{forge})

	tooFar := time.Now().Add(MaxFutureSkew + time.Second).Unix()
	blk := &wire.Block{
		Header: wire.BlockHeader{Height: 1, MerkleRoot: root, Timestamp: uint64(tooFar)},
		Forges: []*wire.ForgeTransaction{forge},
	}
	if err := e.ValidateBlock(blk, [32]byte{}); !IsErrorKind(err, ErrFutureTimestamp) {
		t.Fatalf("expected ErrFutureTimestamp, got %v", err)
	}
}

func TestValidateBlockRejectsBadMerkleRoot(t *testing.T) {
	e := NewEngine(&chaincfg.RegNetParams)
	forge := validForge(t, &chaincfg.RegNetParams, 1000)
	blk := &wire.Block{
		Header: wire.BlockHeader{Height: 1, Timestamp: uint64(time.Now().Unix())},
		Forges: []*wire.ForgeTransaction{forge},
	}
	if err := e.ValidateBlock(blk, [32]byte{}); !IsErrorKind(err, ErrBadMerkleRoot) {
		t.Fatalf("expected ErrBadMerkleRoot, got %v", err)
	}
}

func TestValidateBlockRejectsDuplicateProofHashWithinBlock(t *testing.T) {
	e := NewEngine(&chaincfg.RegNetParams)
	forge := validForge(t, &chaincfg.RegNetParams, 1000)
	forges := []*wire.ForgeTransaction{forge, forge}

	root, err := ComputeMerkleRoot(forges)
	if err != nil {
		t.Fatalf("ComputeMerkleRoot: %v", err)
	}
	blk := &wire.Block{
		Header: wire.BlockHeader{Height: 1, MerkleRoot: root, Timestamp: uint64(time.Now().Unix())},
		Forges: forges,
	}
	if err := e.ValidateBlock(blk, [32]byte{}); !IsErrorKind(err, ErrReplay) {
		t.Fatalf("expected ErrReplay, got %v", err)
	}
}

// TestDifficultyAdjustsEveryTenThousandForges reproduces spec.md §4.4's
// adjustment rule on a miniature scale by forcing totalForges directly.
func TestDifficultyAdjustsEveryTenThousandForges(t *testing.T) {
	e := NewEngine(&chaincfg.RegNetParams)
	e.totalForges = DifficultyAdjustmentInterval - 1
	startDifficulty := e.Difficulty()

	e.mu.Lock()
	e.totalForges++
	e.adjustDifficultyLocked()
	e.mu.Unlock()

	if e.Difficulty() != startDifficulty+1 {
		t.Fatalf("Difficulty() = %d, want %d", e.Difficulty(), startDifficulty+1)
	}
}

func TestComputeMerkleRootOddForgeCountDuplicatesLast(t *testing.T) {
	f1 := validForge(t, &chaincfg.RegNetParams, 1)
	f2 := validForge(t, &chaincfg.RegNetParams, 2)
	f3 := validForge(t, &chaincfg.RegNetParams, 3)

	root, err := ComputeMerkleRoot([]*wire.ForgeTransaction{f1, f2, f3})
	if err != nil {
		t.Fatalf("ComputeMerkleRoot: %v", err)
	}

	root2, err := ComputeMerkleRoot([]*wire.ForgeTransaction{f1, f2, f3})
	if err != nil {
		t.Fatalf("ComputeMerkleRoot: %v", err)
	}
	if root != root2 {
		t.Fatal("merkle root is not deterministic")
	}

	leaf := func(f *wire.ForgeTransaction) [32]byte {
		raw, err := f.Bytes()
		if err != nil {
			t.Fatalf("Bytes: %v", err)
		}
		return sha256.Sum256(raw)
	}
	want := hashPair(hashPair(leaf(f1), leaf(f2)), hashPair(leaf(f3), leaf(f3)))
	if root != want {
		t.Fatal("merkle root does not pair the odd final leaf with itself")
	}
}
