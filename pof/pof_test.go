// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pof

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
)

func canonicalWords() []string {
	out := make([]string, len(CanonicalProphecy))
	copy(out, CanonicalProphecy[:])
	return out
}

// TestCanonicalDerivationIsStable captures the scenario in spec.md §8.1:
// the canonical prophecy, default salt, and mainnet must always produce
// the same final seed.
func TestCanonicalDerivationIsStable(t *testing.T) {
	first, err := Derive(canonicalWords(), nil, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("Derive: unexpected error: %v", err)
	}

	second, err := Derive(canonicalWords(), nil, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("Derive: unexpected error: %v", err)
	}

	if first.FinalSeed != second.FinalSeed {
		t.Fatalf("final seed is not stable across runs: %x != %x",
			first.FinalSeed, second.FinalSeed)
	}
	if first.TaprootAddress != second.TaprootAddress {
		t.Fatalf("address is not stable across runs: %s != %s",
			first.TaprootAddress, second.TaprootAddress)
	}
	if !strings.HasPrefix(first.TaprootAddress, "bc1") {
		t.Fatalf("mainnet address missing bc1 prefix: %s", first.TaprootAddress)
	}
}

func TestWrongWordCountFails(t *testing.T) {
	_, err := Derive([]string{"only", "a", "few", "words"}, nil, &chaincfg.MainNetParams)
	if err == nil {
		t.Fatal("expected an error for a non-13-word prophecy")
	}
}

func TestProphecyBindingLength(t *testing.T) {
	hash, err := prophecyBinding(canonicalWords())
	if err != nil {
		t.Fatalf("prophecyBinding: unexpected error: %v", err)
	}
	if len(hash) != 64 {
		t.Fatalf("prophecy hash length = %d, want 64", len(hash))
	}
}

func TestTetraPowOutputLength(t *testing.T) {
	out := tetraPow128Rounds(make([]byte, 64))
	if len(out) != 32 {
		t.Fatalf("tetra hash length = %d, want 32", len(out))
	}
}

func TestPBKDF2TemperingOutputLength(t *testing.T) {
	out := pbkdf2Tempering(make([]byte, 32), nil)
	if len(out) != 64 {
		t.Fatalf("tempered key length = %d, want 64", len(out))
	}
}

func TestZetahashOutputLength(t *testing.T) {
	out := finalZetahashPythagoras(make([]byte, 64))
	if len(out) != 32 {
		t.Fatalf("final seed length = %d, want 32", len(out))
	}
}

// TestCalculateForgeFee reproduces the literal fixtures of spec.md §8
// scenario 4.
func TestCalculateForgeFee(t *testing.T) {
	tests := []struct {
		completed uint64
		want      uint64
	}{
		{0, 100_000_000},
		{10_000, 110_000_000},
		{100_000, 200_000_000},
		{1_000_000, 2_100_000_000},
	}

	for _, tc := range tests {
		got := CalculateForgeFee(tc.completed)
		if got != tc.want {
			t.Errorf("CalculateForgeFee(%d) = %d, want %d", tc.completed, got, tc.want)
		}
	}
}

func TestSameInputsSameProofHash(t *testing.T) {
	a, err := Derive(canonicalWords(), nil, &chaincfg.TestNet3Params)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	b, err := Derive(canonicalWords(), nil, &chaincfg.TestNet3Params)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if a.ProofHash() != b.ProofHash() {
		t.Fatal("identical inputs produced different proof hashes")
	}
}

func TestDifferentNetworksSameKeyDifferentAddress(t *testing.T) {
	main, err := Derive(canonicalWords(), nil, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("Derive mainnet: %v", err)
	}
	test, err := Derive(canonicalWords(), nil, &chaincfg.TestNet3Params)
	if err != nil {
		t.Fatalf("Derive testnet: %v", err)
	}

	if main.FinalSeed != test.FinalSeed {
		t.Fatal("network selection must not change the derived key material")
	}
	if main.TaprootAddress == test.TaprootAddress {
		t.Fatal("mainnet and testnet addresses must differ")
	}
}

func TestHexOfIntermediateValuesIsEightBytes(t *testing.T) {
	r, err := Derive(canonicalWords(), nil, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if got := hex.EncodeToString(r.TetraHash[:8]); len(got) != 16 {
		t.Fatalf("expected 16 hex chars for 8 bytes, got %d (%s)", len(got), got)
	}
}
