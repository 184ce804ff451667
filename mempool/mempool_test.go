// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"testing"

	"github.com/excalibur-exs/excd/wire"
)

func sampleForge(b byte, timestamp uint64) *wire.ForgeTransaction {
	f := &wire.ForgeTransaction{
		Prophecy:       "sword legend pull magic kingdom artist stone destroy forget fire steel honey question",
		TaprootAddress: "bcrt1qexample",
		Timestamp:      timestamp,
	}
	f.ProofHash[0] = b
	f.DerivedKey[0] = b
	return f
}

func TestAddAndGetForge(t *testing.T) {
	p := New(10, 0)
	f := sampleForge(1, 100)
	if err := p.AddForge(f); err != nil {
		t.Fatalf("AddForge: %v", err)
	}
	got, ok := p.GetForge(f.ProofHash)
	if !ok {
		t.Fatal("GetForge: not found")
	}
	if got != f {
		t.Fatal("GetForge returned a different forge")
	}
	if p.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", p.Size())
	}
}

func TestAddDuplicateRejected(t *testing.T) {
	p := New(10, 0)
	f := sampleForge(1, 100)
	if err := p.AddForge(f); err != nil {
		t.Fatalf("AddForge: %v", err)
	}
	if err := p.AddForge(f); err != ErrDuplicate {
		t.Fatalf("AddForge duplicate: got %v, want ErrDuplicate", err)
	}
}

func TestAddFullRejected(t *testing.T) {
	p := New(1, 0)
	if err := p.AddForge(sampleForge(1, 100)); err != nil {
		t.Fatalf("AddForge: %v", err)
	}
	if err := p.AddForge(sampleForge(2, 200)); err != ErrFull {
		t.Fatalf("AddForge over capacity: got %v, want ErrFull", err)
	}
}

func TestRemoveForge(t *testing.T) {
	p := New(10, 0)
	f := sampleForge(1, 100)
	if err := p.AddForge(f); err != nil {
		t.Fatalf("AddForge: %v", err)
	}
	if err := p.RemoveForge(f.ProofHash); err != nil {
		t.Fatalf("RemoveForge: %v", err)
	}
	if p.Contains(f.ProofHash) {
		t.Fatal("forge still present after RemoveForge")
	}
	if err := p.RemoveForge(f.ProofHash); err != ErrNotFound {
		t.Fatalf("RemoveForge again: got %v, want ErrNotFound", err)
	}
}

// TestGetForgesForBlockHighestFirst exercises the resolved priority
// policy: highest (timestamp, fee) is selected first. Since all test
// entries share the pool's single fee, ordering reduces to timestamp.
func TestGetForgesForBlockHighestFirst(t *testing.T) {
	p := New(10, 0)
	low := sampleForge(1, 100)
	mid := sampleForge(2, 200)
	high := sampleForge(3, 300)

	for _, f := range []*wire.ForgeTransaction{low, high, mid} {
		if err := p.AddForge(f); err != nil {
			t.Fatalf("AddForge: %v", err)
		}
	}

	got := p.GetForgesForBlock(2)
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].ProofHash != high.ProofHash || got[1].ProofHash != mid.ProofHash {
		t.Fatalf("GetForgesForBlock did not return highest-priority-first order")
	}
}

func TestGetForgesForBlockCapsAtPoolSize(t *testing.T) {
	p := New(10, 0)
	if err := p.AddForge(sampleForge(1, 100)); err != nil {
		t.Fatalf("AddForge: %v", err)
	}
	got := p.GetForgesForBlock(5)
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
}

func TestRemoveBlockForges(t *testing.T) {
	p := New(10, 0)
	f1 := sampleForge(1, 100)
	f2 := sampleForge(2, 200)
	if err := p.AddForge(f1); err != nil {
		t.Fatalf("AddForge: %v", err)
	}
	if err := p.AddForge(f2); err != nil {
		t.Fatalf("AddForge: %v", err)
	}

	block := &wire.Block{Forges: []*wire.ForgeTransaction{f1}}
	p.RemoveBlockForges(block)

	if p.Contains(f1.ProofHash) {
		t.Fatal("f1 still pending after RemoveBlockForges")
	}
	if !p.Contains(f2.ProofHash) {
		t.Fatal("f2 unexpectedly removed by RemoveBlockForges")
	}
}

func TestRemoveExpired(t *testing.T) {
	p := New(10, 0)
	f := sampleForge(1, 100)
	if err := p.AddForge(f); err != nil {
		t.Fatalf("AddForge: %v", err)
	}
	p.pending[f.ProofHash].addedAt -= 1000

	removed := p.RemoveExpired(500)
	if removed != 1 {
		t.Fatalf("RemoveExpired = %d, want 1", removed)
	}
	if p.Contains(f.ProofHash) {
		t.Fatal("forge still present after RemoveExpired")
	}
}

func TestStats(t *testing.T) {
	p := New(5, 42)
	if err := p.AddForge(sampleForge(1, 100)); err != nil {
		t.Fatalf("AddForge: %v", err)
	}
	s := p.Stats()
	if s.Size != 1 || s.MaxSize != 5 || s.MinFee != 42 {
		t.Fatalf("Stats() = %+v, want {Size:1 MaxSize:5 MinFee:42}", s)
	}
}
