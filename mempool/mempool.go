// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mempool implements the concurrent priority pool of pending
// forge transactions described in spec.md §4.3: admission, eviction,
// expiration, and block-selection policies, all guarded by a single
// lock so that add/remove and their index updates happen as one atomic
// step (spec.md §5).
package mempool

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/excalibur-exs/excd/wire"
)

// Sentinel errors returned by ForgePool. Neither is retryable by the
// engine — the caller decides whether to retry later (spec.md §7).
var (
	// ErrDuplicate is returned by AddForge when proof_hash is already
	// pending.
	ErrDuplicate = errors.New("mempool: forge already pending")

	// ErrFull is returned by AddForge when the pool is at capacity.
	ErrFull = errors.New("mempool: pool is full")

	// ErrNotFound is returned by RemoveForge when proof_hash is not
	// pending.
	ErrNotFound = errors.New("mempool: forge not pending")
)

// priority orders forges for block selection: (timestamp, fee) compared
// lexicographically, highest first (spec.md §4.3; see DESIGN.md's
// resolution of Open Question 4 — later submissions are preferred under
// this policy, as specified).
type priority struct {
	timestamp uint64
	fee       uint64
}

// less reports whether p sorts strictly before other under ascending
// order (earliest/lowest-fee first). The priority index is kept in this
// ascending order and walked from the end for block selection.
func (p priority) less(other priority) bool {
	if p.timestamp != other.timestamp {
		return p.timestamp < other.timestamp
	}
	return p.fee < other.fee
}

// entry is one pending forge's bookkeeping record.
type entry struct {
	forge     *wire.ForgeTransaction
	priority  priority
	addedAt   int64
}

// ForgePool holds at most MaxSize pending forges, indexed by proof hash.
type ForgePool struct {
	mu sync.Mutex

	pending map[[32]byte]*entry
	index   []indexKey // kept sorted ascending by priority

	maxSize int
	minFee  uint64
}

// indexKey is one entry in the priority index: a (proof_hash, priority)
// pair, mirroring the spec's "sorted set of (proof_hash, priority)
// pairs".
type indexKey struct {
	proofHash [32]byte
	priority  priority
}

// Stats summarizes the pool's current occupancy.
type Stats struct {
	Size    int
	MaxSize int
	MinFee  uint64
}

// New creates a ForgePool that admits at most maxSize forges, assigning
// every admitted forge the pool's single minimum-fee threshold as its
// priority fee component (spec.md §4.3 — "mempool fee auctions beyond a
// single minimum threshold" are explicitly out of scope, spec.md §1).
func New(maxSize int, minFee uint64) *ForgePool {
	return &ForgePool{
		pending: make(map[[32]byte]*entry, maxSize),
		index:   make([]indexKey, 0, maxSize),
		maxSize: maxSize,
		minFee:  minFee,
	}
}

// AddForge admits f into the pool. It fails with ErrDuplicate if
// proof_hash is already pending, or ErrFull if the pool is at capacity;
// in neither failure case is the pool's state changed.
func (p *ForgePool) AddForge(f *wire.ForgeTransaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.pending[f.ProofHash]; ok {
		return ErrDuplicate
	}
	if len(p.pending) >= p.maxSize {
		return ErrFull
	}

	prio := priority{timestamp: f.Timestamp, fee: p.minFee}
	p.pending[f.ProofHash] = &entry{
		forge:    f,
		priority: prio,
		addedAt:  nowSeconds(),
	}
	p.insertIndexLocked(indexKey{proofHash: f.ProofHash, priority: prio})

	return nil
}

// RemoveForge removes proof_hash from the pool, returning ErrNotFound if
// it was not present.
func (p *ForgePool) RemoveForge(proofHash [32]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(proofHash)
}

// removeLocked removes proofHash from both structures. Callers must hold
// p.mu.
func (p *ForgePool) removeLocked(proofHash [32]byte) error {
	e, ok := p.pending[proofHash]
	if !ok {
		return ErrNotFound
	}
	delete(p.pending, proofHash)
	p.deleteIndexLocked(indexKey{proofHash: proofHash, priority: e.priority})
	return nil
}

// GetForge returns the pending forge for proofHash, if any.
func (p *ForgePool) GetForge(proofHash [32]byte) (*wire.ForgeTransaction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.pending[proofHash]
	if !ok {
		return nil, false
	}
	return e.forge, true
}

// Contains reports whether proofHash is currently pending.
func (p *ForgePool) Contains(proofHash [32]byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[proofHash]
	return ok
}

// Size returns the number of pending forges.
func (p *ForgePool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// GetForgesForBlock returns up to n pending forges, highest priority
// first, without mutating the pool (spec.md §4.3).
func (p *ForgePool) GetForgesForBlock(n int) []*wire.ForgeTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n > len(p.index) {
		n = len(p.index)
	}
	out := make([]*wire.ForgeTransaction, 0, n)
	for i := len(p.index) - 1; i >= 0 && len(out) < n; i-- {
		if e, ok := p.pending[p.index[i].proofHash]; ok {
			out = append(out, e.forge)
		}
	}
	return out
}

// RemoveBlockForges removes every forge in b from the pool. Forges not
// present (e.g. received via gossip rather than locally pending) are
// silently skipped.
func (p *ForgePool) RemoveBlockForges(b *wire.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range b.Forges {
		_ = p.removeLocked(f.ProofHash)
	}
}

// RemoveExpired evicts every forge that has been pending for more than
// timeoutSeconds, returning the number removed. The scan and the
// removals happen in one critical section (spec.md §4.3).
func (p *ForgePool) RemoveExpired(timeoutSeconds int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := nowSeconds()
	var expired [][32]byte
	for hash, e := range p.pending {
		if now-e.addedAt > timeoutSeconds {
			expired = append(expired, hash)
		}
	}
	for _, hash := range expired {
		_ = p.removeLocked(hash)
	}
	if len(expired) > 0 {
		log.Debugf("evicted %d expired forge(s)", len(expired))
	}
	return len(expired)
}

// Stats returns a snapshot of the pool's occupancy.
func (p *ForgePool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Size: len(p.pending), MaxSize: p.maxSize, MinFee: p.minFee}
}

// insertIndexLocked inserts key into the sorted index. Callers must hold
// p.mu.
func (p *ForgePool) insertIndexLocked(key indexKey) {
	i := sort.Search(len(p.index), func(i int) bool {
		return !p.index[i].priority.less(key.priority)
	})
	p.index = append(p.index, indexKey{})
	copy(p.index[i+1:], p.index[i:])
	p.index[i] = key
}

// deleteIndexLocked removes key from the sorted index. Callers must hold
// p.mu.
func (p *ForgePool) deleteIndexLocked(key indexKey) {
	i := sort.Search(len(p.index), func(i int) bool {
		return !p.index[i].priority.less(key.priority)
	})
	for ; i < len(p.index); i++ {
		if p.index[i].proofHash == key.proofHash && p.index[i].priority == key.priority {
			p.index = append(p.index[:i], p.index[i+1:]...)
			return
		}
	}
}

// nowSeconds returns the current time as seconds since the Unix epoch.
func nowSeconds() int64 {
	return time.Now().Unix()
}
