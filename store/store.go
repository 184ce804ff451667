// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package store implements the durable chain store described in
// spec.md §4.2: a single ordered key-value store with a byte-exact
// prefix layout, backed by LevelDB (spec.md §5 — "the core trio").
package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/excalibur-exs/excd/wire"
)

// Namespace prefixes, byte-exact per spec.md §4.2.
var (
	prefixBlock  = []byte("blk:")
	prefixHash   = []byte("bhash:")
	prefixForge  = []byte("forge:")
	prefixMeta   = []byte("meta:")
	keyHeight    = []byte("meta:height")
	keyBestBlock = []byte("meta:best_block")
)

// ErrNotFound is returned by Get-style methods when a key is absent.
var ErrNotFound = leveldb.ErrNotFound

// StorageError wraps an I/O failure surfaced by the underlying LevelDB
// handle (spec.md §7).
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// CorruptionError indicates a stored value had the wrong length or
// shape for its declared type (spec.md §7).
type CorruptionError struct {
	Key string
	Msg string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("store: corruption at %s: %s", e.Key, e.Msg)
}

// Store is the chain's durable key-value layer. All methods are safe
// for concurrent use; LevelDB itself serializes writes and isolates
// reads (spec.md §5).
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if missing) a LevelDB database at path, with
// Snappy block compression and a bloom filter for point lookups.
// spec.md §4.2 calls for LZ4 compression; goleveldb has no native LZ4
// option, so Snappy is substituted as the closest available block
// compressor (same "create_if_missing is true" semantics).
func Open(path string) (*Store, error) {
	opts := &opt.Options{
		ErrorIfMissing: false,
		Compression:    opt.SnappyCompression,
		Filter:         filter.NewBloomFilter(10),
	}
	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	log.Infof("chain store opened at %s", path)
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return &StorageError{Op: "close", Err: err}
	}
	return nil
}

// blockKey returns "blk:" || LE64(height). Lexicographic order over
// this key is NOT numeric order — see DESIGN.md's resolution of Open
// Question 3. Callers needing numeric height order must sort
// IterBlocks' results themselves.
func blockKey(height uint64) []byte {
	key := make([]byte, len(prefixBlock)+8)
	copy(key, prefixBlock)
	binary.LittleEndian.PutUint64(key[len(prefixBlock):], height)
	return key
}

func hashKey(hash [32]byte) []byte {
	key := make([]byte, len(prefixHash)+32)
	copy(key, prefixHash)
	copy(key[len(prefixHash):], hash[:])
	return key
}

func forgeKey(proofHash [32]byte) []byte {
	key := make([]byte, len(prefixForge)+32)
	copy(key, prefixForge)
	copy(key[len(prefixForge):], proofHash[:])
	return key
}

func metaKey(name string) []byte {
	return append(append([]byte{}, prefixMeta...), []byte(name)...)
}

// PutBlock stores b at its height, and records its header hash →
// height mapping, in one sequential pair of writes (batching is out of
// scope per spec.md §4.2).
func (s *Store) PutBlock(height uint64, hash [32]byte, b *wire.Block) error {
	raw, err := b.Bytes()
	if err != nil {
		return err
	}
	if err := s.db.Put(blockKey(height), raw, nil); err != nil {
		return &StorageError{Op: "put block", Err: err}
	}

	le := make([]byte, 8)
	binary.LittleEndian.PutUint64(le, height)
	if err := s.db.Put(hashKey(hash), le, nil); err != nil {
		return &StorageError{Op: "put block hash", Err: err}
	}
	return nil
}

// GetBlock returns the block stored at height.
func (s *Store) GetBlock(height uint64) (*wire.Block, error) {
	raw, err := s.db.Get(blockKey(height), nil)
	if err != nil {
		return nil, wrapGetErr("get block", err)
	}
	blk, err := wire.BlockFromBytes(raw)
	if err != nil {
		return nil, &CorruptionError{Key: "blk:", Msg: err.Error()}
	}
	return blk, nil
}

// DeleteBlock removes the block stored at height. It does not remove
// the corresponding hash → height entry, matching spec.md §4.2's
// per-namespace delete operations.
func (s *Store) DeleteBlock(height uint64) error {
	if err := s.db.Delete(blockKey(height), nil); err != nil {
		return &StorageError{Op: "delete block", Err: err}
	}
	return nil
}

// GetBlockHeightByHash resolves a block header hash to its height.
func (s *Store) GetBlockHeightByHash(hash [32]byte) (uint64, error) {
	raw, err := s.db.Get(hashKey(hash), nil)
	if err != nil {
		return 0, wrapGetErr("get block height by hash", err)
	}
	if len(raw) != 8 {
		return 0, &CorruptionError{Key: "bhash:", Msg: "value is not 8 bytes"}
	}
	return binary.LittleEndian.Uint64(raw), nil
}

// PutForge stores a forge transaction indexed by its proof hash.
func (s *Store) PutForge(proofHash [32]byte, f *wire.ForgeTransaction) error {
	raw, err := f.Bytes()
	if err != nil {
		return err
	}
	if err := s.db.Put(forgeKey(proofHash), raw, nil); err != nil {
		return &StorageError{Op: "put forge", Err: err}
	}
	return nil
}

// GetForge returns the forge transaction stored under proofHash.
func (s *Store) GetForge(proofHash [32]byte) (*wire.ForgeTransaction, error) {
	raw, err := s.db.Get(forgeKey(proofHash), nil)
	if err != nil {
		return nil, wrapGetErr("get forge", err)
	}
	f, err := wire.ForgeTransactionFromBytes(raw)
	if err != nil {
		return nil, &CorruptionError{Key: "forge:", Msg: err.Error()}
	}
	return f, nil
}

// ForgeExists reports whether proofHash has a stored forge.
func (s *Store) ForgeExists(proofHash [32]byte) (bool, error) {
	ok, err := s.db.Has(forgeKey(proofHash), nil)
	if err != nil {
		return false, &StorageError{Op: "forge exists", Err: err}
	}
	return ok, nil
}

// SetHeight records the chain's current height under "meta:height".
func (s *Store) SetHeight(height uint64) error {
	le := make([]byte, 8)
	binary.LittleEndian.PutUint64(le, height)
	if err := s.db.Put(keyHeight, le, nil); err != nil {
		return &StorageError{Op: "set height", Err: err}
	}
	return nil
}

// GetHeight returns the chain's current height, or 0 with ErrNotFound
// if it has never been set (genesis).
func (s *Store) GetHeight() (uint64, error) {
	raw, err := s.db.Get(keyHeight, nil)
	if err != nil {
		return 0, wrapGetErr("get height", err)
	}
	if len(raw) != 8 {
		return 0, &CorruptionError{Key: "meta:height", Msg: "value is not 8 bytes"}
	}
	return binary.LittleEndian.Uint64(raw), nil
}

// SetBestBlock records the chain tip's header hash under
// "meta:best_block".
func (s *Store) SetBestBlock(hash [32]byte) error {
	if err := s.db.Put(keyBestBlock, hash[:], nil); err != nil {
		return &StorageError{Op: "set best block", Err: err}
	}
	return nil
}

// GetBestBlock returns the chain tip's header hash.
func (s *Store) GetBestBlock() ([32]byte, error) {
	var hash [32]byte
	raw, err := s.db.Get(keyBestBlock, nil)
	if err != nil {
		return hash, wrapGetErr("get best block", err)
	}
	if len(raw) != 32 {
		return hash, &CorruptionError{Key: "meta:best_block", Msg: "value is not 32 bytes"}
	}
	copy(hash[:], raw)
	return hash, nil
}

// PutMeta stores an opaque metadata value under "meta:" || name.
func (s *Store) PutMeta(name string, value []byte) error {
	if err := s.db.Put(metaKey(name), value, nil); err != nil {
		return &StorageError{Op: "put meta", Err: err}
	}
	return nil
}

// GetMeta retrieves an opaque metadata value previously stored with
// PutMeta.
func (s *Store) GetMeta(name string) ([]byte, error) {
	raw, err := s.db.Get(metaKey(name), nil)
	if err != nil {
		return nil, wrapGetErr("get meta", err)
	}
	return raw, nil
}

// BlockEntry is one (height, block) pair yielded by IterBlocks.
type BlockEntry struct {
	Height uint64
	Block  *wire.Block
}

// IterBlocks returns every stored block in ascending byte order over
// the "blk:" prefix. Because heights are encoded little-endian, this is
// lexicographic order, not numeric order (spec.md §4.2, §9 Open
// Question 3) — callers that need numeric order must sort the result.
func (s *Store) IterBlocks() ([]BlockEntry, error) {
	iter := s.db.NewIterator(util.BytesPrefix(prefixBlock), nil)
	defer iter.Release()

	var entries []BlockEntry
	for iter.Next() {
		key := iter.Key()
		if len(key) != len(prefixBlock)+8 {
			return nil, &CorruptionError{Key: "blk:", Msg: "key has unexpected length"}
		}
		height := binary.LittleEndian.Uint64(key[len(prefixBlock):])

		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())
		blk, err := wire.BlockFromBytes(value)
		if err != nil {
			return nil, &CorruptionError{Key: "blk:", Msg: err.Error()}
		}
		entries = append(entries, BlockEntry{Height: height, Block: blk})
	}
	if err := iter.Error(); err != nil {
		return nil, &StorageError{Op: "iter blocks", Err: err}
	}
	return entries, nil
}

// Snapshot returns a read-consistent view of the store, usable after
// concurrent writes have begun (spec.md §4.2).
func (s *Store) Snapshot() (*leveldb.Snapshot, error) {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, &StorageError{Op: "snapshot", Err: err}
	}
	return snap, nil
}

// Compact is a best-effort maintenance hook compacting the entire
// keyspace (spec.md §4.2).
func (s *Store) Compact() error {
	if err := s.db.CompactRange(util.Range{}); err != nil {
		return &StorageError{Op: "compact", Err: err}
	}
	return nil
}

func wrapGetErr(op string, err error) error {
	if errors.Is(err, leveldb.ErrNotFound) {
		return ErrNotFound
	}
	return &StorageError{Op: op, Err: err}
}
