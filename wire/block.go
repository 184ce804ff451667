// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
)

// MaxForgesPerBlock is the maximum number of forges a single block may
// carry (spec.md §3, §6).
const MaxForgesPerBlock = 100

// BlockHeader is the fixed-size header committing to a Block's forge
// list and its position in the chain (spec.md §3).
type BlockHeader struct {
	Version        uint32
	Height         uint64
	PrevBlockHash  [32]byte
	MerkleRoot     [32]byte
	Timestamp      uint64
	Difficulty     uint32
	// Nonce is serialized and hashed but never consulted during
	// validation (spec.md §9 Open Question 5); reserved for a future
	// client-side search over proof_hash's leading-zero count.
	Nonce uint64
}

// Serialize writes the canonical encoding of h to w.
func (h *BlockHeader) Serialize(w io.Writer) error {
	if err := writeUint32(w, h.Version); err != nil {
		return err
	}
	if err := writeUint64(w, h.Height); err != nil {
		return err
	}
	if err := writeFixedBytes(w, h.PrevBlockHash[:]); err != nil {
		return err
	}
	if err := writeFixedBytes(w, h.MerkleRoot[:]); err != nil {
		return err
	}
	if err := writeUint64(w, h.Timestamp); err != nil {
		return err
	}
	if err := writeUint32(w, h.Difficulty); err != nil {
		return err
	}
	return writeUint64(w, h.Nonce)
}

// Deserialize reads the canonical encoding of a BlockHeader from r into h.
func (h *BlockHeader) Deserialize(r io.Reader) error {
	var err error
	if h.Version, err = readUint32(r); err != nil {
		return err
	}
	if h.Height, err = readUint64(r); err != nil {
		return err
	}
	if err = readFixedBytes(r, h.PrevBlockHash[:]); err != nil {
		return err
	}
	if err = readFixedBytes(r, h.MerkleRoot[:]); err != nil {
		return err
	}
	if h.Timestamp, err = readUint64(r); err != nil {
		return err
	}
	if h.Difficulty, err = readUint32(r); err != nil {
		return err
	}
	if h.Nonce, err = readUint64(r); err != nil {
		return err
	}
	return nil
}

// Bytes returns the canonical serialized encoding of h.
func (h *BlockHeader) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := h.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns SHA-256 of the header's canonical encoding — the header
// hash used as PrevBlockHash by the following block and as the chain
// state's latest_hash.
func (h *BlockHeader) Hash() ([32]byte, error) {
	b, err := h.Bytes()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(b), nil
}

// Block pairs a header with its ordered, non-empty forge list (spec.md
// §3).
type Block struct {
	Header BlockHeader
	Forges []*ForgeTransaction
}

// Serialize writes the canonical encoding of b to w.
func (b *Block) Serialize(w io.Writer) error {
	if err := b.Header.Serialize(w); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(b.Forges))); err != nil {
		return err
	}
	for _, f := range b.Forges {
		if err := f.Serialize(w); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize reads the canonical encoding of a Block from r into b.
func (b *Block) Deserialize(r io.Reader) error {
	if err := b.Header.Deserialize(r); err != nil {
		return err
	}

	count, err := readUint32(r)
	if err != nil {
		return err
	}
	if count > MaxForgesPerBlock {
		return fmt.Errorf("wire: block declares %d forges, max is %d",
			count, MaxForgesPerBlock)
	}

	forges := make([]*ForgeTransaction, count)
	for i := range forges {
		f := new(ForgeTransaction)
		if err := f.Deserialize(r); err != nil {
			return err
		}
		forges[i] = f
	}
	b.Forges = forges
	return nil
}

// Bytes returns the canonical serialized encoding of b.
func (b *Block) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BlockFromBytes decodes a Block from its canonical encoding.
func BlockFromBytes(data []byte) (*Block, error) {
	blk := new(Block)
	if err := blk.Deserialize(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return blk, nil
}
