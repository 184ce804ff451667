// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"io"
)

// ForgeTransaction is an attested successful Proof-of-Forge derivation
// (spec.md §3).
type ForgeTransaction struct {
	// Prophecy is the 13-word sequence, space-joined. Consensus accepts
	// only the canonical value.
	Prophecy string

	// DerivedKey is the 32-byte output of pipeline stage 4 (Zetahash).
	DerivedKey [32]byte

	// TaprootAddress is the text-encoded address produced by stage 5.
	TaprootAddress string

	// ProofHash is the 32-byte replay-protection key. In this pipeline
	// it equals DerivedKey.
	ProofHash [32]byte

	// Timestamp is seconds since the Unix epoch, supplied by the
	// submitter.
	Timestamp uint64

	// Signature is an opaque byte string, reserved for future use and
	// not validated by core (spec.md §3).
	Signature []byte
}

// Serialize writes the canonical encoding of f to w.
func (f *ForgeTransaction) Serialize(w io.Writer) error {
	if err := writeVarString(w, f.Prophecy); err != nil {
		return err
	}
	if err := writeFixedBytes(w, f.DerivedKey[:]); err != nil {
		return err
	}
	if err := writeVarString(w, f.TaprootAddress); err != nil {
		return err
	}
	if err := writeFixedBytes(w, f.ProofHash[:]); err != nil {
		return err
	}
	if err := writeUint64(w, f.Timestamp); err != nil {
		return err
	}
	return writeVarBytes(w, f.Signature)
}

// Deserialize reads the canonical encoding of a ForgeTransaction from r
// into f.
func (f *ForgeTransaction) Deserialize(r io.Reader) error {
	prophecy, err := readVarString(r)
	if err != nil {
		return err
	}
	f.Prophecy = prophecy

	if err := readFixedBytes(r, f.DerivedKey[:]); err != nil {
		return err
	}

	addr, err := readVarString(r)
	if err != nil {
		return err
	}
	f.TaprootAddress = addr

	if err := readFixedBytes(r, f.ProofHash[:]); err != nil {
		return err
	}

	ts, err := readUint64(r)
	if err != nil {
		return err
	}
	f.Timestamp = ts

	sig, err := readVarBytes(r)
	if err != nil {
		return err
	}
	f.Signature = sig
	return nil
}

// Bytes returns the canonical serialized encoding of f.
func (f *ForgeTransaction) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := f.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ForgeTransactionFromBytes decodes a ForgeTransaction from its
// canonical encoding.
func ForgeTransactionFromBytes(b []byte) (*ForgeTransaction, error) {
	f := new(ForgeTransaction)
	if err := f.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return f, nil
}
