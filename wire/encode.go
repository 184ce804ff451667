// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wire implements the single canonical binary encoding used for
// every on-wire and on-disk representation of a ForgeTransaction, a
// BlockHeader, and a Block. The same encoding feeds Merkle-leaf hashing
// and block-header hashing, so any divergence here breaks consensus
// across the network (spec.md §6).
//
// The format is little-endian throughout, with length-prefixed variable
// fields: a uint32 byte count followed by the raw bytes.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxVarBytesSize bounds the length prefix read by readVarBytes so a
// corrupt or hostile payload cannot force an enormous allocation.
const MaxVarBytesSize = 1 << 24 // 16 MiB

// writeUint32 writes a little-endian uint32 to w.
func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// readUint32 reads a little-endian uint32 from r.
func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// writeUint64 writes a little-endian uint64 to w.
func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// readUint64 reads a little-endian uint64 from r.
func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// writeFixedBytes writes exactly len(b) bytes to w with no length
// prefix. It is used for fields whose size is fixed by the type system
// (32-byte hashes).
func writeFixedBytes(w io.Writer, b []byte) error {
	_, err := w.Write(b)
	return err
}

// readFixedBytes reads exactly len(b) bytes from r into b.
func readFixedBytes(r io.Reader, b []byte) error {
	_, err := io.ReadFull(r, b)
	return err
}

// writeVarBytes writes a uint32 length prefix followed by b.
func writeVarBytes(w io.Writer, b []byte) error {
	if len(b) > MaxVarBytesSize {
		return fmt.Errorf("wire: var bytes field too large (%d > %d)",
			len(b), MaxVarBytesSize)
	}
	if err := writeUint32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// readVarBytes reads a uint32 length prefix followed by that many bytes.
func readVarBytes(r io.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n > MaxVarBytesSize {
		return nil, fmt.Errorf("wire: var bytes field too large (%d > %d)",
			n, MaxVarBytesSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeVarString writes a string using the same length-prefixed
// encoding as writeVarBytes.
func writeVarString(w io.Writer, s string) error {
	return writeVarBytes(w, []byte(s))
}

// readVarString reads a string using the same length-prefixed encoding
// as readVarBytes.
func readVarString(r io.Reader) (string, error) {
	b, err := readVarBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
