// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consensus

import "fmt"

// ErrorKind identifies a specific reason forge or block validation
// failed (spec.md §7). Validation errors are terminal for the offending
// object — there is no retry path for any of these.
type ErrorKind int

const (
	// ErrInvalidProphecy indicates the forge's prophecy is not exactly
	// 13 words or does not match the canonical axiom.
	ErrInvalidProphecy ErrorKind = iota

	// ErrDerivationMismatch indicates the recomputed Proof-of-Forge
	// pipeline disagrees with the forge's claimed derived_key or
	// taproot_address.
	ErrDerivationMismatch

	// ErrDifficultyNotMet indicates the proof hash has fewer leading
	// zero bytes than the current difficulty requires.
	ErrDifficultyNotMet

	// ErrReplay indicates the proof hash has already been applied to
	// the chain.
	ErrReplay

	// ErrBadBlockLink indicates the block's prev_block_hash does not
	// match the chain's current tip.
	ErrBadBlockLink

	// ErrBadHeight indicates the block's header.height is not exactly
	// one more than the chain's current height.
	ErrBadHeight

	// ErrBadMerkleRoot indicates the recomputed Merkle root does not
	// match the block header's merkle_root.
	ErrBadMerkleRoot

	// ErrEmptyBlock indicates the block contains zero forges.
	ErrEmptyBlock

	// ErrTooManyForges indicates the block contains more than
	// MaxForgesPerBlock forges.
	ErrTooManyForges

	// ErrFutureTimestamp indicates the block header's timestamp is
	// further than MaxFutureSkew seconds ahead of the validator's
	// clock.
	ErrFutureTimestamp
)

// String returns a short human-readable name for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrInvalidProphecy:
		return "InvalidProphecy"
	case ErrDerivationMismatch:
		return "DerivationMismatch"
	case ErrDifficultyNotMet:
		return "DifficultyNotMet"
	case ErrReplay:
		return "Replay"
	case ErrBadBlockLink:
		return "BadBlockLink"
	case ErrBadHeight:
		return "BadHeight"
	case ErrBadMerkleRoot:
		return "BadMerkleRoot"
	case ErrEmptyBlock:
		return "EmptyBlock"
	case ErrTooManyForges:
		return "TooManyForges"
	case ErrFutureTimestamp:
		return "FutureTimestamp"
	default:
		return "Unknown"
	}
}

// RuleError identifies a rule violation. It carries both a kind, for
// programmatic dispatch via errors.As, and a human-readable description.
type RuleError struct {
	Kind        ErrorKind
	Description string
}

// Error implements the error interface.
func (e RuleError) Error() string {
	return e.Description
}

// ruleErr is a convenience constructor matching the style of dcrutil's
// sentinel errors: short at the call site, descriptive at the log line.
func ruleErr(kind ErrorKind, format string, args ...interface{}) RuleError {
	return RuleError{Kind: kind, Description: fmt.Sprintf(format, args...)}
}

// IsErrorKind reports whether err is a RuleError of the given kind.
func IsErrorKind(err error, kind ErrorKind) bool {
	re, ok := err.(RuleError)
	return ok && re.Kind == kind
}
