// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package pof implements the Proof-of-Forge cryptographic pipeline: a
// five-stage deterministic key derivation rooted in a fixed 13-word
// prophecy axiom. The pipeline is a pure function of its inputs — it
// performs no I/O and no logging — so that every node on the network
// derives bit-identical results.
package pof

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/ripemd160"
)

// CanonicalProphecy is the fixed 13-word prophecy axiom. The consensus
// engine accepts forges built only from this exact sequence.
var CanonicalProphecy = [13]string{
	"sword", "legend", "pull", "magic", "kingdom", "artist",
	"stone", "destroy", "forget", "fire", "steel", "honey", "question",
}

const (
	// prophecyWordCount is the required length of a prophecy.
	prophecyWordCount = 13

	// tetraPowRounds is the number of Tetra-POW mixing rounds applied to
	// the prophecy hash.
	tetraPowRounds = 128

	// pbkdf2Iterations is the number of PBKDF2-HMAC-SHA512 rounds used
	// to temper the Tetra-POW output.
	pbkdf2Iterations = 600_000

	// DefaultSalt is the default PBKDF2 salt used when none is supplied.
	DefaultSalt = "Excalibur-EXS-Forge"

	// Fee schedule constants (calculateForgeFee, §4.1/§6).
	baseFeeSatoshis      = 100_000_000
	feeIncrementSatoshis = 10_000_000
	feeIncrementInterval = 10_000
	maxFeeSatoshis       = 2_100_000_000
)

// tetraRoundConstants are added to each of the four state lanes, one per
// lane, on every Tetra-POW round.
var tetraRoundConstants = [4]uint64{
	0x9E3779B97F4A7C15,
	0x243F6A8885A308D3,
	0x13198A2E03707344,
	0xA4093822299F31D0,
}

// zetahashRatios are the Pythagorean ratios consumed by stage 4. Only the
// first four entries are ever used (one per 64-bit lane of the tempered
// key), but the full list is kept to mirror the reference derivation
// byte-for-byte.
var zetahashRatios = [8]float64{
	1.0,
	1.618033988749895,
	1.414213562373095,
	1.732050807568877,
	2.0,
	0.75,
	0.8,
	1.25,
}

// Errors returned by Derive.
var (
	// ErrWordCount is returned when the prophecy does not contain
	// exactly 13 words.
	ErrWordCount = errors.New("pof: prophecy must contain exactly 13 words")

	// ErrInvalidKey is returned when the derived final seed is not a
	// valid secp256k1 private key (zero, or >= curve order).
	ErrInvalidKey = errors.New("pof: derived final seed is not a valid secp256k1 private key")
)

// Result holds every intermediate value of a Proof-of-Forge derivation
// plus its final address. Every field is deterministic given the same
// inputs.
type Result struct {
	// ProphecyHash is the 64-byte SHA-512 output of stage 1.
	ProphecyHash [64]byte

	// TetraHash is the 32-byte output of the 128-round Tetra-POW mix
	// (stage 2).
	TetraHash [32]byte

	// TemperedKey is the 64-byte PBKDF2-HMAC-SHA512 output of stage 3.
	TemperedKey [64]byte

	// FinalSeed is the 32-byte output of the Zetahash Pythagoras
	// transform (stage 4). It doubles as the forge's proof hash and as
	// the secp256k1 private key material for stage 5.
	FinalSeed [32]byte

	// TaprootAddress is the stage-5 address. Named for the reference
	// implementation's aspirational BIP-340/341 claim; the bytes
	// actually produced are a standard P2WPKH address (see
	// DESIGN.md Open Question 2).
	TaprootAddress string
}

// ProofHash returns the 32-byte identifier used for replay detection. In
// this pipeline it is identical to FinalSeed (stage 4's output).
func (r *Result) ProofHash() [32]byte {
	return r.FinalSeed
}

// Derive runs the complete five-stage Proof-of-Forge pipeline over words.
// salt defaults to DefaultSalt when nil. net selects the address network
// tag for stage 5.
//
// Derive never consumes a timestamp or any other caller-supplied entropy
// beyond words/salt/net — see DESIGN.md's resolution of Open Question 1.
// Every forge built from the same (words, salt, net) therefore shares one
// proof hash network-wide.
func Derive(words []string, salt []byte, net *chaincfg.Params) (*Result, error) {
	prophecyHash, err := prophecyBinding(words)
	if err != nil {
		return nil, err
	}

	tetraHash := tetraPow128Rounds(prophecyHash)
	temperedKey := pbkdf2Tempering(tetraHash, salt)
	finalSeed := finalZetahashPythagoras(temperedKey)

	addr, err := deriveTaprootAddress(finalSeed, net)
	if err != nil {
		return nil, err
	}

	result := &Result{TaprootAddress: addr}
	copy(result.ProphecyHash[:], prophecyHash)
	copy(result.TetraHash[:], tetraHash)
	copy(result.TemperedKey[:], temperedKey)
	copy(result.FinalSeed[:], finalSeed)
	return result, nil
}

// prophecyBinding implements stage 1: concatenate the words with no
// separator and hash with SHA-512.
func prophecyBinding(words []string) ([]byte, error) {
	if len(words) != prophecyWordCount {
		return nil, fmt.Errorf("%w: got %d", ErrWordCount, len(words))
	}

	var concatenated string
	for _, w := range words {
		concatenated += w
	}

	sum := sha512.Sum512([]byte(concatenated))
	return sum[:], nil
}

// tetraPow128Rounds implements stage 2: 128 rounds of nonlinear 4-lane
// mixing seeded from the first 32 bytes of prophecyHash.
func tetraPow128Rounds(prophecyHash []byte) []byte {
	var s [4]uint64
	for i := range s {
		s[i] = binary.LittleEndian.Uint64(prophecyHash[i*8 : i*8+8])
	}

	for round := 0; round < tetraPowRounds; round++ {
		s[0] ^= (s[1] << 13) ^ (s[3] >> 7)
		s[1] ^= (s[2] << 17) ^ (s[0] >> 5)
		s[2] ^= (s[3] << 23) ^ (s[1] >> 11)
		s[3] ^= (s[0] << 29) ^ (s[2] >> 3)

		for i := range s {
			s[i] += tetraRoundConstants[i]
		}
	}

	out := make([]byte, 32)
	for i, lane := range s {
		binary.LittleEndian.PutUint64(out[i*8:i*8+8], lane)
	}
	return out
}

// pbkdf2Tempering implements stage 3: PBKDF2-HMAC-SHA512 over tetraHash,
// 600,000 iterations, 64-byte output.
func pbkdf2Tempering(tetraHash, salt []byte) []byte {
	if salt == nil {
		salt = []byte(DefaultSalt)
	}
	return pbkdf2.Key(tetraHash, salt, pbkdf2Iterations, 64, sha512.New)
}

// finalZetahashPythagoras implements stage 4. For each of the four
// 64-bit lanes of temperedKey, it multiplies the lane by a fixed
// Pythagorean ratio (IEEE-754 round-to-nearest-even, truncated toward
// zero, saturating at u64::MAX on overflow), hashes the pair
// (original, transformed) with SHA-256, and keeps the first 8 bytes.
func finalZetahashPythagoras(temperedKey []byte) []byte {
	result := make([]byte, 32)

	for i := 0; i < 4; i++ {
		offset := i * 8
		value := binary.LittleEndian.Uint64(temperedKey[offset : offset+8])

		ratio := zetahashRatios[i%len(zetahashRatios)]
		transformed := f64MulToU64Saturating(value, ratio)

		mix := make([]byte, 16)
		binary.LittleEndian.PutUint64(mix[0:8], value)
		binary.LittleEndian.PutUint64(mix[8:16], transformed)

		hash := sha256.Sum256(mix)
		copy(result[i*8:i*8+8], hash[:8])
	}

	return result
}

// f64MulToU64Saturating multiplies v by ratio using IEEE-754 double
// arithmetic and truncates the result toward zero, saturating to
// math.MaxUint64 for any product that would overflow a u64. This is the
// pipeline's only floating-point step; determinism across platforms
// requires a strict IEEE-754-compliant multiply (see spec.md §4.1).
func f64MulToU64Saturating(v uint64, ratio float64) uint64 {
	product := float64(v) * ratio
	if product >= math.MaxUint64 {
		return math.MaxUint64
	}
	if product < 0 {
		return 0
	}
	return uint64(product)
}

// deriveTaprootAddress implements stage 5: interpret finalSeed as a
// secp256k1 private key, derive the corresponding public key, and encode
// a network-tagged P2WPKH address.
func deriveTaprootAddress(finalSeed []byte, net *chaincfg.Params) (string, error) {
	if isZero(finalSeed) || !lessThanCurveOrder(finalSeed) {
		return "", ErrInvalidKey
	}

	_, pubKey := secp256k1.PrivKeyFromBytes(finalSeed)
	pubKeyHash := hash160(pubKey.SerializeCompressed())

	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, net)
	if err != nil {
		return "", fmt.Errorf("pof: address derivation failed: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// hash160 computes RIPEMD160(SHA256(b)), the standard 20-byte digest
// used to build P2WPKH addresses.
func hash160(b []byte) []byte {
	sha := sha256.Sum256(b)
	ripe := ripemd160.New()
	ripe.Write(sha[:])
	return ripe.Sum(nil)
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// lessThanCurveOrder reports whether the big-endian integer in b is
// strictly less than the secp256k1 group order N.
func lessThanCurveOrder(b []byte) bool {
	var n secp256k1.ModNScalar
	overflow := n.SetByteSlice(b)
	return !overflow
}

// CalculateForgeFee returns the forge fee, in satoshis, for the given
// number of completed forges. The schedule starts at 1 BTC, rises by 0.1
// BTC every 10,000 completions, and is capped at 21 BTC.
func CalculateForgeFee(completed uint64) uint64 {
	increments := completed / feeIncrementInterval
	fee := uint64(baseFeeSatoshis) + increments*feeIncrementSatoshis
	if fee > maxFeeSatoshis {
		return maxFeeSatoshis
	}
	return fee
}
