// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpc

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/excalibur-exs/excd/chaincfg"
	"github.com/excalibur-exs/excd/consensus"
	"github.com/excalibur-exs/excd/gossip"
	"github.com/excalibur-exs/excd/mempool"
	"github.com/excalibur-exs/excd/pof"
	"github.com/excalibur-exs/excd/store"
	"github.com/excalibur-exs/excd/wire"
)

// Services bundles the core components an RPC server dispatches
// against. It holds no lock of its own — each component already
// guards its own state (spec.md §5).
type Services struct {
	Engine  *consensus.Engine
	Pool    *mempool.ForgePool
	Store   *store.Store
	Adapter gossip.Adapter
	Net     *chaincfg.Params
}

// RegisterHandlers binds every method named in spec.md §4.6 to s.
func RegisterHandlers(s *Server, svc *Services) {
	s.Register("getblockcount", svc.getBlockCount)
	s.Register("getinfo", svc.getInfo)
	s.Register("getblock", svc.getBlock)
	s.Register("getforge", svc.getForge)
	s.Register("submitforge", svc.submitForge)
	s.Register("getpeerinfo", svc.getPeerInfo)
	s.Register("validateprophecy", svc.validateProphecy)
	s.Register("getdifficulty", svc.getDifficulty)
}

func (svc *Services) getBlockCount(json.RawMessage) (interface{}, error) {
	return svc.Engine.Height(), nil
}

// infoResult is the getinfo result shape.
type infoResult struct {
	Height      uint64 `json:"height"`
	Difficulty  uint32 `json:"difficulty"`
	TotalForges uint64 `json:"total_forges"`
}

func (svc *Services) getInfo(json.RawMessage) (interface{}, error) {
	return infoResult{
		Height:      svc.Engine.Height(),
		Difficulty:  svc.Engine.Difficulty(),
		TotalForges: svc.Engine.TotalForges(),
	}, nil
}

type getBlockParams struct {
	Height uint64 `json:"height"`
}

func (svc *Services) getBlock(params json.RawMessage) (interface{}, error) {
	var p getBlockParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &HandlerError{Code: CodeInvalidParams, Message: "expected {height}"}
	}

	blk, err := svc.Store.GetBlock(p.Height)
	if err != nil {
		return nil, &HandlerError{Code: CodeInvalidParams, Message: "block not found"}
	}
	return blockToJSON(blk), nil
}

type getForgeParams struct {
	ProofHash string `json:"proof_hash"`
}

func (svc *Services) getForge(params json.RawMessage) (interface{}, error) {
	var p getForgeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &HandlerError{Code: CodeInvalidParams, Message: "expected {proof_hash}"}
	}

	hash, err := decodeHash32(p.ProofHash)
	if err != nil {
		return nil, &HandlerError{Code: CodeInvalidParams, Message: "proof_hash must be 32 hex bytes"}
	}

	if f, ok := svc.Pool.GetForge(hash); ok {
		return forgeToJSON(f), nil
	}
	f, err := svc.Store.GetForge(hash)
	if err != nil {
		return nil, &HandlerError{Code: CodeInvalidParams, Message: "forge not found"}
	}
	return forgeToJSON(f), nil
}

type submitForgeParams struct {
	Forge forgeJSON `json:"forge"`
}

func (svc *Services) submitForge(params json.RawMessage) (interface{}, error) {
	var p submitForgeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &HandlerError{Code: CodeInvalidParams, Message: "expected {forge}"}
	}

	f, err := p.Forge.toWire()
	if err != nil {
		return nil, &HandlerError{Code: CodeInvalidParams, Message: err.Error()}
	}

	if err := svc.Engine.ValidateForge(f); err != nil {
		return nil, &HandlerError{Code: CodeInvalidParams, Message: err.Error()}
	}

	if err := svc.Pool.AddForge(f); err != nil {
		return nil, &HandlerError{Code: CodeInvalidParams, Message: err.Error()}
	}

	if svc.Adapter != nil {
		raw, err := f.Bytes()
		if err == nil {
			_ = svc.Adapter.PublishForge(raw)
		}
	}

	return forgeToJSON(f), nil
}

func (svc *Services) getPeerInfo(json.RawMessage) (interface{}, error) {
	if svc.Adapter == nil {
		return []gossip.PeerInfo{}, nil
	}
	return svc.Adapter.ListPeers(), nil
}

type validateProphecyParams struct {
	Prophecy string `json:"prophecy"`
}

type validateProphecyResult struct {
	Valid          bool   `json:"valid"`
	ProofHash      string `json:"proof_hash,omitempty"`
	TaprootAddress string `json:"taproot_address,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

func (svc *Services) validateProphecy(params json.RawMessage) (interface{}, error) {
	var p validateProphecyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &HandlerError{Code: CodeInvalidParams, Message: "expected {prophecy}"}
	}

	if p.Prophecy != consensus.CanonicalProphecy {
		return validateProphecyResult{Valid: false, Reason: "prophecy does not match the canonical axiom"}, nil
	}

	words := strings.Split(p.Prophecy, " ")
	result, err := pof.Derive(words, nil, svc.Net.BtcParams)
	if err != nil {
		return validateProphecyResult{Valid: false, Reason: err.Error()}, nil
	}

	return validateProphecyResult{
		Valid:          true,
		ProofHash:      hex.EncodeToString(result.ProofHash()[:]),
		TaprootAddress: result.TaprootAddress,
	}, nil
}

func (svc *Services) getDifficulty(json.RawMessage) (interface{}, error) {
	return svc.Engine.Difficulty(), nil
}

// --- JSON wire shapes for block/forge, independent of the canonical
// binary wire.Block/wire.ForgeTransaction encoding (spec.md §4.6
// exposes a JSON view; spec.md §6's canonical encoding is separate).

type forgeJSON struct {
	Prophecy       string `json:"prophecy"`
	DerivedKey     string `json:"derived_key"`
	TaprootAddress string `json:"taproot_address"`
	ProofHash      string `json:"proof_hash"`
	Timestamp      uint64 `json:"timestamp"`
	Signature      string `json:"signature,omitempty"`
}

func forgeToJSON(f *wire.ForgeTransaction) forgeJSON {
	return forgeJSON{
		Prophecy:       f.Prophecy,
		DerivedKey:     hex.EncodeToString(f.DerivedKey[:]),
		TaprootAddress: f.TaprootAddress,
		ProofHash:      hex.EncodeToString(f.ProofHash[:]),
		Timestamp:      f.Timestamp,
		Signature:      hex.EncodeToString(f.Signature),
	}
}

func (j forgeJSON) toWire() (*wire.ForgeTransaction, error) {
	derivedKey, err := decodeHash32(j.DerivedKey)
	if err != nil {
		return nil, err
	}
	proofHash, err := decodeHash32(j.ProofHash)
	if err != nil {
		return nil, err
	}
	sig, err := hex.DecodeString(j.Signature)
	if err != nil {
		return nil, err
	}
	return &wire.ForgeTransaction{
		Prophecy:       j.Prophecy,
		DerivedKey:     derivedKey,
		TaprootAddress: j.TaprootAddress,
		ProofHash:      proofHash,
		Timestamp:      j.Timestamp,
		Signature:      sig,
	}, nil
}

type blockHeaderJSON struct {
	Version       uint32 `json:"version"`
	Height        uint64 `json:"height"`
	PrevBlockHash string `json:"prev_block_hash"`
	MerkleRoot    string `json:"merkle_root"`
	Timestamp     uint64 `json:"timestamp"`
	Difficulty    uint32 `json:"difficulty"`
	Nonce         uint64 `json:"nonce"`
}

type blockJSON struct {
	Header blockHeaderJSON `json:"header"`
	Forges []forgeJSON     `json:"forges"`
}

func blockToJSON(b *wire.Block) blockJSON {
	forges := make([]forgeJSON, len(b.Forges))
	for i, f := range b.Forges {
		forges[i] = forgeToJSON(f)
	}
	return blockJSON{
		Header: blockHeaderJSON{
			Version:       b.Header.Version,
			Height:        b.Header.Height,
			PrevBlockHash: hex.EncodeToString(b.Header.PrevBlockHash[:]),
			MerkleRoot:    hex.EncodeToString(b.Header.MerkleRoot[:]),
			Timestamp:     b.Header.Timestamp,
			Difficulty:    b.Header.Difficulty,
			Nonce:         b.Header.Nonce,
		},
		Forges: forges,
	}
}

func decodeHash32(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, errHashLength
	}
	copy(out[:], raw)
	return out, nil
}

var errHashLength = &HandlerError{Code: CodeInvalidParams, Message: "expected 32 bytes of hex"}
