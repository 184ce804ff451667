// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpc

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/excalibur-exs/excd/chaincfg"
	"github.com/excalibur-exs/excd/consensus"
	"github.com/excalibur-exs/excd/mempool"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer()
	svc := &Services{
		Engine: consensus.NewEngine(&chaincfg.RegNetParams),
		Pool:   mempool.New(16, 0),
		Net:    &chaincfg.RegNetParams,
	}
	RegisterHandlers(s, svc)
	return s
}

func decodeResponse(t *testing.T, raw []byte) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("failed to decode response: %v, raw=%s", err, raw)
	}
	return resp
}

// TestWrongJSONRPCVersionRejected reproduces spec.md §8 scenario 6's
// first case: jsonrpc:"1.0" yields -32600.
func TestWrongJSONRPCVersionRejected(t *testing.T) {
	s := testServer(t)
	raw := s.Dispatch([]byte(`{"jsonrpc":"1.0","method":"getblockcount","id":1}`))
	resp := decodeResponse(t, raw)
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Fatalf("got %+v, want error code %d", resp.Error, CodeInvalidRequest)
	}
}

// TestUnknownMethodRejected reproduces spec.md §8 scenario 6's second
// case: an unregistered method yields -32601.
func TestUnknownMethodRejected(t *testing.T) {
	s := testServer(t)
	raw := s.Dispatch([]byte(`{"jsonrpc":"2.0","method":"does_not_exist","id":1}`))
	resp := decodeResponse(t, raw)
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("got %+v, want error code %d", resp.Error, CodeMethodNotFound)
	}
}

// TestMalformedJSONRejected reproduces spec.md §8 scenario 6's third
// case: a body that is not valid JSON yields -32700.
func TestMalformedJSONRejected(t *testing.T) {
	s := testServer(t)
	raw := s.Dispatch([]byte(`{not json`))
	resp := decodeResponse(t, raw)
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Fatalf("got %+v, want error code %d", resp.Error, CodeParseError)
	}
}

func TestGetBlockCount(t *testing.T) {
	s := testServer(t)
	raw := s.Dispatch([]byte(`{"jsonrpc":"2.0","method":"getblockcount","id":1}`))
	resp := decodeResponse(t, raw)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.Result != float64(0) {
		t.Fatalf("result = %v, want 0", resp.Result)
	}
}

func TestValidateProphecyAcceptsCanonical(t *testing.T) {
	s := testServer(t)
	params, err := json.Marshal(map[string]string{"prophecy": consensus.CanonicalProphecy})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	raw := s.Dispatch([]byte(`{"jsonrpc":"2.0","method":"validateprophecy","params":` + string(params) + `,"id":1}`))
	resp := decodeResponse(t, raw)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result has unexpected shape: %+v", resp.Result)
	}
	if valid, _ := result["valid"].(bool); !valid {
		t.Fatalf("valid = %v, want true", result["valid"])
	}
}

func TestValidateProphecyRejectsNonCanonical(t *testing.T) {
	s := testServer(t)
	nonCanonical := strings.Repeat("sword ", 12) + "sword"
	params, err := json.Marshal(map[string]string{"prophecy": nonCanonical})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	raw := s.Dispatch([]byte(`{"jsonrpc":"2.0","method":"validateprophecy","params":` + string(params) + `,"id":1}`))
	resp := decodeResponse(t, raw)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result has unexpected shape: %+v", resp.Result)
	}
	if valid, _ := result["valid"].(bool); valid {
		t.Fatal("valid = true for a non-canonical prophecy")
	}
}

func TestGetDifficulty(t *testing.T) {
	s := testServer(t)
	raw := s.Dispatch([]byte(`{"jsonrpc":"2.0","method":"getdifficulty","id":1}`))
	resp := decodeResponse(t, raw)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.Result != float64(0) {
		t.Fatalf("result = %v, want 0 (regtest initial difficulty)", resp.Result)
	}
}
