// Copyright (c) 2024 The Excalibur developers
// Copyright (c) 2014 The btcsuite developers
// Copyright (c) 2015-2021 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chaincfg defines the network parameters for the three
// Excalibur Proof-of-Forge networks: mainnet, testnet, and regtest.
//
// For main packages, a (typically global) var may be assigned the
// address of one of the standard Params vars for use as the
// application's "active" network; see the root package's params.go for
// the selection logic driven by --network.
package chaincfg

import (
	"github.com/btcsuite/btcd/chaincfg"
)

// Params groups the parameters that distinguish one Excalibur network
// from another.
type Params struct {
	// Name is the human-readable network name, e.g. "mainnet".
	Name string

	// DefaultPort is the default gossip listen port for this network.
	DefaultPort string

	// InitialDifficulty is the number of leading zero bytes a proof
	// hash must exhibit before any difficulty retarget has occurred.
	InitialDifficulty uint32

	// MinBlockTime is the minimum number of seconds the consensus
	// engine expects between blocks on this network (spec.md §4.4).
	MinBlockTime uint64

	// BtcParams is the underlying Bitcoin-compatible network parameter
	// set used to encode stage-5 P2WPKH addresses (spec.md §4.1 stage
	// 5, delegated to a Bitcoin-compatible library per spec.md §1).
	BtcParams *chaincfg.Params
}

// MainNetParams are the parameters for the main Excalibur network.
var MainNetParams = Params{
	Name:              "mainnet",
	DefaultPort:       "9108",
	InitialDifficulty: 2,
	MinBlockTime:      600,
	BtcParams:         &chaincfg.MainNetParams,
}

// TestNetParams are the parameters for the Excalibur test network.
var TestNetParams = Params{
	Name:              "testnet",
	DefaultPort:       "19108",
	InitialDifficulty: 1,
	MinBlockTime:      120,
	BtcParams:         &chaincfg.TestNet3Params,
}

// RegNetParams are the parameters for the Excalibur regression test
// network, used for local development and automated tests. Difficulty
// is zero so any proof hash passes the difficulty check without
// requiring real proof-of-work search.
var RegNetParams = Params{
	Name:              "regtest",
	DefaultPort:       "19556",
	InitialDifficulty: 0,
	MinBlockTime:      1,
	BtcParams:         &chaincfg.RegressionNetParams,
}

// ByName returns the Params for the given network name ("mainnet",
// "testnet", or "regtest"), or false if name does not match a known
// network.
func ByName(name string) (*Params, bool) {
	switch name {
	case MainNetParams.Name:
		return &MainNetParams, true
	case TestNetParams.Name:
		return &TestNetParams, true
	case RegNetParams.Name:
		return &RegNetParams, true
	default:
		return nil, false
	}
}
