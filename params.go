// Copyright (c) 2024 The Excalibur developers
// Copyright (c) 2018 The ExchangeCoin team
// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/excalibur-exs/excd/chaincfg"
)

// activeNetParams is a pointer to the parameters for the currently
// active Excalibur network, selected by --network (spec.md §6 CLI
// surface).
var activeNetParams = &chaincfg.MainNetParams

// selectNetParams resolves the --network flag value to one of the
// three standard Params, mirroring the teacher's mainNetParams /
// testNetParams / simNetParams selection in spirit.
func selectNetParams(network string) (*chaincfg.Params, error) {
	params, ok := chaincfg.ByName(network)
	if !ok {
		return nil, fmt.Errorf("unknown network %q (want mainnet, testnet, or regtest)", network)
	}
	return params, nil
}
