// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command excd is the Excalibur Proof-of-Forge daemon: it validates
// forges and blocks against the PoF consensus rules, stores the chain,
// gossips with peers, and answers JSON-RPC requests (spec.md §1).
package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/excalibur-exs/excd/chaincfg"
	"github.com/excalibur-exs/excd/pof"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, parser, err := loadConfig()
	if err != nil {
		return err
	}

	netParams, err := selectNetParams(cfg.Network)
	if err != nil {
		return err
	}
	activeNetParams = netParams

	if err := initLogRotator(fmt.Sprintf("%s/%s", cfg.LogDir, defaultLogFilename)); err != nil {
		return err
	}
	setLogLevels(cfg.DebugLevel)

	if parser.Active == nil {
		return fmt.Errorf("expected a subcommand: start or forge")
	}

	switch parser.Active.Name {
	case "start":
		return runStart(cfg, netParams)
	case "forge":
		return runForge(cfg, netParams)
	default:
		return fmt.Errorf("unknown subcommand %q", parser.Active.Name)
	}
}

// runStart launches the daemon and blocks until an OS signal requests
// shutdown (spec.md §6 CLI surface).
func runStart(cfg *config, netParams *chaincfg.Params) error {
	port := cfg.Start.Port
	if port == 0 {
		parsed, err := strconv.ParseUint(netParams.DefaultPort, 10, 16)
		if err != nil {
			return fmt.Errorf("invalid default port for network %s: %w", netParams.Name, err)
		}
		port = uint16(parsed)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen for gossip peers: %w", err)
	}

	node, err := NewNode(netParams, cfg.DataDir, fmt.Sprintf(":%d", port+1), []net.Listener{listener})
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- node.Run() }()

	select {
	case sig := <-sigCh:
		log.Infof("received signal %v, shutting down", sig)
		node.Shutdown()
		return nil
	case err := <-errCh:
		node.Shutdown()
		return err
	}
}

// runForge runs the Proof-of-Forge pipeline once and prints its result
// (spec.md §6 CLI surface).
func runForge(cfg *config, netParams *chaincfg.Params) error {
	prophecy := cfg.Forge.Prophecy
	if prophecy == "" {
		prophecy = strings.Join(pof.CanonicalProphecy[:], " ")
	}

	result, err := pof.Derive(strings.Split(prophecy, " "), nil, netParams.BtcParams)
	if err != nil {
		return fmt.Errorf("derivation failed: %w", err)
	}

	fmt.Printf("prophecy_hash:   %s\n", hex.EncodeToString(result.ProphecyHash[:8]))
	fmt.Printf("tetra_hash:      %s\n", hex.EncodeToString(result.TetraHash[:8]))
	fmt.Printf("tempered_key:    %s\n", hex.EncodeToString(result.TemperedKey[:8]))
	fmt.Printf("final_seed:      %s\n", hex.EncodeToString(result.FinalSeed[:8]))
	proofHash := result.ProofHash()
	fmt.Printf("proof_hash:      %s\n", hex.EncodeToString(proofHash[:8]))
	fmt.Printf("taproot_address: %s\n", result.TaprootAddress)
	return nil
}
