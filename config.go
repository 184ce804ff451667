// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "excd.conf"
	defaultLogFilename    = "excd.log"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
)

// defaultHomeDir is the default application data directory, mirroring
// the teacher's config.go convention of rooting everything under a
// single dotfile directory.
var defaultHomeDir = filepath.Join(homeDir(), ".excd")

// startCmd is the `start` subcommand's flags (spec.md §6 CLI surface).
type startCmd struct {
	Port uint16 `long:"port" description:"gossip listen port (defaults to the network's standard port)"`
}

// forgeCmd is the `forge` subcommand's flags (spec.md §6 CLI surface).
type forgeCmd struct {
	Prophecy string `long:"prophecy" description:"13-word prophecy to derive (defaults to the canonical axiom)"`
}

// config defines the top-level configuration parameters, parsed from
// both an ini-style config file and the command line via go-flags,
// exactly as the teacher's config.go does.
type config struct {
	HomeDir    string `short:"A" long:"appdata" description:"path to application home directory"`
	ConfigFile string `short:"C" long:"configfile" description:"path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"directory to store data"`
	LogDir     string `long:"logdir" description:"directory to log output"`
	Network    string `long:"network" description:"network to use {mainnet, testnet, regtest}" default:"mainnet"`
	DebugLevel string `long:"debuglevel" description:"logging level for all subsystems {trace, debug, info, warn, error, critical}" default:"info"`

	Start startCmd `command:"start" description:"launch the forge daemon"`
	Forge forgeCmd `command:"forge" description:"run the Proof-of-Forge pipeline once and print its result"`
}

// loadConfig parses the command line (and, if present, the default ini
// config file) into a config, applying defaults for any path not set
// explicitly. It returns the parsed config together with the go-flags
// parser, whose Active field names the chosen subcommand ("start" or
// "forge").
func loadConfig() (*config, *flags.Parser, error) {
	cfg := config{
		HomeDir:    defaultHomeDir,
		ConfigFile: filepath.Join(defaultHomeDir, defaultConfigFilename),
		DataDir:    filepath.Join(defaultHomeDir, defaultDataDirname),
		LogDir:     defaultHomeDir,
		Network:    "mainnet",
		DebugLevel: defaultLogLevel,
	}

	parser := flags.NewParser(&cfg, flags.Default)

	if _, err := os.Stat(cfg.ConfigFile); err == nil {
		if err := flags.NewIniParser(parser).ParseFile(cfg.ConfigFile); err != nil {
			return nil, parser, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if _, err := parser.Parse(); err != nil {
		return nil, parser, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, parser, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &cfg, parser, nil
}

// homeDir returns the user's home directory, or "." if it cannot be
// determined.
func homeDir() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return dir
}
