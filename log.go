// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"

	"github.com/excalibur-exs/excd/consensus"
	"github.com/excalibur-exs/excd/gossip"
	"github.com/excalibur-exs/excd/mempool"
	"github.com/excalibur-exs/excd/rpc"
	"github.com/excalibur-exs/excd/store"
)

// logRotator rotates the daemon's log file once opened in initLogRotator.
var logRotator *rotator.Rotator

// backendLog is the logging backend used to create all subsystem
// loggers. Writes fan out to both stdout and logRotator.
var backendLog = slog.NewBackend(logWriter{})

// subsystem loggers, one per component, matching the teacher's
// per-subsystem logger convention (one short tag each).
var (
	log     = backendLog.Logger("EXCD") // main
	anmrLog = backendLog.Logger("ANMR") // mempool
	cnssLog = backendLog.Logger("CNSS") // consensus
	chstLog = backendLog.Logger("CHST") // chain store
	rpcsLog = backendLog.Logger("RPCS") // rpc
	gsspLog = backendLog.Logger("GSSP") // gossip
)

func init() {
	mempool.UseLogger(anmrLog)
	consensus.UseLogger(cnssLog)
	store.UseLogger(chstLog)
	rpc.UseLogger(rpcsLog)
	gossip.UseLogger(gsspLog)
}

// logWriter implements io.Writer and writes to both standard output and
// the log rotator, matching the teacher's logWriter type.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

// initLogRotator initializes the logging rotator to write logs to
// logFile and rolls the log file every 10 MB with 3 files kept in
// addition to the active one, matching the teacher's logging setup.
func initLogRotator(logFile string) error {
	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}
	logRotator = r
	return nil
}

// setLogLevel sets the logging level for a specific subsystem. Invalid
// subsystems or levels are silently ignored.
func setLogLevel(subsystemID string, logLevel string) {
	level, ok := slog.LevelFromString(logLevel)
	if !ok {
		return
	}

	switch subsystemID {
	case "EXCD":
		log.SetLevel(level)
	case "ANMR":
		anmrLog.SetLevel(level)
	case "CNSS":
		cnssLog.SetLevel(level)
	case "CHST":
		chstLog.SetLevel(level)
	case "RPCS":
		rpcsLog.SetLevel(level)
	case "GSSP":
		gsspLog.SetLevel(level)
	}
}

// setLogLevels sets the logging level for every subsystem. Invalid
// levels are silently ignored.
func setLogLevels(logLevel string) {
	for subsystemID := range map[string]struct{}{
		"EXCD": {}, "ANMR": {}, "CNSS": {}, "CHST": {}, "RPCS": {}, "GSSP": {},
	} {
		setLogLevel(subsystemID, logLevel)
	}
}
