// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gossip

import "github.com/decred/slog"

// log is the package-level logger, a no-op until UseLogger is called.
var log = slog.Disabled

// UseLogger sets the package-level logger used by this package.
func UseLogger(logger slog.Logger) {
	log = logger
}
