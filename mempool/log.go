// Copyright (c) 2024 The Excalibur developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import "github.com/decred/slog"

// log is the package-level logger, a no-op until UseLogger is called.
var log = slog.Disabled

// UseLogger sets the package-level logger used by this package. By
// default the package only performs logging via log and doesn't care
// what happens to the logs, so it's primarily intended for use by the
// main package to modify the default logging behavior.
func UseLogger(logger slog.Logger) {
	log = logger
}
