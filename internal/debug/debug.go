// Package debug holds the process-wide verbosity switches and sets up the
// structured slog logger used by the adapters.
package debug

import (
	"os"
	"sync/atomic"
)

var (
	enabled     = os.Getenv("ITSBRIDGE_DEBUG") != ""
	verboseMode atomic.Bool
	quietMode   atomic.Bool
)

// Enabled reports whether debug output is on (ITSBRIDGE_DEBUG or --verbose).
func Enabled() bool {
	return enabled || verboseMode.Load()
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode.Store(verbose)
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode.Store(quiet)
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode.Load()
}
