package main

import (
	"encoding/json"
	"fmt"

	"github.com/steveyegge/itsbridge/internal/debug"
)

// outputJSON writes v as pretty-printed JSON to stdout.
func (a *app) outputJSON(v interface{}) error {
	encoder := json.NewEncoder(a.stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	return nil
}

// printNormal writes informational output unless --quiet is set.
func (a *app) printNormal(format string, args ...interface{}) {
	if !debug.IsQuiet() {
		fmt.Fprintf(a.stdout, format, args...)
	}
}
