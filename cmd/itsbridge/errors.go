package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/steveyegge/itsbridge/internal/bugzilla"
	"github.com/steveyegge/itsbridge/internal/conduit"
	"github.com/steveyegge/itsbridge/internal/tracker"
)

// exitError carries a non-default exit code, e.g. for a failed check.
// A silent exitError has already been reported on stdout.
type exitError struct {
	code   int
	silent bool
	err    error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// errorCode classifies err for JSON error output.
func errorCode(err error) string {
	var (
		parseErr      *tracker.ParseError
		actionErr     *tracker.InvalidActionError
		transitionErr *bugzilla.InvalidTransitionError
		projectErr    *conduit.InvalidProjectError
		notInit       *tracker.ErrNotInitialized
		transportErr  *tracker.TransportError
	)
	switch {
	case errors.As(err, &parseErr):
		return "invalid_issue_id"
	case errors.As(err, &actionErr), errors.As(err, &transitionErr), errors.As(err, &projectErr):
		return "invalid_action"
	case errors.Is(err, bugzilla.ErrBugNotFound):
		return "not_found"
	case errors.As(err, &notInit):
		return "not_initialized"
	case errors.As(err, &transportErr):
		return "transport"
	default:
		return ""
	}
}

// reportError writes err to stderr: "Error: ..." or, with --json, an object
// with "error" and an optional "code".
func (a *app) reportError(err error) {
	if !a.jsonOutput {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return
	}
	errObj := map[string]string{"error": err.Error()}
	if code := errorCode(err); code != "" {
		errObj["code"] = code
	}
	encoder := json.NewEncoder(a.stderr)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(errObj) // Best effort: nothing else to report to
}
