package tracker

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is returned when a tracker is used before Init is called.
type ErrNotInitialized struct {
	Tracker string
}

func (e *ErrNotInitialized) Error() string {
	return e.Tracker + " tracker not initialized; call Init() first"
}

// ErrMissingURL is returned by AddRelatedLink when no related URL is given.
// It is a client error; no network call is made.
var ErrMissingURL = errors.New("related url is required")

// ParseError reports an issue id supplied by the caller that is not numeric.
// It is a client error; no network call is made.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid issue id %q: must be numeric", e.Input)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// InvalidActionError reports an action string that is malformed or whose
// verb is not supported by the adapter.
type InvalidActionError struct {
	Action string
	Reason string
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("invalid action %q: %s", e.Action, e.Reason)
}

// TransportError is the I/O-style failure a facade surfaces to the host after
// the retry policy gave up. The cause stays reachable through Unwrap.
type TransportError struct {
	Tracker string
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Tracker, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AsTransportError wraps err in a TransportError unless it already is one.
func AsTransportError(tracker, op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Tracker: tracker, Op: op, Err: err}
}
