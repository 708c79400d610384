package bugzilla

import (
	"errors"
	"fmt"
)

// Fault codes reported by Bugzilla for unknown bugs.
const (
	FaultInvalidBugAlias = 100
	FaultBugNotFound     = 101
)

// ErrBugNotFound is returned when a bug id does not exist.
var ErrBugNotFound = errors.New("bug not found")

// ProtocolError reports a transport failure: the request could not be sent,
// the server answered with a non-2xx status, or the body was not valid XML-RPC.
type ProtocolError struct {
	Method     string
	StatusCode int
	Err        error
}

func (e *ProtocolError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("bugzilla %s: HTTP %d: %v", e.Method, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("bugzilla %s: %v", e.Method, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// RemoteError is an XML-RPC fault returned by Bugzilla.
type RemoteError struct {
	Method  string
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bugzilla %s returned fault %d: %s", e.Method, e.Code, e.Message)
}

// Is makes errors.Is(err, ErrBugNotFound) hold for not-found faults.
func (e *RemoteError) Is(target error) bool {
	return target == ErrBugNotFound && (e.Code == FaultBugNotFound || e.Code == FaultInvalidBugAlias)
}

// InvalidTransitionError reports an action that cannot be applied. It is
// raised before anything is committed.
type InvalidTransitionError struct {
	Action string
	Value  string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s=%s: %s", e.Action, e.Value, e.Reason)
}
