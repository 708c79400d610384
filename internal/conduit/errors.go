package conduit

import "fmt"

// ErrCodeBadTask is the error code Phabricator returns for an unknown task id.
const ErrCodeBadTask = "ERR_BAD_TASK"

// ProtocolError reports a failure to complete a call: the request could not
// be sent, the server answered with a non-2xx status, or the body was not a
// valid envelope.
type ProtocolError struct {
	Method     string
	StatusCode int
	Err        error
}

func (e *ProtocolError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("conduit %s: HTTP %d: %v", e.Method, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("conduit %s: %v", e.Method, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// RemoteError is an error envelope returned by Phabricator.
type RemoteError struct {
	Method string
	Code   string
	Info   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("conduit %s returned %s: %s", e.Method, e.Code, e.Info)
}

// InvalidProjectError reports a project name with no exact match. It is
// raised before any edit is submitted.
type InvalidProjectError struct {
	Name string
}

func (e *InvalidProjectError) Error() string {
	return fmt.Sprintf("no phabricator project named %q", e.Name)
}
