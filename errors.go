package mcplink

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel values classifying why a ConnectionError occurred. Match them with
// errors.Is.
var (
	// ErrMalformedResponse indicates the server produced a payload that is not
	// valid JSON.
	ErrMalformedResponse = errors.New("malformed response payload")

	// ErrNonObjectResponse indicates the server produced valid JSON that is not
	// a JSON object.
	ErrNonObjectResponse = errors.New("response payload is not an object")

	// ErrMissingResult indicates a well-formed response envelope carrying
	// neither a result nor an error field.
	ErrMissingResult = errors.New("response carries neither result nor error")

	// ErrIDMismatch indicates a response whose id does not match the pending
	// request. The connection is considered corrupted.
	ErrIDMismatch = errors.New("response id does not match pending request")

	// ErrCallTimeout indicates no response arrived within the configured
	// request timeout. The connection stays usable for later calls.
	ErrCallTimeout = errors.New("timed out waiting for response")

	// ErrStreamClosed indicates the server closed its output stream or the
	// process exited while a call was in flight.
	ErrStreamClosed = errors.New("server closed the stream")
)

var errDuplicateServer = errors.New("a server with this name is already connected")

// TransportNotSupportedError is returned when a server descriptor requests a
// transport this package does not implement. No process is spawned in that
// case.
type TransportNotSupportedError struct {
	Server    string
	Transport string
}

func (e *TransportNotSupportedError) Error() string {
	return fmt.Sprintf("server %s: transport %q is not supported, only %q is", e.Server, e.Transport, TransportStdio)
}

// ConnectionError reports a failure of the connection itself: a spawn or
// handshake failure, an undecodable or mismatched response, or an unexpected
// process exit. Kind, when set, is one of the sentinel values above; WantID and
// GotID are populated for ErrIDMismatch.
type ConnectionError struct {
	Server string
	Kind   error
	WantID int64
	GotID  int64
	Err    error
}

func (e *ConnectionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "server %s: connection error", e.Server)
	if e.Kind != nil {
		fmt.Fprintf(&b, ": %v", e.Kind)
	}
	if errors.Is(e.Kind, ErrIDMismatch) {
		fmt.Fprintf(&b, " (want %d, got %d)", e.WantID, e.GotID)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ConnectionError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NotConnectedError is returned when an operation requires a Ready connection
// and the named server is unknown or in any other state.
type NotConnectedError struct {
	Server string
	State  ConnState
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("server %s is not connected (state %s)", e.Server, e.State)
}

// ToolNotFoundError is returned when a tool name resolves against no connected
// server. Known lists every tool name across all connections so the caller can
// diagnose the miss without further lookups.
type ToolNotFoundError struct {
	Tool  string
	Known []string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found; known tools: [%s]", e.Tool, strings.Join(e.Known, ", "))
}

// ToolExecutionError is returned when the server ran the call but reported
// failure through the protocol's error envelope.
type ToolExecutionError struct {
	Tool    string
	Server  string
	Message string
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q on server %s failed: %s", e.Tool, e.Server, e.Message)
}

// InvalidToolError is returned by the adapter when a tool descriptor or an
// invocation payload is missing a required field.
type InvalidToolError struct {
	Field string
}

func (e *InvalidToolError) Error() string {
	return fmt.Sprintf("invalid tool payload: missing %s", e.Field)
}
