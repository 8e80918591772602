package toolworker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aishah914/smolpc-gimp/internal/jsonrpc"
)

var (
	// ErrConnectionClosed means the worker closed its output or exited.
	ErrConnectionClosed = errors.New("tool worker connection closed")
	// ErrLockPoisoned means an earlier call panicked while holding the worker.
	ErrLockPoisoned = errors.New("tool worker lock poisoned")
	// ErrTimeout is returned when a configured deadline expires mid-call.
	ErrTimeout = errors.New("tool worker call timed out")
	ErrClosed  = errors.New("tool worker manager closed")
)

// ProtocolError is re-exported so callers only need this package.
type ProtocolError = jsonrpc.ProtocolError

type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("failed to start tool worker %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	if e == nil {
		return ""
	}
	return "failed to write to tool worker: " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// InitializeError reports a rejected or broken handshake. Remote is set when the
// worker answered initialize with an error object.
type InitializeError struct {
	Remote *jsonrpc.Error
	Err    error
}

func (e *InitializeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Remote != nil {
		return "tool worker rejected initialize: " + e.Remote.Error()
	}
	return fmt.Sprintf("tool worker initialize failed: %v", e.Err)
}

func (e *InitializeError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.Remote != nil {
		return e.Remote
	}
	return e.Err
}

// RemoteError carries a JSON-RPC error object returned for one request. The
// connection stays usable afterwards.
type RemoteError struct {
	Method  string
	Payload jsonrpc.Error
}

func (e *RemoteError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Method)
	b.WriteString(": ")
	b.WriteString(e.Payload.Message)
	if len(e.Payload.Data) > 0 {
		b.WriteString(" ")
		b.Write(e.Payload.Data)
	}
	return b.String()
}
