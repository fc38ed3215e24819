// Package v1 implements the wire codec: ZooKeeper-compatible request and
// response frames, the internal Raft log entry encoding, and the on-disk
// snapshot record encoding. Every other package treats these bytes as
// opaque and goes through this package to produce or consume them.
package v1

import "fmt"

// ErrorCode is the ZooKeeper canonical error set (§6.1).
type ErrorCode int32

const (
	ErrOK                      ErrorCode = 0
	ErrSystemError             ErrorCode = -1
	ErrRuntimeInconsistency    ErrorCode = -2
	ErrConnectionLoss          ErrorCode = -4
	ErrMarshallingError        ErrorCode = -5
	ErrUnimplemented           ErrorCode = -6
	ErrOperationTimeout        ErrorCode = -7
	ErrBadArguments            ErrorCode = -8
	ErrNoNode                  ErrorCode = -101
	ErrNoAuth                  ErrorCode = -102
	ErrBadVersion              ErrorCode = -103
	ErrNoChildrenForEphemerals ErrorCode = -108
	ErrNodeExists              ErrorCode = -110
	ErrNotEmpty                ErrorCode = -111
	ErrSessionExpired          ErrorCode = -112
	ErrInvalidACL              ErrorCode = -114
	ErrAuthFailed              ErrorCode = -115
)

var codeNames = map[ErrorCode]string{
	ErrOK:                      "OK",
	ErrSystemError:             "SYSTEMERROR",
	ErrRuntimeInconsistency:    "RUNTIMEINCONSISTENCY",
	ErrConnectionLoss:          "CONNECTIONLOSS",
	ErrMarshallingError:        "MARSHALLINGERROR",
	ErrUnimplemented:           "UNIMPLEMENTED",
	ErrOperationTimeout:        "OPERATIONTIMEOUT",
	ErrBadArguments:            "BADARGUMENTS",
	ErrNoNode:                  "NONODE",
	ErrNoAuth:                  "NOAUTH",
	ErrBadVersion:              "BADVERSION",
	ErrNoChildrenForEphemerals: "NOCHILDRENFOREPHEMERALS",
	ErrNodeExists:              "NODEEXISTS",
	ErrNotEmpty:                "NOTEMPTY",
	ErrSessionExpired:          "SESSIONEXPIRED",
	ErrInvalidACL:              "INVALIDACL",
	ErrAuthFailed:              "AUTHFAILED",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ErrorCode(%d)", int32(c))
}

// Error is the typed precondition/protocol error every apply path returns
// in place of an exception. A nil *Error (or a plain nil error) means OK.
type Error struct {
	Code ErrorCode
}

func (e *Error) Error() string {
	return e.Code.String()
}

// NewError wraps code as an error, or returns nil for ErrOK so callers can
// write `return NewError(code)` uniformly.
func NewError(code ErrorCode) error {
	if code == ErrOK {
		return nil
	}
	return &Error{Code: code}
}

// CodeOf extracts the ErrorCode carried by err, defaulting to
// ErrSystemError for errors not produced by this package.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrOK
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ErrSystemError
}
