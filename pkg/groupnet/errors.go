package groupnet

import "github.com/pkg/errors"

// Result codes reported by CodeOf.
const (
	CodeOK            int32 = 0
	CodeFail          int32 = -1
	CodeBufferAcquire int32 = -2
	CodeBufferReturn  int32 = -3
	CodeSizeExceeded  int32 = -4
	CodePeer          int32 = -5
)

// Error is an error with a result code.
type Error struct {
	Code    int32
	Message string
}

// Error implements error.
func (e *Error) Error() string {
	return e.Message
}

var (
	// ErrFail is the generic failure, e.g. of Init.
	ErrFail = &Error{Code: CodeFail, Message: "fail"}
	// ErrNotReady indicates the node is not initialized.
	ErrNotReady = &Error{Code: CodeFail, Message: "not ready"}
	// ErrBufferAcquire indicates no ring space or no item within the wait.
	ErrBufferAcquire = &Error{Code: CodeBufferAcquire, Message: "buffer acquire fail"}
	// ErrBufferReturn indicates an acquired ring slot couldn't be committed.
	ErrBufferReturn = &Error{Code: CodeBufferReturn, Message: "buffer return fail"}
	// ErrSizeExceeded indicates a payload larger than the maximum, or a
	// malformed item in the receive ring.
	ErrSizeExceeded = &Error{Code: CodeSizeExceeded, Message: "size exceeded"}
	// ErrPeer indicates a peer directory operation failed.
	ErrPeer = &Error{Code: CodePeer, Message: "peer error"}
)

// CodeOf returns the result code of err, CodeOK for nil.
func CodeOf(err error) int32 {
	if err == nil {
		return CodeOK
	}
	if e, ok := errors.Cause(err).(*Error); ok {
		return e.Code
	}
	return CodeFail
}
