package disk

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies an Error. Codes are stable and safe to expose to clients.
type Code string

const (
	CodeInternal           Code = "INTERNAL"
	CodeNodeNotFound       Code = "NODE_NOT_FOUND"
	CodeDirectoryNotFound  Code = "DIRECTORY_NOT_FOUND"
	CodeQuotaExceeded      Code = "QUOTA_EXCEEDED"
	CodeShareNotFound      Code = "SHARE_NOT_FOUND"
	CodeShareRevoked       Code = "SHARE_REVOKED"
	CodeSelfShareRejected  Code = "SELF_SHARE_REJECTED"
	CodeTransferError      Code = "TRANSFER_ERROR"
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"
	CodeAccountNotFound    Code = "ACCOUNT_NOT_FOUND"
)

// Error is the error type returned by every operation of this package.
type Error struct {
	// Op is the operation being performed, e.g. "tree.DeleteNodes".
	Op   string
	Code Code
	Msg  string
	// Err is the underlying cause, if any.
	Err error

	// Set for CodeQuotaExceeded only.
	Requested int64
	Available int64
}

var (
	ErrNodeNotFound       = &Error{Code: CodeNodeNotFound}
	ErrDirectoryNotFound  = &Error{Code: CodeDirectoryNotFound}
	ErrQuotaExceeded      = &Error{Code: CodeQuotaExceeded}
	ErrShareNotFound      = &Error{Code: CodeShareNotFound}
	ErrShareRevoked       = &Error{Code: CodeShareRevoked}
	ErrSelfShareRejected  = &Error{Code: CodeSelfShareRejected}
	ErrTransfer           = &Error{Code: CodeTransferError}
	ErrInvariantViolation = &Error{Code: CodeInvariantViolation}
	ErrAccountNotFound    = &Error{Code: CodeAccountNotFound}
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else {
		b.WriteString(strings.ToLower(strings.ReplaceAll(string(e.Code), "_", " ")))
	}
	if e.Code == CodeQuotaExceeded && e.Requested > 0 {
		fmt.Fprintf(&b, " (requested %d bytes, available %d, short by %d)", e.Requested, e.Available, e.Shortfall())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code, so the package sentinels work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Shortfall is the number of bytes missing for a quota reservation to succeed.
func (e *Error) Shortfall() int64 {
	if e.Requested <= e.Available {
		return 0
	}
	return e.Requested - e.Available
}

func newError(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

func wrapError(op string, code Code, msg string, err error) *Error {
	return &Error{Op: op, Code: code, Msg: msg, Err: err}
}

func quotaExceeded(op string, requested, available int64) *Error {
	return &Error{
		Op:        op,
		Code:      CodeQuotaExceeded,
		Msg:       "storage quota exceeded",
		Requested: requested,
		Available: available,
	}
}

func invariantViolation(op, format string, args ...interface{}) *Error {
	return &Error{Op: op, Code: CodeInvariantViolation, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
