// SPDX-FileCopyrightText: 2021 The Go Language Server Authors
// SPDX-License-Identifier: BSD-3-Clause

package reflectrpc

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Kind is the on-wire "name" of a reflectrpc error object.
type Kind string

// The closed set of error kinds a reply's error object may carry.
const (
	// KindInvalidRequest marks a malformed envelope: bad JSON, missing or
	// ill-typed id/method/params, or an unknown method.
	KindInvalidRequest Kind = "InvalidRequest"

	// KindParamError is a subclass of InvalidRequest raised when the
	// supplied parameter count does not match the function signature.
	KindParamError Kind = "ParamError"

	// KindTypeError is a subclass of InvalidRequest raised when a
	// parameter value does not match its declared type.
	KindTypeError Kind = "TypeError"

	// KindInternalError marks an unexpected handler failure that has been
	// demoted to a safe, detail-free message.
	KindInternalError Kind = "InternalError"

	// KindJSONRPCError is the generic kind for a handler-raised domain
	// error that does not declare its own kind.
	KindJSONRPCError Kind = "JsonRpcError"
)

// Error is the wire shape of a reflectrpc error object, and also
// implements the Go error interface so handlers can return it directly.
type Error struct {
	Name    Kind   `json:"name"`
	Message string `json:"message"`

	frame xerrors.Frame
	err   error
}

var _ error = (*Error)(nil)

// Error implements error.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Format implements fmt.Formatter so that %+v on an Error prints the
// allocation site without ever putting that detail on the wire.
func (e *Error) Format(s fmt.State, c rune) {
	xerrors.FormatError(e, s, c)
}

// FormatError implements xerrors.Formatter.
func (e *Error) FormatError(p xerrors.Printer) (next error) {
	p.Printf("%s: %s", e.Name, e.Message)
	e.frame.Format(p)
	return e.err
}

// Unwrap implements xerrors.Wrapper.
func (e *Error) Unwrap() error {
	return e.err
}

// NewError builds an Error of the given kind with the given message.
func NewError(kind Kind, message string) *Error {
	return &Error{Name: kind, Message: message, frame: xerrors.Caller(1)}
}

// Errorf builds an Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Name: kind, Message: fmt.Sprintf(format, args...), frame: xerrors.Caller(1)}
}

// WrapInternal wraps an arbitrary error as an internal error for logging,
// keeping the cause available via Unwrap while the wire message stays the
// fixed, detail-free "Internal error".
func WrapInternal(cause error) *Error {
	return &Error{Name: KindInternalError, Message: "Internal error", frame: xerrors.Caller(1), err: cause}
}

// DomainError builds a generic handler-raised error with kind JsonRpcError.
// Handlers that want a distinguishable kind should use NewError/Errorf with
// their own Kind instead.
func DomainError(message string) *Error {
	return NewError(KindJSONRPCError, message)
}

// invalidRequestf builds a base InvalidRequest error.
func invalidRequestf(format string, args ...interface{}) *Error {
	return Errorf(KindInvalidRequest, format, args...)
}

// paramErrorf builds a ParamError, a subclass of InvalidRequest that still
// reports its own specific kind on the wire.
func paramErrorf(format string, args ...interface{}) *Error {
	return Errorf(KindParamError, format, args...)
}

// typeErrorf builds a TypeError, a subclass of InvalidRequest that still
// reports its own specific kind on the wire.
func typeErrorf(format string, args ...interface{}) *Error {
	return Errorf(KindTypeError, format, args...)
}
