package wire

import (
	"errors"
	"fmt"
)

// Code enumerates the shared client/server error taxonomy. Codes are part
// of the wire format: the binary response envelope serializes them as a
// 32-bit value, the JSON encoding as the "code" field of an error object.
type Code uint32

const (
	CodeClose Code = iota + 1
	CodeTimeout
	CodeNotConnected
	CodeNotFound
	CodeReqDeserialize
	CodeRespDeserialize
	CodeRespSerialize
	CodeNotificationDeserialize
	CodePoison
	CodeConnectionTimeout
	CodeHeaderTooShort
	CodeMalformedHeader
	CodeMalformedMessage
	CodeUnknownOperation
	CodeInternal
)

var codeText = map[Code]string{
	CodeClose:                   "connection is closed",
	CodeTimeout:                 "call timed out",
	CodeNotConnected:            "not connected",
	CodeNotFound:                "operation not found",
	CodeReqDeserialize:          "request deserialization error",
	CodeRespDeserialize:         "response deserialization error",
	CodeRespSerialize:           "response serialization error",
	CodeNotificationDeserialize: "notification deserialization error",
	CodePoison:                  "internal state inconsistency",
	CodeConnectionTimeout:       "connection timed out",
	CodeHeaderTooShort:          "header too short",
	CodeMalformedHeader:         "malformed header",
	CodeMalformedMessage:        "malformed message",
	CodeUnknownOperation:        "unknown operation",
	CodeInternal:                "internal error",
}

// Error is the transportable RPC error. Two Errors match under errors.Is
// when their codes are equal, so sentinel values below can be used as
// targets regardless of the attached text.
type Error struct {
	Code Code
	Text string
}

func (e *Error) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("%s: %s", codeText[e.Code], e.Text)
	}
	if s, ok := codeText[e.Code]; ok {
		return s
	}
	return fmt.Sprintf("rpc error code %d", uint32(e.Code))
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Errorf builds an *Error with the given code and formatted detail text.
func Errorf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Text: fmt.Sprintf(format, args...)}
}

var (
	ErrClose                   = &Error{Code: CodeClose}
	ErrTimeout                 = &Error{Code: CodeTimeout}
	ErrNotConnected            = &Error{Code: CodeNotConnected}
	ErrNotFound                = &Error{Code: CodeNotFound}
	ErrReqDeserialize          = &Error{Code: CodeReqDeserialize}
	ErrRespDeserialize         = &Error{Code: CodeRespDeserialize}
	ErrRespSerialize           = &Error{Code: CodeRespSerialize}
	ErrNotificationDeserialize = &Error{Code: CodeNotificationDeserialize}
	ErrPoison                  = &Error{Code: CodePoison}
	ErrConnectionTimeout       = &Error{Code: CodeConnectionTimeout}
	ErrHeaderTooShort          = &Error{Code: CodeHeaderTooShort}
	ErrMalformedHeader         = &Error{Code: CodeMalformedHeader}
	ErrMalformedMessage        = &Error{Code: CodeMalformedMessage}
	ErrUnknownOperation        = &Error{Code: CodeUnknownOperation}
)

// AsError coerces err into an *Error, wrapping non-wire errors under the
// given fallback code. Used when a handler returns an arbitrary error that
// must travel as a response payload.
func AsError(err error, fallback Code) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: fallback, Text: err.Error()}
}
