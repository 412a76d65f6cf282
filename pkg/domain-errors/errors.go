// Package domainerrors carries the error taxonomy shared by services,
// stores, and transports. Errors are classified by machine-readable codes so
// callers branch on HasCode instead of string matching.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error.
type Code string

const (
	// CodeAlreadyExists reports duplicate creation of an identity or community.
	CodeAlreadyExists Code = "already_exists"
	// CodeNotFound reports an absent identity, address link, or member.
	CodeNotFound Code = "not_found"
	// CodeConflict reports an address pair already owned by another identity.
	CodeConflict Code = "conflict"
	// CodeInvariantViolation reports an attempt to break a structural
	// invariant, such as unlinking the creator's own address or revoking the
	// creator's authority.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeUnauthorized reports a caller without approval, or an inbound
	// sender that does not match the trusted sender for its source domain.
	CodeUnauthorized Code = "unauthorized"
	// CodeStaleUpdate reports a replicated mutation whose timestamp does not
	// exceed the last applied one for its identity.
	CodeStaleUpdate Code = "stale_update"
	// CodeInvalidFunction reports an inbound function id with no dispatch
	// table binding. Fatal to the whole message.
	CodeInvalidFunction Code = "invalid_function"

	CodeValidation Code = "validation"
	CodeBadRequest Code = "bad_request"
	CodeInternal   Code = "internal"
)

// Error is a coded error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.Err
		de = nil
	}
	return false
}

// CodeOf returns the outermost code in the chain, or CodeInternal if the
// error carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code onto the HTTP status the transport layer should
// respond with.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeAlreadyExists, CodeConflict, CodeStaleUpdate:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvariantViolation, CodeValidation, CodeBadRequest, CodeInvalidFunction:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
