package domain

import (
	"errors"
	"fmt"
)

// Code identifies a class of ladder failure. Codes are stable and safe to show to users.
type Code string

const (
	CodeInvalidCategory   Code = "invalid_category"
	CodeAlreadyRegistered Code = "already_registered"
	CodeNotRegistered     Code = "not_registered"
	CodeNoSuchRecord      Code = "no_such_record"
	CodeAlreadyBanned     Code = "already_banned"
	CodeNotBanned         Code = "not_banned"
	CodeBanned            Code = "banned"
	CodeSelfChallenge     Code = "self_challenge"
	CodePermissionDenied  Code = "permission_denied"
	CodeInvalidState      Code = "invalid_state"
	CodeNoData            Code = "no_data"
	CodeNoFields          Code = "no_fields"
	CodeNotFound          Code = "not_found"
	CodeInvalidArgument   Code = "invalid_argument"
	CodeStorageFailure    Code = "storage_failure"
)

// Error is the typed failure returned by every ladder operation.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so errors.Is(err, ErrBanned) works
// regardless of the message attached.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidCategory   = &Error{Code: CodeInvalidCategory, Message: "invalid category"}
	ErrAlreadyRegistered = &Error{Code: CodeAlreadyRegistered, Message: "player already registered"}
	ErrNotRegistered     = &Error{Code: CodeNotRegistered, Message: "player not registered"}
	ErrNoSuchRecord      = &Error{Code: CodeNoSuchRecord, Message: "no stats for player in category"}
	ErrAlreadyBanned     = &Error{Code: CodeAlreadyBanned, Message: "player already banned"}
	ErrNotBanned         = &Error{Code: CodeNotBanned, Message: "player not banned"}
	ErrBanned            = &Error{Code: CodeBanned, Message: "player is banned"}
	ErrSelfChallenge     = &Error{Code: CodeSelfChallenge, Message: "cannot play against yourself"}
	ErrPermissionDenied  = &Error{Code: CodePermissionDenied, Message: "permission denied"}
	ErrInvalidState      = &Error{Code: CodeInvalidState, Message: "invalid duel state"}
	ErrNoData            = &Error{Code: CodeNoData, Message: "no stats yet"}
	ErrNoFields          = &Error{Code: CodeNoFields, Message: "no stats provided to update"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidArgument   = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrStorageFailure    = &Error{Code: CodeStorageFailure, Message: "storage failure"}
)

// Errorf builds an *Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Storage wraps a driver or I/O error as a StorageFailure. Typed errors pass through.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Code: CodeStorageFailure, Message: op, Err: err}
}

// CodeOf reports the code of err. Untyped errors count as storage failures.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeStorageFailure
}
