package server

import (
	"errors"
	"fmt"

	"github.com/npezzotti/go-chat-realtime/internal/database"
)

type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindNotFound
	KindAuthorization
	KindConflict
	KindStore
	KindUnavailable
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindStore:
		return "store"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Wire error codes.
const (
	CodeMissingData          = "MISSING_DATA"
	CodeInvalidStatus        = "INVALID_STATUS"
	CodeInvalidData          = "INVALID_DATA"
	CodeInvalidMessage       = "INVALID_MESSAGE"
	CodeUnknownEvent         = "UNKNOWN_EVENT"
	CodeMessageNotFound      = "MESSAGE_NOT_FOUND"
	CodeConversationNotFound = "CONVERSATION_NOT_FOUND"
	CodeMemberNotFound       = "MEMBER_NOT_FOUND"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeNotAMember           = "NOT_A_MEMBER"
	CodeUnauthenticated      = "UNAUTHENTICATED"
	CodeAlreadyRevoked       = "ALREADY_REVOKED"
	CodeAlreadyDeleted       = "ALREADY_DELETED"
	CodeMemberExists         = "MEMBER_EXISTS"
	CodeTimeLimitExceeded    = "TIME_LIMIT_EXCEEDED"
	CodeServerError          = "SERVER_ERROR"
	CodeInternalError        = "INTERNAL_ERROR"
	CodeRateLimited          = "RATE_LIMITED"
	CodeServiceUnavailable   = "SERVICE_UNAVAILABLE"
)

// EventError is the single failure type returned by event handlers. Only
// the router turns it into a wire-level error event.
type EventError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *EventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}
	return e.Message
}

func (e *EventError) Unwrap() error {
	return e.Err
}

func ValidationError(code, message string) *EventError {
	return &EventError{Kind: KindValidation, Code: code, Message: message}
}

func missingData(fields ...string) *EventError {
	msg := "missing required data"
	if len(fields) > 0 {
		msg = fmt.Sprintf("missing required data: %v", fields)
	}
	return ValidationError(CodeMissingData, msg)
}

func NotFoundError(code, message string) *EventError {
	return &EventError{Kind: KindNotFound, Code: code, Message: message}
}

func AuthorizationError(code, message string) *EventError {
	return &EventError{Kind: KindAuthorization, Code: code, Message: message}
}

func ConflictError(code, message string) *EventError {
	return &EventError{Kind: KindConflict, Code: code, Message: message}
}

func StoreError(err error) *EventError {
	return &EventError{Kind: KindStore, Code: CodeServerError, Message: "server error", Err: err}
}

func UnavailableError(code, message string) *EventError {
	return &EventError{Kind: KindUnavailable, Code: code, Message: message}
}

func InternalError(err error) *EventError {
	return &EventError{Kind: KindInternal, Code: CodeInternalError, Message: "internal error", Err: err}
}

// lookupError classifies an error from a store lookup.
func lookupError(err error, code, message string) *EventError {
	if errors.Is(err, database.ErrNotFound) {
		return NotFoundError(code, message)
	}
	return StoreError(err)
}

// AsEventError extracts an *EventError from err, wrapping anything else as a
// store failure.
func AsEventError(err error) *EventError {
	if err == nil {
		return nil
	}
	var evErr *EventError
	if errors.As(err, &evErr) {
		return evErr
	}
	return StoreError(err)
}
