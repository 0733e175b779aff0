package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-chat-realtime/internal/server"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(statusCode int) *ApiError {
	return &ApiError{
		StatusCode: statusCode,
		Message:    lower(http.StatusText(statusCode)),
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound)
}

func NewInternalServerError(err error) *ApiError {
	e := newApiError(http.StatusInternalServerError)
	e.Err = err
	return e
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized)
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden)
}

func NewServiceUnavailableError() *ApiError {
	return newApiError(http.StatusServiceUnavailable)
}

// NewEventError translates a chat server failure into an HTTP error.
func NewEventError(err error) *ApiError {
	evErr := server.AsEventError(err)

	status := http.StatusInternalServerError
	switch evErr.Kind {
	case server.KindValidation:
		status = http.StatusBadRequest
	case server.KindNotFound:
		status = http.StatusNotFound
	case server.KindAuthorization:
		status = http.StatusForbidden
	case server.KindConflict:
		status = http.StatusConflict
	case server.KindUnavailable:
		status = http.StatusServiceUnavailable
	}

	return &ApiError{
		StatusCode: status,
		Message:    evErr.Message,
		Code:       evErr.Code,
		Err:        evErr.Err,
	}
}
