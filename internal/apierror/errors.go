package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// ApiError is the JSON error body written by the relay and the error
// returned by clients for non-2xx responses and failed websocket handshakes.
type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
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

// Is matches the sentinel errors by status code so callers can write
// errors.Is(err, apierror.ErrUnauthorized) regardless of the message.
func (e *ApiError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}

	return false
}

// IsTerminal reports whether retrying the same request cannot succeed
// without user action.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound)
}

func lower(s string) string {
	return strings.ToLower(s)
}

func FromStatus(statusCode int) *ApiError {
	return &ApiError{
		StatusCode: statusCode,
		Message:    lower(http.StatusText(statusCode)),
	}
}

func NewBadRequestError() *ApiError {
	return FromStatus(http.StatusBadRequest)
}

func NewNotFoundError() *ApiError {
	return FromStatus(http.StatusNotFound)
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewUnauthorizedError() *ApiError {
	return FromStatus(http.StatusUnauthorized)
}

func NewForbiddenError() *ApiError {
	return FromStatus(http.StatusForbidden)
}

func NewMethodNotAllowedError() *ApiError {
	return FromStatus(http.StatusMethodNotAllowed)
}
