package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApiErrorIs(t *testing.T) {
	tcases := []struct {
		name     string
		err      error
		target   error
		expected bool
		terminal bool
	}{
		{
			name:     "unauthorized",
			err:      NewUnauthorizedError(),
			target:   ErrUnauthorized,
			expected: true,
			terminal: true,
		},
		{
			name:     "forbidden",
			err:      NewForbiddenError(),
			target:   ErrForbidden,
			expected: true,
			terminal: true,
		},
		{
			name:     "wrapped not found",
			err:      fmt.Errorf("get room: %w", NewNotFoundError()),
			target:   ErrNotFound,
			expected: true,
			terminal: true,
		},
		{
			name:     "internal error is not unauthorized",
			err:      NewInternalServerError(errors.New("boom")),
			target:   ErrUnauthorized,
			expected: false,
			terminal: false,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, errors.Is(tc.err, tc.target), "unexpected errors.Is result")
			assert.Equal(t, tc.terminal, IsTerminal(tc.err), "unexpected IsTerminal result")
		})
	}
}

func TestApiErrorError(t *testing.T) {
	err := NewInternalServerError(errors.New("db down"))
	assert.Equal(t, "internal server error: db down", err.Error())
	assert.Equal(t, "not found", NewNotFoundError().Error())
	assert.Equal(t, http.StatusMethodNotAllowed, NewMethodNotAllowedError().StatusCode)
	assert.Equal(t, "bad request", NewBadRequestError().Message)
}
