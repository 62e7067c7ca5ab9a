package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		code     string
		status   int
		sentinel error
	}{
		{"not found", NotFound("review", "abc-123"), "NOT_FOUND", http.StatusNotFound, ErrNotFound},
		{"invalid input", InvalidInput("book id is required"), "INVALID_INPUT", http.StatusBadRequest, ErrInvalidInput},
		{"validation", Validation("bad review", map[string]string{"rating": "must be between 1 and 5"}), "VALIDATION_ERROR", http.StatusBadRequest, ErrInvalidInput},
		{"conflict", Conflict("book rating is being updated concurrently"), "CONFLICT", http.StatusConflict, ErrConflict},
		{"unauthorized", Unauthorized("authentication required"), "UNAUTHORIZED", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", Forbidden("cannot vote on your own review"), "FORBIDDEN", http.StatusForbidden, ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.Status)
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

func TestNotFound_Message(t *testing.T) {
	assert.Equal(t, "review with id abc-123 not found", NotFound("review", "abc-123").Message)
}

func TestValidation_Fields(t *testing.T) {
	err := Validation("bad review", map[string]string{"rating": "must be between 1 and 5"})
	assert.Equal(t, "must be between 1 and 5", err.Fields["rating"])
	assert.Nil(t, InvalidInput("x").Fields)
}

func TestAppError_Error(t *testing.T) {
	assert.Equal(t, "NOT_FOUND: review not found", (&AppError{Code: "NOT_FOUND", Message: "review not found"}).Error())

	wrapped := &AppError{Code: "INTERNAL_ERROR", Message: "store failed", Err: fmt.Errorf("connection reset by peer")}
	assert.Equal(t, "INTERNAL_ERROR: store failed: connection reset by peer", wrapped.Error())
	assert.Nil(t, (&AppError{}).Unwrap())
}

func TestAppError_SurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("delete review: %w", Forbidden("not yours"))

	var appErr *AppError
	assert.True(t, errors.As(err, &appErr))
	assert.Equal(t, "FORBIDDEN", appErr.Code)
	assert.Equal(t, http.StatusForbidden, HTTPStatus(err))
}

func TestHTTPStatus_Sentinels(t *testing.T) {
	for _, s := range sentinelStatus {
		t.Run(s.err.Error(), func(t *testing.T) {
			assert.Equal(t, s.status, HTTPStatus(s.err))
			assert.Equal(t, s.status, HTTPStatus(fmt.Errorf("outer: %w", s.err)))
		})
	}
}

func TestHTTPStatus_Unknown(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(ErrInternal))
}

func TestSentinels_AreDistinct(t *testing.T) {
	all := []error{ErrNotFound, ErrInvalidInput, ErrUnauthorized, ErrForbidden, ErrInternal, ErrConflict, ErrServiceUnavail}
	for i := range all {
		for j := i + 1; j < len(all); j++ {
			assert.NotErrorIs(t, all[i], all[j])
		}
	}
}
