package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinkErrors_ShareResponseShape(t *testing.T) {
	for _, err := range []*AppError{ErrLinkInactive, ErrLinkExpired, ErrLinkExhausted} {
		assert.Equal(t, "link_unavailable", err.Code)
		assert.Equal(t, linkUnavailable, err.Message)
		assert.Equal(t, http.StatusGone, err.StatusCode)
	}

	assert.False(t, errors.Is(ErrLinkExpired, ErrLinkExhausted))
	assert.False(t, errors.Is(ErrLinkInactive, ErrLinkExpired))
}

func TestNotFound_WrapsSentinel(t *testing.T) {
	err := NotFound("project")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "project not found", err.Message)
	assert.Equal(t, http.StatusNotFound, GetStatusCode(err))
}

func TestGetStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"wrapped already member", fmt.Errorf("grant: %w", ErrAlreadyMember), http.StatusConflict},
		{"invalid", Invalid("bad email"), http.StatusBadRequest},
		{"maintenance", ErrMaintenance, http.StatusServiceUnavailable},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetStatusCode(tt.err))
		})
	}
}
