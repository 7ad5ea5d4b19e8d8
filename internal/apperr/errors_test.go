package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindCodesAndStatuses(t *testing.T) {
	tests := []struct {
		kind   Kind
		code   string
		status int
	}{
		{KindValidation, "VALIDATION_ERROR", http.StatusBadRequest},
		{KindNotFound, "NOT_FOUND", http.StatusNotFound},
		{KindAlreadyExists, "ALREADY_EXISTS", http.StatusConflict},
		{KindConflict, "CONFLICT", http.StatusConflict},
		{KindProcessing, "PROCESSING_ERROR", http.StatusInternalServerError},
		{KindUnavailable, "CAPABILITY_UNAVAILABLE", http.StatusBadGateway},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			assert.Equal(t, tc.code, tc.kind.String())
			assert.Equal(t, tc.status, tc.kind.HTTPStatus())
		})
	}
}

func TestKindOfThroughWrapping(t *testing.T) {
	base := New(KindNotFound, "record rec-1 not found")
	wrapped := fmt.Errorf("query path: %w", base)

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindNotFound, kind)
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsConflict(wrapped))
}

func TestKindOfPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("plumbing failure"))
	assert.False(t, ok)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindUnavailable, "ocr service unreachable", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "ocr service unreachable")
	assert.Contains(t, err.Error(), "connection refused")
}
