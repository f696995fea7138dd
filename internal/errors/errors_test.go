package errors

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		category ErrorCategory
		status   int
	}{
		{"validation", NewValidationError("need at least two modules", "module_ids"), CategoryValidation, http.StatusBadRequest},
		{"not found", NewNotFoundError("idea", "abc"), CategoryNotFound, http.StatusNotFound},
		{"upstream", NewUpstreamServiceError("ai-analysis", fmt.Errorf("boom")), CategoryUpstreamService, http.StatusBadGateway},
		{"partial failure", NewPartialFailureError("award original author", fmt.Errorf("locked")), CategoryPartialFailure, http.StatusMultiStatus},
		{"integrity", NewIntegrityDefectError("idea", "abc", "score is zero"), CategoryIntegrityDefect, http.StatusInternalServerError},
		{"rate limit", NewRateLimitError("30s"), CategoryRateLimit, http.StatusTooManyRequests},
		{"unauthorized", NewUnauthorizedError("missing token"), CategoryUnauthorized, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.err.Category)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
			assert.False(t, tt.err.Timestamp.IsZero())
		})
	}
}

func TestErrorMessageFormat(t *testing.T) {
	err := NewValidationError("test validation error")
	assert.Equal(t, "[VALIDATION_ERROR] test validation error", err.Error())
}

func TestToAppError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category ErrorCategory
	}{
		{"app error passes through", NewNotFoundError("module", "m1"), CategoryNotFound},
		{"wrapped app error", fmt.Errorf("outer: %w", NewValidationError("bad")), CategoryValidation},
		{"deadline", context.DeadlineExceeded, CategoryTimeout},
		{"cancelled", context.Canceled, CategoryTimeout},
		{"connection refused", fmt.Errorf("dial tcp: connection refused"), CategoryNetwork},
		{"unknown", fmt.Errorf("something odd"), CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, ToAppError(tt.err).Category)
		})
	}

	assert.Nil(t, ToAppError(nil))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(NewUpstreamServiceError("embeddings", nil)))
	assert.True(t, IsRetryableError(context.DeadlineExceeded))
	assert.False(t, IsRetryableError(NewValidationError("bad")))
	assert.False(t, IsRetryableError(NewNotFoundError("idea", "x")))
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("ctx: %w", NewPartialFailureError("award", nil))
	assert.True(t, Is(err, CategoryPartialFailure))
	assert.False(t, Is(err, CategoryValidation))
	assert.False(t, Is(fmt.Errorf("plain"), CategoryInternal))
}

func TestErrorHandlerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/fail", func(c *gin.Context) {
		_ = c.Error(NewValidationError("bad input"))
	})

	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/fail", nil)
	require.NoError(t, err)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"category":"validation"`)
}

func TestRecoveryHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RecoveryHandler())
	r.GET("/panic", func(c *gin.Context) {
		panic("kaboom")
	})

	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/panic", nil)
	require.NoError(t, err)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"category":"internal"`)
}
