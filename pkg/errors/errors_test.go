package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestTreeErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		check     func(error) bool
		status    int
		retryable bool
	}{
		{"node not found", NewNodeNotFoundError("n1"), IsNodeNotFound, http.StatusNotFound, false},
		{"parent not found", NewParentNotFoundError("p1"), IsParentNotFound, http.StatusBadRequest, false},
		{"cycle", NewCycleError("a", "c"), IsCycle, http.StatusConflict, false},
		{"store failure", NewStoreFailure("save", errors.New("io")), IsStoreFailure, http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, tt.check(wrapped))
			assert.Equal(t, tt.retryable, IsRetryable(wrapped))
			assert.Equal(t, tt.status, GetAppError(wrapped).HTTPStatus)
		})
	}
}

func TestWrapKeepsCode(t *testing.T) {
	err := Wrap(NewCycleError("a", "b"), "move failed")
	assert.True(t, IsCycle(err))
	assert.Contains(t, err.Error(), "move failed")

	plain := Wrap(errors.New("boom"), "context")
	assert.True(t, IsType(plain, ErrorTypeInternal))
	assert.Nil(t, Wrap(nil, "nothing"))
}

func TestErrorHandler_Handle(t *testing.T) {
	h := NewErrorHandler(zap.NewNop(), false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/nodes/x", nil)
	h.Handle(rec, req, NewNodeNotFoundError("x"))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Error)
	assert.Equal(t, CodeNodeNotFound, body.Code)
	assert.Equal(t, string(ErrorTypeNotFound), body.Type)

	rec = httptest.NewRecorder()
	h.Handle(rec, req, errors.New("driver exploded"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "driver exploded")
}

func TestErrorHandler_MiddlewareRecovers(t *testing.T) {
	h := NewErrorHandler(zap.NewNop(), true)
	handler := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("bad")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "panic: bad")
}

func TestErrorHandler_LogLevelFollowsCode(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level zapcore.Level
	}{
		{"missing node", NewNodeNotFoundError("n1"), zapcore.InfoLevel},
		{"cycle", NewCycleError("n1", "n2"), zapcore.InfoLevel},
		{"lock timeout", NewLockTimeoutError("root", context.DeadlineExceeded), zapcore.WarnLevel},
		{"tree changed", NewTreeChangedError("n1", 5), zapcore.WarnLevel},
		{"store failure", NewStoreFailure("get node", errors.New("timeout")), zapcore.ErrorLevel},
		{"plain validation", NewValidationError("bad"), zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			h := NewErrorHandler(zap.New(core), false)

			h.Handle(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/nodes", nil), tt.err)

			require.Equal(t, 1, logs.Len())
			entry := logs.All()[0]
			assert.Equal(t, tt.level, entry.Level)
			if code := GetAppError(tt.err).Code; code != "" {
				assert.Equal(t, code, entry.ContextMap()["error_code"])
			}
		})
	}

	core, logs := observer.New(zapcore.DebugLevel)
	h := NewErrorHandler(zap.New(core), false)
	h.Handle(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), NewCycleError("n1", "n2"))
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "n1", fields["node_id"])
	assert.Equal(t, "n2", fields["parent_id"])
}

func TestErrorHandler_RetryAfter(t *testing.T) {
	h := NewErrorHandler(zap.NewNop(), false)
	req := httptest.NewRequest(http.MethodPut, "/api/nodes/x/move", nil)

	rec := httptest.NewRecorder()
	h.Handle(rec, req, NewLockTimeoutError("root", context.DeadlineExceeded))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, retryAfterSeconds, rec.Header().Get("Retry-After"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Retryable)

	rec = httptest.NewRecorder()
	h.Handle(rec, req, NewTreeChangedError("x", 5))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, retryAfterSeconds, rec.Header().Get("Retry-After"))

	rec = httptest.NewRecorder()
	h.Handle(rec, req, NewCycleError("x", "y"))
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

func TestErrorHandler_MiddlewarePassesAbort(t *testing.T) {
	h := NewErrorHandler(zap.NewNop(), false)
	handler := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
