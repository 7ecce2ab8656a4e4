package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMessage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"boom", "boom"},
		{"Error: boom", "Error: boom"},
		{"Error: Error: boom", "Error: boom"},
		{"  Error:Error :  boom  ", "Error: boom"},
		{"Error:", "Error:"},
		{"not an Error: prefix", "not an Error: prefix"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeMessage(tt.in), tt.in)
	}
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))

	c := Classify(NewDatasetNotFound("nope"))
	assert.Equal(t, KindDatasetNotFound, c.Kind)
	assert.Equal(t, "dataset 'nope' not found in catalog", c.Message)
	assert.Equal(t, "Error: dataset 'nope' not found in catalog", c.Display())

	wrapped := fmt.Errorf("queue: %w", NewPackageMissing("tidyr", "Error: there is no package called 'tidyr'"))
	c = Classify(wrapped)
	assert.Equal(t, KindPackageMissing, c.Kind)
	assert.Equal(t, "Error: there is no package called 'tidyr'", c.Display())

	c = Classify(stderrors.New("Error: Error: plain"))
	assert.Equal(t, KindInterpreterRuntime, c.Kind)
	assert.Equal(t, "Error: plain", c.Error())
}

func TestKindHelpers(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewTimeoutError(2*time.Second))
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.True(t, IsKind(err, KindTimeout))
	assert.False(t, IsKind(stderrors.New("x"), KindTimeout))
	assert.Equal(t, ErrorKind(""), KindOf(nil))

	assert.Equal(t, "evaluation timed out after 2m0.003s and the interpreter was restarted",
		NewTimeoutError(2*time.Minute+3*time.Millisecond).Message)

	e := NewPackageMissing("ggplot2", "missing")
	assert.Equal(t, "ggplot2", e.Package)
	assert.Equal(t, "[RUNTIME][PACKAGE_MISSING] missing", e.Error())
}

func TestInitializationErrorWrapsCause(t *testing.T) {
	cause := stderrors.New("exec: \"R\": executable file not found")
	e := NewInitializationError("R did not start", cause)
	assert.Equal(t, KindInitialization, e.Kind)
	assert.Equal(t, SeverityFatal, e.Severity)
	assert.True(t, stderrors.Is(e, cause))
}

func TestHandlerHandle(t *testing.T) {
	h := NewDefaultErrorHandler()
	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")

	assert.Nil(t, h.Handle(ctx, nil))

	original := NewReferenceError("object 'x' not found")
	assert.Same(t, original, h.Handle(ctx, original))

	timeout := h.Handle(ctx, context.DeadlineExceeded)
	assert.Equal(t, KindTimeout, timeout.Kind)
	assert.True(t, stderrors.Is(timeout, context.DeadlineExceeded))

	generic := h.Handle(ctx, stderrors.New("queue is shutting down"))
	assert.Equal(t, KindInterpreterRuntime, generic.Kind)
	assert.Equal(t, "req-1", generic.Context["request_id"])
}

func TestHandlerRecover(t *testing.T) {
	h := NewDefaultErrorHandler()
	ctx := context.Background()

	s := h.Recover(ctx, NewPackageMissing("dplyr", "missing"))
	assert.Equal(t, RecoveryActionRetry, s.Action)
	assert.True(t, s.ShouldRetry)
	assert.Equal(t, 1, s.RetryCount)

	s = h.Recover(ctx, NewInitializationError("down", nil))
	assert.Equal(t, RecoveryActionAbort, s.Action)
	assert.False(t, s.ShouldRetry)

	for _, err := range []error{NewReferenceError("x"), NewTimeoutError(time.Second), stderrors.New("plain")} {
		s = h.Recover(ctx, err)
		require.False(t, s.ShouldRetry, err.Error())
		assert.Equal(t, RecoveryActionLog, s.Action)
	}
}
