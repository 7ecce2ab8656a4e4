package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// RecoveryAction represents the type of recovery action
type RecoveryAction string

const (
	RecoveryActionNone  RecoveryAction = "NONE"
	RecoveryActionRetry RecoveryAction = "RETRY"
	RecoveryActionAbort RecoveryAction = "ABORT"
	RecoveryActionLog   RecoveryAction = "LOG"
)

// RecoveryStrategy represents a strategy for recovering from an error
type RecoveryStrategy struct {
	Action      RecoveryAction `json:"action"`
	Message     string         `json:"message"`
	RetryCount  int            `json:"retry_count"`
	ShouldRetry bool           `json:"should_retry"`
}

// ErrorHandler defines the interface for handling errors
type ErrorHandler interface {
	// Handle processes an error and returns a classified ExecutionError
	Handle(ctx context.Context, err error) *ExecutionError

	// Recover returns the recovery strategy for an error
	Recover(ctx context.Context, err error) RecoveryStrategy
}

// RecoveryPolicy defines how to handle errors of a specific kind
type RecoveryPolicy struct {
	MaxRetries    int
	DefaultAction RecoveryAction
}

// DefaultErrorHandler is the default implementation of ErrorHandler
type DefaultErrorHandler struct {
	recoveryPolicies map[ErrorKind]RecoveryPolicy
}

// NewDefaultErrorHandler creates a handler where only a missing package is
// recoverable, and only once.
func NewDefaultErrorHandler() *DefaultErrorHandler {
	return &DefaultErrorHandler{
		recoveryPolicies: map[ErrorKind]RecoveryPolicy{
			KindPackageMissing: {
				MaxRetries:    1,
				DefaultAction: RecoveryActionRetry,
			},
			KindInitialization: {
				MaxRetries:    0,
				DefaultAction: RecoveryActionAbort,
			},
		},
	}
}

// Handle converts err into a classified ExecutionError. Context
// cancellation and deadlines are reported as timeouts.
func (h *DefaultErrorHandler) Handle(ctx context.Context, err error) *ExecutionError {
	if err == nil {
		return nil
	}

	if execErr, ok := AsExecutionError(err); ok && execErr.Kind != "" {
		return execErr
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewRuntimeError(LanguageR, CodeTimeout, err.Error()).WithKind(KindTimeout).Wrap(err)
	}

	execErr := NewInterpreterRuntime(err.Error())
	_ = execErr.Wrap(err)
	if ctx != nil {
		if requestID := ctx.Value(RequestIDKey); requestID != nil {
			_ = execErr.WithContext("request_id", requestID)
		}
	}
	return execErr
}

// Recover returns the recovery strategy for the error's kind
func (h *DefaultErrorHandler) Recover(ctx context.Context, err error) RecoveryStrategy {
	kind := KindOf(err)
	policy, exists := h.recoveryPolicies[kind]
	if !exists {
		policy = RecoveryPolicy{
			MaxRetries:    0,
			DefaultAction: RecoveryActionLog,
		}
	}

	return RecoveryStrategy{
		Action:      policy.DefaultAction,
		Message:     fmt.Sprintf("recovery strategy for %s: %s", kind, policy.DefaultAction),
		RetryCount:  policy.MaxRetries,
		ShouldRetry: policy.MaxRetries > 0,
	}
}

type contextKey string

// RequestIDKey is the context key carrying the request id
const RequestIDKey contextKey = "request_id"
