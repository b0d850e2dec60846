package server

import (
	"context"
	"errors"

	"github.com/storacha/go-ucanto/core/invocation"

	"github.com/relves/quorumsig/pkg/capabilities"
)

// RequestValidator validates incoming UCAN invocations before processing.
// Implementations can check account status, rate limits, allowlists, etc.
type RequestValidator interface {
	// ValidateRequest is called after UCAN authorization and before the
	// request reaches the ledger. Return nil to allow the request, or an
	// error to reject it. The error message is returned to the client.
	ValidateRequest(ctx context.Context, inv invocation.Invocation) error
}

// ValidationError represents a validation failure with structured info.
type ValidationError struct {
	Code    string // Machine-readable error code (e.g., "RATE_LIMITED")
	Message string // Human-readable message
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new validation error.
func NewValidationError(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

// ValidatorFunc adapts a function to RequestValidator.
type ValidatorFunc func(ctx context.Context, inv invocation.Invocation) error

func (f ValidatorFunc) ValidateRequest(ctx context.Context, inv invocation.Invocation) error {
	return f(ctx, inv)
}

// runValidator returns the failure to send when v rejects inv.
func runValidator(ctx context.Context, v RequestValidator, inv invocation.Invocation) *capabilities.Failure {
	if v == nil {
		return nil
	}
	err := v.ValidateRequest(ctx, inv)
	if err == nil {
		return nil
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		f := capabilities.NewFailure(vErr.Code, vErr.Message)
		return &f
	}
	f := capabilities.NewFailure("VALIDATION_ERROR", err.Error())
	return &f
}
