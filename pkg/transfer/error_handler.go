package transfer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// ErrorCategory represents the category of an error for handling purposes
type ErrorCategory int

const (
	// ErrorCategoryRecoverable indicates errors that can be retried
	ErrorCategoryRecoverable ErrorCategory = iota
	// ErrorCategoryNonRecoverable indicates errors that end the transfer
	ErrorCategoryNonRecoverable
	// ErrorCategoryNoise indicates stray traffic that is not an error for any transfer
	ErrorCategoryNoise
)

// String returns a string representation of ErrorCategory
func (ec ErrorCategory) String() string {
	switch ec {
	case ErrorCategoryRecoverable:
		return "recoverable"
	case ErrorCategoryNonRecoverable:
		return "non_recoverable"
	case ErrorCategoryNoise:
		return "noise"
	default:
		return "unknown"
	}
}

// ErrorAction represents the action to take when an error occurs
type ErrorAction int

const (
	// ErrorActionRetry indicates the operation should be retried
	ErrorActionRetry ErrorAction = iota
	// ErrorActionFail indicates the transfer should be marked as failed
	ErrorActionFail
	// ErrorActionIgnore indicates the error is logged and dropped
	ErrorActionIgnore
)

// String returns a string representation of ErrorAction
func (ea ErrorAction) String() string {
	switch ea {
	case ErrorActionRetry:
		return "retry"
	case ErrorActionFail:
		return "fail"
	case ErrorActionIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

// ErrorHandler defines the interface for handling transfer errors
type ErrorHandler interface {
	// HandleError determines what action to take for a given error
	HandleError(fileName string, err error, retryCount int) ErrorAction

	// CategorizeError determines the category of an error
	CategorizeError(err error) ErrorCategory

	// LogError logs an error with appropriate context
	LogError(fileName string, err error, action ErrorAction, retryCount int)
}

// DefaultErrorHandler provides a default implementation of ErrorHandler
type DefaultErrorHandler struct {
	maxRetries int
}

// NewDefaultErrorHandler creates a handler that allows policy.MaxRetries retries
func NewDefaultErrorHandler(policy RetryPolicy) *DefaultErrorHandler {
	if policy.MaxRetries < 1 {
		policy = DefaultRetryPolicy()
	}
	return &DefaultErrorHandler{maxRetries: policy.MaxRetries}
}

// HandleError determines what action to take for a given error
func (h *DefaultErrorHandler) HandleError(fileName string, err error, retryCount int) ErrorAction {
	if err == nil {
		return ErrorActionIgnore
	}

	switch h.CategorizeError(err) {
	case ErrorCategoryNoise:
		return ErrorActionIgnore
	case ErrorCategoryRecoverable:
		if retryCount < h.maxRetries {
			return ErrorActionRetry
		}
		return ErrorActionFail
	default:
		return ErrorActionFail
	}
}

// CategorizeError determines the category of an error
func (h *DefaultErrorHandler) CategorizeError(err error) ErrorCategory {
	switch {
	case err == nil:
		return ErrorCategoryRecoverable
	case errors.Is(err, ErrMalformedFrame):
		return ErrorCategoryNoise
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryNonRecoverable
	case errors.Is(err, ErrDecode),
		errors.Is(err, ErrIntegrityMismatch),
		errors.Is(err, ErrRetryBudgetExhausted),
		errors.Is(err, ErrIncomplete),
		errors.Is(err, ErrInvalidConfiguration),
		errors.Is(err, ErrFrameTooLarge),
		errors.Is(err, ErrInvalidFrameField),
		errors.Is(err, ErrIsDir),
		errors.Is(err, ErrTooManyChunks):
		return ErrorCategoryNonRecoverable
	case errors.Is(err, ErrTransportSend):
		return ErrorCategoryRecoverable
	}

	errMsg := strings.ToLower(err.Error())
	nonRecoverablePatterns := []string{
		"no such file",
		"permission denied",
		"no space left",
		"use of closed",
	}
	for _, pattern := range nonRecoverablePatterns {
		if strings.Contains(errMsg, pattern) {
			return ErrorCategoryNonRecoverable
		}
	}

	// Radio links fail transiently far more often than permanently.
	return ErrorCategoryRecoverable
}

// LogError logs an error with appropriate context
func (h *DefaultErrorHandler) LogError(fileName string, err error, action ErrorAction, retryCount int) {
	logFields := []any{
		"file", fileName,
		"error", err,
		"action", action.String(),
		"retry_count", retryCount,
		"category", h.CategorizeError(err).String(),
	}

	switch action {
	case ErrorActionRetry:
		slog.Warn("Transfer error, will retry", logFields...)
	case ErrorActionFail:
		slog.Error("Transfer failed", logFields...)
	case ErrorActionIgnore:
		slog.Debug("Ignoring message", logFields...)
	default:
		slog.Error("Transfer error with unknown action", logFields...)
	}
}
