package common

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"
)

// DefaultOperationTimeout is the default timeout for store and file operations
const DefaultOperationTimeout = 30 * time.Second

// DefaultNetworkTimeout is the default timeout for provider network calls
const DefaultNetworkTimeout = 10 * time.Second

// WithTimeout creates a context with a timeout for the operation
func WithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, timeout)
}

// WithOperationTimeout creates a context with the default operation timeout
func WithOperationTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return WithTimeout(parent, DefaultOperationTimeout)
}

// WithRequestID adds a unique request ID to the context for tracing
func WithRequestID(parent context.Context) context.Context {
	return context.WithValue(parent, ContextKeyRequestID, generateRequestID())
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return "unknown"
}

// WithOperation adds operation information to the context
func WithOperation(parent context.Context, operation string) context.Context {
	return context.WithValue(parent, ContextKeyOperation, operation)
}

// GetOperation retrieves the operation from the context
func GetOperation(ctx context.Context) string {
	if operation, ok := ctx.Value(ContextKeyOperation).(string); ok {
		return operation
	}
	return ""
}

// IsContextCanceled checks if the context has been canceled or timed out
func IsContextCanceled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// GetContextError returns an appropriate ApplicationError for context cancellation/timeout
func GetContextError(ctx context.Context, operation string) *ApplicationError {
	err := ctx.Err()
	if err == nil {
		return nil
	}

	switch err {
	case context.DeadlineExceeded:
		return WrapError(err, ErrorTypeNetwork, operation, "Operation timed out").
			AddSuggestion("Increase timeout values if the operation needs more time")
	default:
		return WrapError(err, ErrorTypeConfig, operation, "Operation was canceled")
	}
}

// generateRequestID creates a unique request ID for tracing
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID if random generation fails
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("req_%x", bytes)
}
