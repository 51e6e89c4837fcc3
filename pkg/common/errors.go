package common

import (
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors in the application
type ErrorType string

const (
	// ErrorTypeConfig represents invalid or missing request/application configuration
	ErrorTypeConfig ErrorType = "CONFIG"
	// ErrorTypeValidation represents failed CA validation of one or more domains
	ErrorTypeValidation ErrorType = "VALIDATION"
	// ErrorTypeIssuance represents the CA declining or timing out on issuance
	ErrorTypeIssuance ErrorType = "ISSUANCE"
	// ErrorTypeInstallation represents binding installation failure after issuance
	ErrorTypeInstallation ErrorType = "INSTALLATION"
	// ErrorTypeStore represents an unreadable or unwritable record store
	ErrorTypeStore ErrorType = "STORE"
	// ErrorTypeLookup represents a name-based selection resolving to zero or
	// multiple records, or a named deployment task not being found
	ErrorTypeLookup ErrorType = "LOOKUP"
	// ErrorTypeNetwork represents network-related errors in provider plumbing
	ErrorTypeNetwork ErrorType = "NETWORK"
)

// ApplicationError is our custom error type that provides structured error information
type ApplicationError struct {
	Type        ErrorType
	Operation   string // What operation was being performed
	Resource    string // What resource was involved (e.g., record id, domain name)
	Message     string // Human-readable error message
	Underlying  error  // The original error that caused this
	Suggestions []string
}

// Error implements the error interface
func (e *ApplicationError) Error() string {
	var parts []string

	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("[%s] %s", e.Type, e.Operation))
	} else {
		parts = append(parts, string(e.Type))
	}

	if e.Resource != "" {
		parts = append(parts, fmt.Sprintf("resource=%s", e.Resource))
	}

	parts = append(parts, e.Message)
	result := strings.Join(parts, ": ")

	if e.Underlying != nil {
		result += fmt.Sprintf(" (cause: %v)", e.Underlying)
	}

	return result
}

// Unwrap returns the underlying error for error chaining
func (e *ApplicationError) Unwrap() error {
	return e.Underlying
}

// IsType checks if the error is of a specific type
func (e *ApplicationError) IsType(errorType ErrorType) bool {
	return e.Type == errorType
}

// WithResource records the resource involved in the error
func (e *ApplicationError) WithResource(resource string) *ApplicationError {
	e.Resource = resource
	return e
}

// AddSuggestion adds a helpful suggestion for resolving the error
func (e *ApplicationError) AddSuggestion(suggestion string) *ApplicationError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// GetDetailedMessage returns the error message plus any remediation suggestions
func (e *ApplicationError) GetDetailedMessage() string {
	message := e.Error()

	if len(e.Suggestions) > 0 {
		message += "\nSuggestions:"
		for _, suggestion := range e.Suggestions {
			message += fmt.Sprintf("\n  - %s", suggestion)
		}
	}

	return message
}

// NewApplicationError creates a new application error
func NewApplicationError(errorType ErrorType, operation, message string) *ApplicationError {
	return &ApplicationError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
	}
}

// WrapError wraps an existing error with application context
func WrapError(underlying error, errorType ErrorType, operation, message string) *ApplicationError {
	return &ApplicationError{
		Type:       errorType,
		Operation:  operation,
		Message:    message,
		Underlying: underlying,
	}
}

// GetApplicationError extracts the ApplicationError from an error chain
func GetApplicationError(err error) *ApplicationError {
	if appErr, ok := err.(*ApplicationError); ok {
		return appErr
	}
	return nil
}

// NewConfigError creates a configuration-related error
func NewConfigError(operation, message string) *ApplicationError {
	return NewApplicationError(ErrorTypeConfig, operation, message).
		AddSuggestion("Check the managed certificate's domain configuration").
		AddSuggestion("Use -print-config-template to see a valid settings template")
}

// NewValidationError creates a domain validation error
func NewValidationError(operation, message string) *ApplicationError {
	return NewApplicationError(ErrorTypeValidation, operation, message).
		AddSuggestion("Ensure all requested domains resolve to this server without redirection").
		AddSuggestion("Check the site's http bindings for each domain")
}

// NewIssuanceError creates a certificate issuance error
func NewIssuanceError(operation, message string) *ApplicationError {
	return NewApplicationError(ErrorTypeIssuance, operation, message).
		AddSuggestion("Check CA service status and rate limits")
}

// NewInstallationError creates a certificate installation error. The issued
// artifact is retained on disk for manual recovery.
func NewInstallationError(operation, message string) *ApplicationError {
	return NewApplicationError(ErrorTypeInstallation, operation, message).
		AddSuggestion("The issued certificate remains on disk and can be bound manually")
}

// NewStoreError creates a record store error
func NewStoreError(operation, message string) *ApplicationError {
	return NewApplicationError(ErrorTypeStore, operation, message).
		AddSuggestion("Check file permissions and disk space for the data path")
}

// NewLookupError creates a name-based selection error
func NewLookupError(operation, message string) *ApplicationError {
	return NewApplicationError(ErrorTypeLookup, operation, message).
		AddSuggestion("Check the managed certificate name and task name spelling")
}

// NewNetworkError creates a network-related error
func NewNetworkError(operation, message string) *ApplicationError {
	return NewApplicationError(ErrorTypeNetwork, operation, message).
		AddSuggestion("Check network connectivity and firewall settings")
}
