package common

import (
	"context"
	"net/http"
)

// LoggerInterface defines the logging interface used throughout the application
// This allows for dependency injection and better testability
type LoggerInterface interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Importantf(format string, args ...interface{})
}

// HTTPClientInterface defines the interface for HTTP client operations
// This allows for mocking HTTP requests in tests and supports context cancellation
type HTTPClientInterface interface {
	Do(req *http.Request) (*http.Response, error)
}

// CAProvider is the capability interface for the external certificate
// authority. Production implementations talk ACME; test implementations keep
// everything in memory. The provider's local authorization state is NOT safe
// for concurrent mutation: callers must serialize workflows end-to-end.
type CAProvider interface {
	// RegisterIdentifier registers a domain with the CA and returns its
	// identifier record.
	RegisterIdentifier(ctx context.Context, domain string) (*Identifier, error)

	// GetIdentifier returns the existing identifier for a domain, or nil if
	// the CA has none.
	GetIdentifier(ctx context.Context, domain string) (*Identifier, error)

	// BeginAuthorization registers the identifier (if needed) and requests an
	// authorization for it using the given challenge type.
	BeginAuthorization(ctx context.Context, config CertRequestConfig, domain, challengeType string) (*PendingAuthorization, error)

	// SubmitChallenge asks the CA to check our answer to the challenge.
	SubmitChallenge(ctx context.Context, identifierAlias, challengeType string) error

	// PollValidation waits for the CA to finish validating the identifier and
	// reports whether validation succeeded.
	PollValidation(ctx context.Context, identifierAlias string) (bool, error)

	// RequestCertificate asks the CA to issue a certificate covering the
	// primary identifier plus alternatives.
	RequestCertificate(ctx context.Context, primaryAlias string, altAliases []string) (CertificateIssueResult, error)
}

// BindingProvider is the capability interface for the web server hosting the
// managed sites: challenge response publication, certificate installation, and
// binding manipulation.
type BindingProvider interface {
	// PublishChallengeResponse places the challenge answer at the well-known
	// path for the domain. When checkReachable is set it also verifies the
	// extensionless path is reachable over plain HTTP.
	PublishChallengeResponse(ctx context.Context, config CertRequestConfig, domain, token, keyAuth string, checkReachable bool) (ChallengePublication, error)

	// InstallCertificate installs the issued artifact into the trust store and
	// applies it to the configured bindings. cleanupOldCerts removes
	// now-superseded certificates for the same domain.
	InstallCertificate(ctx context.Context, artifactPath string, config CertRequestConfig, cleanupOldCerts bool) error

	// ReapplyBindings re-applies the record's current certificate to its
	// bindings. Preview mode reports what would change without changing it.
	ReapplyBindings(ctx context.Context, recordID string, isPreviewOnly bool) (bool, error)

	// ListSiteBindings enumerates the hostname bindings of all hosted sites.
	ListSiteBindings(ctx context.Context, ignoreStopped bool) ([]SiteBindingInfo, error)

	// IsSiteRunning reports whether the site linked to the record is running.
	// Unknown sites are assumed running.
	IsSiteRunning(ctx context.Context, recordID string) bool
}

// ScheduledTaskProvider abstracts the OS scheduler used for unattended daily
// renewal runs.
type ScheduledTaskProvider interface {
	CreateDailyTask(name, exePath, args, runAsUser, password string) error
	TaskExists(name string) (bool, error)
	DeleteTask(name string) error
}

// ContextKey represents context keys used in the application
type ContextKey string

const (
	// ContextKeyRequestID is used for request tracing
	ContextKeyRequestID ContextKey = "request_id"
	// ContextKeyOperation is used to track the current operation
	ContextKeyOperation ContextKey = "operation"
)

// Verify that our concrete types implement the interfaces
var _ HTTPClientInterface = (*http.Client)(nil)
