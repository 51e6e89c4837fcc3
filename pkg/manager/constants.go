// Package manager implements the managed-certificate orchestration engine:
// the record store, the domain authorization and issuance workflow, the
// deployment task runner, the renewal scheduler, and diagnostics.
package manager

import "time"

const (
	// DirPermissions defines permissions for directories (0750)
	DirPermissions = 0750

	// PrivateKeyPermissions defines permissions for private key files (0600)
	PrivateKeyPermissions = 0600

	// CertificatePermissions defines permissions for certificate files (0644)
	CertificatePermissions = 0644

	// StoreFileName is the single serialized document holding all managed records
	StoreFileName = "managedcertificates.json"

	// DefaultRenewalIntervalDays is how many days must pass since the last
	// renewal before a record becomes due again
	DefaultRenewalIntervalDays = 14

	// NeverRenewedAssumedAge is the synthetic elapsed time assumed for records
	// that have no recorded renewal date
	NeverRenewedAssumedAge = 30 * 24 * time.Hour

	// IdentifierReuseWindow is the minimum remaining lifetime an existing
	// authorization must have to be reused without a new CA round-trip
	IdentifierReuseWindow = 24 * time.Hour

	// DiagnosticsRedeployPause is the fixed pause between binding redeployments
	// so the host is not overloaded
	DiagnosticsRedeployPause = 5 * time.Second

	// DefaultChallengeTimeout is the default timeout for ACME challenges
	DefaultChallengeTimeout = 10 * time.Minute
	// DefaultHTTPTimeout is the default timeout for HTTP requests to the ACME server
	DefaultHTTPTimeout = 30 * time.Second

	// ScheduledTaskName identifies the unattended renewal task in the OS scheduler
	ScheduledTaskName = "site-cert-manager-renewal"

	// WellKnownChallengePath is where challenge responses are published
	WellKnownChallengePath = ".well-known/acme-challenge"
)
