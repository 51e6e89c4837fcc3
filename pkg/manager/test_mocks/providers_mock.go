package test_mocks

import (
	"context"
	"fmt"
	"time"

	"github.com/certhost/go-site-cert-manager/pkg/common"
)

// MockCAProvider is an in-memory certificate authority for tests. Behavior is
// steered per domain: domains listed in FailValidation fail their challenge,
// everything else validates on the first poll.
type MockCAProvider struct {
	// FailValidation lists domains whose validation must fail.
	FailValidation map[string]bool

	// FailIssuance makes RequestCertificate report a failed order.
	FailIssuance bool

	// IssuedCertPath is returned as the artifact path for successful orders.
	IssuedCertPath string

	// Identifiers is the provider-side registry, keyed by domain. Tests can
	// pre-seed it to simulate prior authorization rounds.
	Identifiers map[string]*common.Identifier

	// Call recording.
	BeginAuthorizationCalls []string
	SubmitChallengeCalls    []string
	RequestCertificateCalls []struct {
		PrimaryAlias string
		AltAliases   []string
	}
}

func NewMockCAProvider() *MockCAProvider {
	return &MockCAProvider{
		FailValidation: make(map[string]bool),
		IssuedCertPath: "/tmp/mock-cert.crt",
		Identifiers:    make(map[string]*common.Identifier),
	}
}

func (m *MockCAProvider) RegisterIdentifier(ctx context.Context, domain string) (*common.Identifier, error) {
	if ident, ok := m.Identifiers[domain]; ok {
		return ident, nil
	}
	ident := &common.Identifier{
		Domain:  domain,
		Alias:   "alias-" + domain,
		Status:  common.IdentifierStatusPending,
		Expires: time.Now().Add(7 * 24 * time.Hour),
	}
	m.Identifiers[domain] = ident
	return ident, nil
}

func (m *MockCAProvider) GetIdentifier(ctx context.Context, domain string) (*common.Identifier, error) {
	if ident, ok := m.Identifiers[domain]; ok {
		return ident, nil
	}
	return nil, nil
}

func (m *MockCAProvider) BeginAuthorization(ctx context.Context, config common.CertRequestConfig, domain, challengeType string) (*common.PendingAuthorization, error) {
	m.BeginAuthorizationCalls = append(m.BeginAuthorizationCalls, domain)

	ident, err := m.RegisterIdentifier(ctx, domain)
	if err != nil {
		return nil, err
	}
	if ident.Status == common.IdentifierStatusValid {
		return &common.PendingAuthorization{Identifier: ident}, nil
	}
	return &common.PendingAuthorization{
		Identifier: ident,
		Challenge: &common.AuthorizationChallenge{
			Type:             challengeType,
			Token:            "token-" + domain,
			KeyAuthorization: "keyauth-" + domain,
		},
	}, nil
}

func (m *MockCAProvider) SubmitChallenge(ctx context.Context, identifierAlias, challengeType string) error {
	m.SubmitChallengeCalls = append(m.SubmitChallengeCalls, identifierAlias)
	return nil
}

func (m *MockCAProvider) PollValidation(ctx context.Context, identifierAlias string) (bool, error) {
	for _, ident := range m.Identifiers {
		if ident.Alias != identifierAlias {
			continue
		}
		if m.FailValidation[ident.Domain] {
			ident.Status = common.IdentifierStatusInvalid
			return false, nil
		}
		ident.Status = common.IdentifierStatusValid
		ident.Expires = time.Now().Add(30 * 24 * time.Hour)
		return true, nil
	}
	return false, fmt.Errorf("unknown identifier alias %q", identifierAlias)
}

func (m *MockCAProvider) RequestCertificate(ctx context.Context, primaryAlias string, altAliases []string) (common.CertificateIssueResult, error) {
	m.RequestCertificateCalls = append(m.RequestCertificateCalls, struct {
		PrimaryAlias string
		AltAliases   []string
	}{primaryAlias, altAliases})

	if m.FailIssuance {
		return common.CertificateIssueResult{IsSuccess: false, ErrorMessage: "mock issuance failure"}, nil
	}
	return common.CertificateIssueResult{IsSuccess: true, CertificatePath: m.IssuedCertPath}, nil
}

// MockBindingProvider is an in-memory binding provider. Challenge publication
// and installation outcomes are steered through the Fail* fields; site
// running state comes from the StoppedSites set.
type MockBindingProvider struct {
	// FailPublish lists domains whose challenge publication fails outright.
	FailPublish map[string]bool

	// FailConfigCheck lists domains whose extensionless check fails.
	FailConfigCheck map[string]bool

	// FailInstall makes InstallCertificate return an error.
	FailInstall bool

	// StoppedSites lists record ids whose site is stopped.
	StoppedSites map[string]bool

	// SiteBindings is returned by ListSiteBindings.
	SiteBindings []common.SiteBindingInfo

	// ReapplyChanged is what ReapplyBindings reports.
	ReapplyChanged bool

	InstallCalls []string
	ReapplyCalls []string
	PublishCalls []string
}

func NewMockBindingProvider() *MockBindingProvider {
	return &MockBindingProvider{
		FailPublish:     make(map[string]bool),
		FailConfigCheck: make(map[string]bool),
		StoppedSites:    make(map[string]bool),
		ReapplyChanged:  true,
	}
}

func (m *MockBindingProvider) PublishChallengeResponse(ctx context.Context, config common.CertRequestConfig, domain, token, keyAuth string, checkReachable bool) (common.ChallengePublication, error) {
	m.PublishCalls = append(m.PublishCalls, domain)

	if m.FailPublish[domain] {
		return common.ChallengePublication{}, fmt.Errorf("mock publish failure for %s", domain)
	}
	pub := common.ChallengePublication{OK: true}
	if checkReachable {
		pub.ExtensionlessCheckOK = !m.FailConfigCheck[domain]
	}
	return pub, nil
}

func (m *MockBindingProvider) InstallCertificate(ctx context.Context, artifactPath string, config common.CertRequestConfig, cleanupOldCerts bool) error {
	m.InstallCalls = append(m.InstallCalls, artifactPath)
	if m.FailInstall {
		return fmt.Errorf("mock install failure")
	}
	return nil
}

func (m *MockBindingProvider) ReapplyBindings(ctx context.Context, recordID string, isPreviewOnly bool) (bool, error) {
	m.ReapplyCalls = append(m.ReapplyCalls, recordID)
	return m.ReapplyChanged, nil
}

func (m *MockBindingProvider) ListSiteBindings(ctx context.Context, ignoreStopped bool) ([]common.SiteBindingInfo, error) {
	if !ignoreStopped {
		return m.SiteBindings, nil
	}
	var running []common.SiteBindingInfo
	for _, s := range m.SiteBindings {
		if s.IsRunning {
			running = append(running, s)
		}
	}
	return running, nil
}

func (m *MockBindingProvider) IsSiteRunning(ctx context.Context, recordID string) bool {
	return !m.StoppedSites[recordID]
}

// MockScheduledTaskProvider records scheduler operations in memory.
type MockScheduledTaskProvider struct {
	Tasks map[string]string // name -> command line

	FailCreate bool
}

func NewMockScheduledTaskProvider() *MockScheduledTaskProvider {
	return &MockScheduledTaskProvider{Tasks: make(map[string]string)}
}

func (m *MockScheduledTaskProvider) CreateDailyTask(name, exePath, args, runAsUser, password string) error {
	if m.FailCreate {
		return fmt.Errorf("mock scheduler failure")
	}
	m.Tasks[name] = exePath + " " + args
	return nil
}

func (m *MockScheduledTaskProvider) TaskExists(name string) (bool, error) {
	_, ok := m.Tasks[name]
	return ok, nil
}

func (m *MockScheduledTaskProvider) DeleteTask(name string) error {
	delete(m.Tasks, name)
	return nil
}

var _ common.CAProvider = (*MockCAProvider)(nil)
var _ common.BindingProvider = (*MockBindingProvider)(nil)
var _ common.ScheduledTaskProvider = (*MockScheduledTaskProvider)(nil)
