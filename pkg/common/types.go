package common

import (
	"strings"
	"time"
)

// DeploymentOption selects which site bindings receive a newly issued certificate.
type DeploymentOption string

const (
	// DeploymentOptionAuto deploys to the bindings of the linked site.
	DeploymentOptionAuto DeploymentOption = "auto"
	// DeploymentOptionAllSites deploys to every site with a matching hostname binding.
	DeploymentOptionAllSites DeploymentOption = "all-sites"
	// DeploymentOptionSingleSite deploys only to one explicitly configured site.
	DeploymentOptionSingleSite DeploymentOption = "single-site"
)

// Identifier status values as reported by the certificate authority.
const (
	IdentifierStatusPending = "pending"
	IdentifierStatusValid   = "valid"
	IdentifierStatusInvalid = "invalid"
)

// DefaultChallengeType is used when a request config does not name one.
const DefaultChallengeType = "http-01"

// CertRequestConfig describes what certificate a managed record wants and how
// issuance and deployment should behave.
type CertRequestConfig struct {
	PrimaryDomain           string           `json:"primary_domain"`
	SubjectAlternativeNames []string         `json:"subject_alternative_names,omitempty"`
	ChallengeType           string           `json:"challenge_type,omitempty"`
	DeploymentSiteOption    DeploymentOption `json:"deployment_site_option,omitempty"`
	DeploymentSiteID        string           `json:"deployment_site_id,omitempty"`
	PerformAutoConfig       bool             `json:"perform_auto_config"`
	PerformAutomatedBinding bool             `json:"perform_automated_binding"`
	BindingIPAddress        string           `json:"binding_ip_address,omitempty"`
	BindingPort             string           `json:"binding_port,omitempty"`
	WebsiteRootPath         string           `json:"website_root_path,omitempty"`
}

// DistinctDomains returns the primary domain plus subject alternative names,
// trimmed, lowercased, and deduplicated. Order follows first appearance.
func (c *CertRequestConfig) DistinctDomains() []string {
	seen := make(map[string]struct{})
	var domains []string
	for _, d := range append([]string{c.PrimaryDomain}, c.SubjectAlternativeNames...) {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		domains = append(domains, d)
	}
	return domains
}

// DomainOption is a selectable domain entry used by configuration front ends.
// It is not authoritative for issuance; CertRequestConfig is.
type DomainOption struct {
	Domain          string `json:"domain"`
	IsPrimaryDomain bool   `json:"is_primary_domain"`
	IsSelected      bool   `json:"is_selected"`
}

// Deployment step kinds understood by the task runner.
const (
	StepKindReapplyBindings   = "reapply-bindings"
	StepKindRunScript         = "run-script"
	StepKindExportCertificate = "export-certificate"
)

// DeploymentStep is one action within a deployment task.
type DeploymentStep struct {
	Kind   string `json:"kind"`
	Target string `json:"target,omitempty"`
}

// DeploymentTask is a named, ordered list of post-issuance steps.
type DeploymentTask struct {
	Name  string           `json:"name"`
	Steps []DeploymentStep `json:"steps"`
}

// ManagedCertificate is the persisted unit of configuration and state for one
// certificate lifecycle.
type ManagedCertificate struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// GroupID and ServerSiteID link the record to the hosted site it serves.
	// They must be equal and numeric; divergence indicates corrupted linkage
	// and is repaired by diagnostics.
	GroupID      string `json:"group_id,omitempty"`
	ServerSiteID string `json:"server_site_id,omitempty"`

	RequestConfig   CertRequestConfig `json:"request_config"`
	DomainOptions   []DomainOption    `json:"domain_options,omitempty"`
	DeploymentTasks []DeploymentTask  `json:"deployment_tasks,omitempty"`

	CertificatePath           string `json:"certificate_path,omitempty"`
	CertificateThumbprintHash string `json:"certificate_thumbprint_hash,omitempty"`

	DateStart   *time.Time `json:"date_start,omitempty"`
	DateExpiry  *time.Time `json:"date_expiry,omitempty"`
	DateRenewed *time.Time `json:"date_renewed,omitempty"`

	IncludeInAutoRenew bool   `json:"include_in_auto_renew"`
	Comments           string `json:"comments,omitempty"`

	// IsChanged is a transient dirty flag, reset on every store load.
	IsChanged bool `json:"-"`
}

// Identifier is the CA-side record of a domain registered for authorization.
type Identifier struct {
	Domain  string    `json:"domain"`
	Alias   string    `json:"alias"`
	Status  string    `json:"status"`
	Expires time.Time `json:"expires"`
}

// AuthorizationChallenge carries the proof material for one challenge.
type AuthorizationChallenge struct {
	Type             string `json:"type"`
	Token            string `json:"token"`
	KeyAuthorization string `json:"key_authorization"`
}

// PendingAuthorization is an in-flight or completed proof of domain ownership.
type PendingAuthorization struct {
	Identifier *Identifier
	Challenge  *AuthorizationChallenge

	// ExtensionlessConfigCheckedOK records whether the automated
	// extensionless-path reachability check succeeded.
	ExtensionlessConfigCheckedOK bool
}

// IsPending reports whether the authorization still needs challenge completion.
func (p *PendingAuthorization) IsPending() bool {
	return p.Identifier != nil && p.Identifier.Status == IdentifierStatusPending
}

// CertificateRequestResult is the outcome of one issuance attempt.
type CertificateRequestResult struct {
	ManagedItem     *ManagedCertificate
	IsSuccess       bool
	Message         string
	CertificatePath string
}

// DeploymentTaskResult is the outcome of one deployment step.
type DeploymentTaskResult struct {
	IsSuccess   bool
	HasError    bool
	Description string
}

// RequestState classifies a progress milestone.
type RequestState int

const (
	RequestStateRunning RequestState = iota
	RequestStateSuccess
	RequestStateError
)

// RequestProgressState is one progress milestone reported during a workflow.
// Delivery is fire-and-forget; a slow or absent receiver never blocks the
// producing workflow.
type RequestProgressState struct {
	IsRunning    bool
	CurrentState RequestState
	Message      string
	Result       *CertificateRequestResult
}

// SiteBindingInfo describes one hostname binding of a hosted site.
type SiteBindingInfo struct {
	SiteID       string `json:"site_id" yaml:"site_id"`
	SiteName     string `json:"site_name" yaml:"site_name"`
	Host         string `json:"host" yaml:"host"`
	IP           string `json:"ip" yaml:"ip"`
	Port         int    `json:"port" yaml:"port"`
	PhysicalPath string `json:"physical_path" yaml:"physical_path"`
	IsRunning    bool   `json:"is_running" yaml:"is_running"`
}

// CertificateIssueResult is the CA provider's answer to a certificate request.
type CertificateIssueResult struct {
	IsSuccess       bool
	CertificatePath string
	ErrorMessage    string
}

// ChallengePublication reports the outcome of publishing a challenge response.
type ChallengePublication struct {
	OK bool

	// ExtensionlessCheckOK is only meaningful when the binding provider was
	// asked to verify the well-known path is reachable.
	ExtensionlessCheckOK bool
}
