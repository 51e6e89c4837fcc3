package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/certhost/go-site-cert-manager/pkg/common"
)

// Orchestrator drives the managed-certificate lifecycle: domain authorization,
// issuance, installation, deployment tasks, scheduled renewal, and
// diagnostics. All record mutations flow back through the Store.
//
// The CA provider's local authorization state does not tolerate concurrent
// operations, so workflows must not run in parallel; the renewal scheduler
// serializes them end-to-end.
type Orchestrator struct {
	store    *Store
	ca       common.CAProvider
	bindings common.BindingProvider
	settings *Settings
	logger   common.LoggerInterface

	// redeployPause spaces out binding redeployments during diagnostics so
	// the host is not hammered with consecutive binding updates.
	redeployPause time.Duration
}

// NewOrchestrator wires the engine together. The settings structure is passed
// explicitly; nothing is read from ambient process-wide state.
func NewOrchestrator(store *Store, ca common.CAProvider, bindings common.BindingProvider, settings *Settings, logger common.LoggerInterface) *Orchestrator {
	if logger == nil {
		logger = DefaultLogger
	}
	return &Orchestrator{
		store:         store,
		ca:            ca,
		bindings:      bindings,
		settings:      settings,
		logger:        logger,
		redeployPause: DiagnosticsRedeployPause,
	}
}

// Store exposes the record store for callers that manage records directly.
func (o *Orchestrator) Store() *Store {
	return o.store
}

// reportProgress delivers a milestone to the optional progress channel.
// Delivery is fire-and-forget: a slow or absent receiver never blocks the
// workflow.
func reportProgress(progress chan<- common.RequestProgressState, state common.RequestProgressState) {
	if progress == nil {
		return
	}
	select {
	case progress <- state:
	default:
	}
}

// PerformCertificateRequest runs the full authorization, issuance, and
// installation workflow for one managed certificate. The returned result is
// never nil; failures are reported in the result rather than as an error so
// batch callers can continue with subsequent records.
func (o *Orchestrator) PerformCertificateRequest(ctx context.Context, managed common.ManagedCertificate, progress chan<- common.RequestProgressState) common.CertificateRequestResult {
	o.logger.Infof("Beginning certificate request process: %s", managed.Name)

	config := managed.RequestConfig
	if config.ChallengeType == "" {
		config.ChallengeType = common.DefaultChallengeType
	}

	distinctDomains := config.DistinctDomains()
	if len(distinctDomains) == 0 {
		result := common.CertificateRequestResult{
			ManagedItem: &managed,
			IsSuccess:   false,
			Message:     "No domains configured for this managed certificate.",
		}
		reportProgress(progress, common.RequestProgressState{CurrentState: common.RequestStateError, Message: result.Message, Result: &result})
		return result
	}

	reportProgress(progress, common.RequestProgressState{IsRunning: true, CurrentState: common.RequestStateRunning, Message: "Registering domain identifiers"})

	satisfied, fatal := o.authorizeDomains(ctx, managed, config, distinctDomains, progress)
	if fatal != nil {
		return *fatal
	}

	// No partial-SAN issuance: every distinct domain must be authorized.
	if len(satisfied) != len(distinctDomains) {
		result := common.CertificateRequestResult{
			ManagedItem: &managed,
			IsSuccess:   false,
			Message: "Validation of the required challenges did not complete successfully. " +
				"Please ensure all domains to be referenced in the certificate can be used to access this site without redirection.",
		}
		reportProgress(progress, common.RequestProgressState{CurrentState: common.RequestStateError, Message: result.Message, Result: &result})
		return result
	}

	return o.issueAndInstall(ctx, managed, config, satisfied, progress)
}

// authorizeDomains proves ownership of each distinct domain independently.
// Per-domain validation failures are non-fatal to sibling domains; a failed
// automated configuration pre-check is fatal for the whole certificate and is
// returned as a non-nil result.
func (o *Orchestrator) authorizeDomains(ctx context.Context, managed common.ManagedCertificate, config common.CertRequestConfig, domains []string, progress chan<- common.RequestProgressState) ([]*common.PendingAuthorization, *common.CertificateRequestResult) {
	var satisfied []*common.PendingAuthorization

	for _, domain := range domains {
		o.logger.Infof("Attempting domain validation: %s", domain)
		reportProgress(progress, common.RequestProgressState{CurrentState: common.RequestStateRunning, Message: "Registering and validating " + domain})

		// Identifier reuse is an explicit opt-in policy, default off.
		if o.settings != nil && o.settings.EnableIdentifierReuse {
			if existing := o.reusableIdentifier(ctx, domain); existing != nil {
				if existing.Status == common.IdentifierStatusValid {
					o.logger.Debugf("Reusing existing valid non-expired identifier for %s", domain)
					satisfied = append(satisfied, &common.PendingAuthorization{Identifier: existing})
					continue
				}
				// A reusable pending identifier still goes through the normal
				// challenge flow below.
			}
		}

		auth, err := o.ca.BeginAuthorization(ctx, config, domain, config.ChallengeType)
		if err != nil {
			o.logger.Warnf("Authorization could not be started for %s: %v", domain, err)
			reportProgress(progress, common.RequestProgressState{CurrentState: common.RequestStateError, Message: "Domain validation failed: " + domain})
			continue
		}

		if auth == nil || auth.Identifier == nil {
			o.logger.Warnf("CA returned no identifier for %s", domain)
			continue
		}

		if !auth.IsPending() {
			if auth.Identifier.Status == common.IdentifierStatusValid {
				// Already authorized on the CA side, no challenge needed.
				satisfied = append(satisfied, &common.PendingAuthorization{Identifier: auth.Identifier})
			}
			continue
		}

		reportProgress(progress, common.RequestProgressState{CurrentState: common.RequestStateRunning, Message: "Performing challenge response for " + domain})

		pub, pubErr := o.bindings.PublishChallengeResponse(ctx, config, domain, auth.Challenge.Token, auth.Challenge.KeyAuthorization, config.PerformAutoConfig)
		auth.ExtensionlessConfigCheckedOK = pub.ExtensionlessCheckOK

		if config.PerformAutoConfig && (pubErr != nil || !pub.ExtensionlessCheckOK) {
			// Failed prerequisite configuration: the server cannot serve the
			// well-known path, so no domain of this certificate can validate.
			o.logger.Errorf("Failed prerequisite configuration for %s", managed.Name)
			result := common.CertificateRequestResult{
				ManagedItem: &managed,
				IsSuccess:   false,
				Message: "Automated configuration checks failed. Authorizations will not be able to complete.\n" +
					"Check you have http bindings for your site and ensure you can browse to http://" + domain +
					"/" + WellKnownChallengePath + "/configcheck before proceeding.",
			}
			reportProgress(progress, common.RequestProgressState{CurrentState: common.RequestStateError, Message: result.Message, Result: &result})
			return satisfied, &result
		}

		if pubErr != nil || !pub.OK {
			o.logger.Warnf("Challenge response could not be published for %s: %v", domain, pubErr)
			reportProgress(progress, common.RequestProgressState{CurrentState: common.RequestStateError, Message: "Domain validation failed: " + domain})
			continue
		}

		reportProgress(progress, common.RequestProgressState{CurrentState: common.RequestStateRunning, Message: "Requesting validation from the certificate authority: " + domain})

		if err := o.ca.SubmitChallenge(ctx, auth.Identifier.Alias, config.ChallengeType); err != nil {
			o.logger.Warnf("Challenge submission failed for %s: %v", domain, err)
			reportProgress(progress, common.RequestProgressState{CurrentState: common.RequestStateError, Message: "Domain validation failed: " + domain})
			continue
		}

		validated, err := o.ca.PollValidation(ctx, auth.Identifier.Alias)
		if err != nil || !validated {
			o.logger.Warnf("Domain validation failed: %s", domain)
			reportProgress(progress, common.RequestProgressState{CurrentState: common.RequestStateError, Message: "Domain validation failed: " + domain})
			continue
		}

		reportProgress(progress, common.RequestProgressState{CurrentState: common.RequestStateRunning, Message: "Domain validation completed: " + domain})
		satisfied = append(satisfied, auth)
	}

	return satisfied, nil
}

// reusableIdentifier returns an existing identifier for the domain when its
// CA-side status is valid or pending and it does not expire within the reuse
// window. Anything closer to expiry is never reused, regardless of status.
func (o *Orchestrator) reusableIdentifier(ctx context.Context, domain string) *common.Identifier {
	existing, err := o.ca.GetIdentifier(ctx, domain)
	if err != nil || existing == nil {
		return nil
	}
	if existing.Status != common.IdentifierStatusValid && existing.Status != common.IdentifierStatusPending {
		return nil
	}
	if !existing.Expires.After(time.Now().Add(IdentifierReuseWindow)) {
		return nil
	}
	return existing
}

// issueAndInstall requests the certificate for the satisfied authorizations,
// installs it, and records the outcome on the managed record.
func (o *Orchestrator) issueAndInstall(ctx context.Context, managed common.ManagedCertificate, config common.CertRequestConfig, satisfied []*common.PendingAuthorization, progress chan<- common.RequestProgressState) common.CertificateRequestResult {
	primaryAlias, altAliases := selectIssuanceIdentifiers(config.PrimaryDomain, satisfied)

	reportProgress(progress, common.RequestProgressState{CurrentState: common.RequestStateRunning, Message: "Requesting certificate from the certificate authority"})

	issue, err := o.ca.RequestCertificate(ctx, primaryAlias, altAliases)
	if err != nil {
		issue = common.CertificateIssueResult{IsSuccess: false, ErrorMessage: err.Error()}
	}
	if !issue.IsSuccess {
		result := common.CertificateRequestResult{
			ManagedItem: &managed,
			IsSuccess:   false,
			Message:     "The certificate authority did not issue a valid certificate in the time allowed. " + issue.ErrorMessage,
		}
		reportProgress(progress, common.RequestProgressState{CurrentState: common.RequestStateError, Message: result.Message, Result: &result})
		return result
	}

	artifactPath := issue.CertificatePath
	reportProgress(progress, common.RequestProgressState{CurrentState: common.RequestStateSuccess, Message: "Completed certificate request"})

	if config.PerformAutomatedBinding {
		reportProgress(progress, common.RequestProgressState{CurrentState: common.RequestStateRunning, Message: "Performing automated certificate binding"})

		if err := o.bindings.InstallCertificate(ctx, artifactPath, config, true); err != nil {
			// The issued artifact stays on disk for manual binding; nothing is
			// rolled back.
			result := common.CertificateRequestResult{
				ManagedItem:     &managed,
				IsSuccess:       false,
				Message:         "An error occurred installing the certificate. The issued artifact remains at: " + artifactPath,
				CertificatePath: artifactPath,
			}
			reportProgress(progress, common.RequestProgressState{CurrentState: common.RequestStateError, Message: result.Message, Result: &result})
			return result
		}

		o.recordIssuance(&managed, artifactPath)
		o.logger.Infof("Completed certificate request and automated binding update for %s", managed.Name)

		result := common.CertificateRequestResult{
			ManagedItem:     &managed,
			IsSuccess:       true,
			Message:         "Certificate installed and bindings updated for " + config.PrimaryDomain,
			CertificatePath: artifactPath,
		}
		reportProgress(progress, common.RequestProgressState{CurrentState: common.RequestStateSuccess, Message: result.Message, Result: &result})
		return result
	}

	// Operator opted for manual binding of the certificate.
	o.recordIssuance(&managed, artifactPath)

	result := common.CertificateRequestResult{
		ManagedItem:     &managed,
		IsSuccess:       true,
		Message:         "Certificate created ready for manual binding: " + artifactPath,
		CertificatePath: artifactPath,
	}
	reportProgress(progress, common.RequestProgressState{CurrentState: common.RequestStateSuccess, Message: result.Message, Result: &result})
	return result
}

// selectIssuanceIdentifiers chooses the identifier that becomes the issuance
// primary. The configured primary domain keeps its identity whenever it is
// among the satisfied set, regardless of validation order; the alternatives
// are every other satisfied domain.
func selectIssuanceIdentifiers(primaryDomain string, satisfied []*common.PendingAuthorization) (primaryAlias string, altAliases []string) {
	primaryIdx := 0
	for i, auth := range satisfied {
		if auth.Identifier.Domain == primaryDomain {
			primaryIdx = i
			break
		}
	}

	primaryAlias = satisfied[primaryIdx].Identifier.Alias
	for i, auth := range satisfied {
		if i != primaryIdx {
			altAliases = append(altAliases, auth.Identifier.Alias)
		}
	}
	return primaryAlias, altAliases
}

// recordIssuance stores the artifact reference and validity window on the
// record and persists it. Date extraction is best-effort: a parse failure
// logs a warning and leaves the dates unset, but issuance stays successful.
func (o *Orchestrator) recordIssuance(managed *common.ManagedCertificate, artifactPath string) {
	managed.CertificatePath = artifactPath

	if info, err := LoadCertificateInfo(artifactPath); err != nil {
		o.logger.Warnf("Failed to parse certificate dates for %s: %v", managed.Name, err)
	} else {
		notBefore := info.NotBefore
		notAfter := info.NotAfter
		now := time.Now()
		managed.DateStart = &notBefore
		managed.DateExpiry = &notAfter
		managed.DateRenewed = &now
		managed.CertificateThumbprintHash = info.Thumbprint
	}

	if err := o.store.Upsert(*managed); err != nil {
		o.logger.Errorf("Failed to persist managed certificate %s: %v", managed.Name, err)
	}
}

// RequestByID looks up one record and runs the workflow for it.
func (o *Orchestrator) RequestByID(ctx context.Context, id string, progress chan<- common.RequestProgressState) (common.CertificateRequestResult, error) {
	record, err := o.store.Get(id)
	if err != nil {
		return common.CertificateRequestResult{}, err
	}
	return o.PerformCertificateRequest(ctx, *record, progress), nil
}

// findSingleByName resolves a display name to exactly one record. Zero and
// multiple matches produce distinct lookup errors.
func (o *Orchestrator) findSingleByName(name string) (*common.ManagedCertificate, error) {
	matches, err := o.store.FindByName(name)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 1:
		rec := matches[0]
		return &rec, nil
	case 0:
		return nil, common.NewLookupError("select managed certificate",
			fmt.Sprintf("Managed certificate name %q has no matches.", name))
	default:
		return nil, common.NewLookupError("select managed certificate",
			fmt.Sprintf("Managed certificate name %q matched more than one item.", name))
	}
}
