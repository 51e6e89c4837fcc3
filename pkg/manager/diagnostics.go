package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/certhost/go-site-cert-manager/pkg/common"
)

// DiagnosticResult is the per-record outcome of a diagnostics run.
type DiagnosticResult struct {
	RecordID   string
	RecordName string

	// Messages describes each finding, in the order detected.
	Messages []string

	// Fixed is set when an auto-fix changed and persisted the record.
	Fixed bool

	// RequiresManualIntervention is set when a finding cannot be repaired
	// automatically, e.g. a record with no recorded certificate thumbprint.
	RequiresManualIntervention bool
}

// RunCertDiagnostics scans every stored record for configuration drift: site
// linkage identifiers that diverged or picked up stray characters, and
// deployment modes that would silently skip binding updates. With autoFix set
// the repairs are persisted and each repaired record's bindings are
// redeployed; without it the findings are reported only.
func (o *Orchestrator) RunCertDiagnostics(ctx context.Context, autoFix, forceAutoDeploy bool) ([]DiagnosticResult, error) {
	o.logger.Importantf("Running managed certificate diagnostics...")

	records, err := o.store.List()
	if err != nil {
		return nil, err
	}

	var results []DiagnosticResult
	var redeployQueue []common.ManagedCertificate

	for i := range records {
		record := &records[i]
		result := DiagnosticResult{RecordID: record.ID, RecordName: record.Name}
		changed := false

		if !linkageConsistent(record) {
			result.Messages = append(result.Messages,
				fmt.Sprintf("Inconsistent site linkage: group_id=%q server_site_id=%q", record.GroupID, record.ServerSiteID))

			if autoFix {
				cleaned := digitsOnly(record.ServerSiteID)
				if cleaned == "" {
					cleaned = digitsOnly(record.GroupID)
				}
				if cleaned != "" {
					record.ServerSiteID = cleaned
					record.GroupID = cleaned
					changed = true
					result.Messages = append(result.Messages,
						fmt.Sprintf("Repaired site linkage: both identifiers set to %q", cleaned))
				} else {
					result.RequiresManualIntervention = true
					result.Messages = append(result.Messages,
						"Site linkage has no numeric identifier to recover. Manual intervention required.")
				}
			}
		}

		// Deployment-mode correction is a repair, so it needs autoFix too;
		// forceAutoDeploy alone never mutates the store.
		if autoFix && forceAutoDeploy && !isAutomaticDeployment(record.RequestConfig.DeploymentSiteOption) {
			record.RequestConfig.DeploymentSiteOption = common.DeploymentOptionAuto
			changed = true
			result.Messages = append(result.Messages,
				"Deployment mode corrected to automatic binding deployment")
		}

		if changed {
			if err := o.store.Upsert(*record); err != nil {
				return results, err
			}
			result.Fixed = true
			redeployQueue = append(redeployQueue, *record)
		}

		results = append(results, result)
	}

	if autoFix {
		if err := o.redeployFixed(ctx, redeployQueue, results); err != nil {
			return results, err
		}
	}

	return results, nil
}

// redeployFixed reapplies bindings for each repaired record, pausing between
// consecutive redeployments. Records without a recorded thumbprint have
// nothing to redeploy and are flagged for manual intervention instead.
func (o *Orchestrator) redeployFixed(ctx context.Context, queue []common.ManagedCertificate, results []DiagnosticResult) error {
	redeployed := false
	for _, record := range queue {
		result := findResult(results, record.ID)

		if record.CertificateThumbprintHash == "" {
			if result != nil {
				result.RequiresManualIntervention = true
				result.Messages = append(result.Messages,
					"No certificate thumbprint recorded, bindings cannot be redeployed. Manual intervention required.")
			}
			continue
		}

		if record.CertificatePath != "" {
			if _, err := LoadCertificateInfo(record.CertificatePath); err != nil {
				if result != nil {
					result.RequiresManualIntervention = true
					result.Messages = append(result.Messages,
						fmt.Sprintf("Stored certificate could not be read (%v). Verify manually before redeploying.", err))
				}
				continue
			}
		}

		if redeployed {
			select {
			case <-time.After(o.redeployPause):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		o.logger.Infof("Redeploying bindings for %s", record.Name)
		if _, err := o.bindings.ReapplyBindings(ctx, record.ID, false); err != nil {
			if result != nil {
				result.Messages = append(result.Messages,
					fmt.Sprintf("Binding redeployment failed: %v", err))
			}
		}
		redeployed = true
	}
	return nil
}

func findResult(results []DiagnosticResult, recordID string) *DiagnosticResult {
	for i := range results {
		if results[i].RecordID == recordID {
			return &results[i]
		}
	}
	return nil
}

// isAutomaticDeployment reports whether the deployment mode applies issued
// certificates to site bindings without operator action.
func isAutomaticDeployment(opt common.DeploymentOption) bool {
	return opt == common.DeploymentOptionAuto || opt == common.DeploymentOptionAllSites
}

// linkageConsistent reports whether the record's site linkage identifiers
// agree and are purely numeric.
func linkageConsistent(record *common.ManagedCertificate) bool {
	return record.GroupID == record.ServerSiteID && isNumeric(record.ServerSiteID)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
