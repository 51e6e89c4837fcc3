package manager

import (
	"context"
	"time"

	"github.com/certhost/go-site-cert-manager/pkg/common"
)

// Skip messages reported for records that were considered but not renewed.
const (
	SkipMessageCertificateOK = "Skipping Renewal, existing certificate still OK."
	SkipMessageSiteStopped   = "Site stopped, renewal skipped as domain validation requires a running site."
)

// IsRenewalDue reports whether the record's last renewal is old enough for a
// new attempt. Records that have never been renewed are treated as 30 days
// old, so they are due under any threshold up to 30 days. A zero threshold
// means renew on every run.
func IsRenewalDue(record *common.ManagedCertificate, threshold time.Duration, now time.Time) bool {
	lastRenewed := now.Add(-NeverRenewedAssumedAge)
	if record.DateRenewed != nil {
		lastRenewed = *record.DateRenewed
	}
	return now.Sub(lastRenewed) >= threshold
}

// RenewAll walks every stored record and renews the ones that are due.
// Renewals run strictly one at a time: the CA provider's authorization state
// and the issued-artifact files do not tolerate concurrent access. The
// returned slice has one result per attempted renewal, in store order;
// skipped records produce a log line and a progress report but no result
// entry.
func (o *Orchestrator) RenewAll(ctx context.Context, progress chan<- common.RequestProgressState) ([]common.CertificateRequestResult, error) {
	o.logger.Importantf("Checking for renewal-due certificates...")

	records, err := o.store.List()
	if err != nil {
		return nil, err
	}

	threshold := o.settings.RenewalThreshold()
	now := time.Now()

	var results []common.CertificateRequestResult
	for i := range records {
		record := records[i]

		if !record.IncludeInAutoRenew {
			continue
		}
		if len(record.RequestConfig.DistinctDomains()) == 0 {
			continue
		}

		if !IsRenewalDue(&record, threshold, now) {
			o.logger.Infof("%s: %s", record.Name, SkipMessageCertificateOK)
			reportProgress(progress, common.RequestProgressState{CurrentState: common.RequestStateSuccess, Message: record.Name + ": " + SkipMessageCertificateOK})
			continue
		}

		if o.settings.IgnoreStoppedSites && !o.bindings.IsSiteRunning(ctx, record.ID) {
			o.logger.Warnf("%s: %s", record.Name, SkipMessageSiteStopped)
			reportProgress(progress, common.RequestProgressState{CurrentState: common.RequestStateSuccess, Message: record.Name + ": " + SkipMessageSiteStopped})
			continue
		}

		if err := ctx.Err(); err != nil {
			return results, err
		}

		o.logger.Importantf("Renewing certificate: %s", record.Name)
		result := o.PerformCertificateRequest(ctx, record, progress)
		results = append(results, result)
	}

	o.logger.Importantf("Renewal run complete: %d certificate(s) processed", len(results))
	return results, nil
}
