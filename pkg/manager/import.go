package manager

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/certhost/go-site-cert-manager/pkg/common"
)

// ImportResult summarizes one planned or applied import action.
type ImportResult struct {
	RecordName string
	Domains    []string

	// Merged is set when the domains were added as alternative names to an
	// existing record for the same site instead of creating a new one.
	Merged bool
}

// ImportFromSiteBindings builds managed certificate records from the hostname
// bindings of the hosted sites. One record is created per site, with the
// site's first hostname as the primary domain and the rest as alternative
// names. Sites that already have a record get any new hostnames merged in as
// alternative names. Preview mode reports the plan without persisting.
func (o *Orchestrator) ImportFromSiteBindings(ctx context.Context, isPreviewOnly bool) ([]ImportResult, error) {
	bindings, err := o.bindings.ListSiteBindings(ctx, o.settings != nil && o.settings.IgnoreStoppedSites)
	if err != nil {
		return nil, err
	}

	existing, err := o.store.List()
	if err != nil {
		return nil, err
	}
	bySiteID := make(map[string]*common.ManagedCertificate)
	for i := range existing {
		if existing[i].ServerSiteID != "" {
			bySiteID[existing[i].ServerSiteID] = &existing[i]
		}
	}

	sites := groupBindingsBySite(bindings)

	var results []ImportResult
	for _, site := range sites {
		if len(site.hosts) == 0 {
			continue
		}

		if record, ok := bySiteID[site.id]; ok {
			added := mergeDomains(record, site.hosts)
			if len(added) == 0 {
				continue
			}
			results = append(results, ImportResult{RecordName: record.Name, Domains: added, Merged: true})
			if !isPreviewOnly {
				record.IsChanged = true
				if err := o.store.Upsert(*record); err != nil {
					return results, err
				}
			}
			continue
		}

		record := newRecordFromSite(site)
		results = append(results, ImportResult{RecordName: record.Name, Domains: site.hosts})
		if !isPreviewOnly {
			if err := o.store.Upsert(record); err != nil {
				return results, err
			}
		}
	}

	o.logger.Infof("Site binding import: %d record(s) planned", len(results))
	return results, nil
}

type siteGroup struct {
	id    string
	name  string
	root  string
	hosts []string
}

// groupBindingsBySite collects each site's usable hostnames, deduplicated and
// lowercased, preserving binding order. Sites are returned in stable id order.
func groupBindingsBySite(bindings []common.SiteBindingInfo) []siteGroup {
	groups := make(map[string]*siteGroup)
	var order []string

	for _, b := range bindings {
		host := strings.ToLower(strings.TrimSpace(b.Host))
		if host == "" || host == "*" {
			continue
		}

		g, ok := groups[b.SiteID]
		if !ok {
			g = &siteGroup{id: b.SiteID, name: b.SiteName, root: b.PhysicalPath}
			groups[b.SiteID] = g
			order = append(order, b.SiteID)
		}

		duplicate := false
		for _, h := range g.hosts {
			if h == host {
				duplicate = true
				break
			}
		}
		if !duplicate {
			g.hosts = append(g.hosts, host)
		}
	}

	sort.Strings(order)
	result := make([]siteGroup, 0, len(order))
	for _, id := range order {
		result = append(result, *groups[id])
	}
	return result
}

// mergeDomains adds any hostnames not already covered by the record as
// alternative names and returns the ones actually added.
func mergeDomains(record *common.ManagedCertificate, hosts []string) []string {
	covered := make(map[string]struct{})
	for _, d := range record.RequestConfig.DistinctDomains() {
		covered[d] = struct{}{}
	}

	var added []string
	for _, host := range hosts {
		if _, ok := covered[host]; ok {
			continue
		}
		record.RequestConfig.SubjectAlternativeNames = append(record.RequestConfig.SubjectAlternativeNames, host)
		record.DomainOptions = append(record.DomainOptions, common.DomainOption{Domain: host, IsSelected: true})
		covered[host] = struct{}{}
		added = append(added, host)
	}
	return added
}

func newRecordFromSite(site siteGroup) common.ManagedCertificate {
	name := site.name
	if name == "" {
		name = site.hosts[0]
	}

	options := make([]common.DomainOption, len(site.hosts))
	for i, host := range site.hosts {
		options[i] = common.DomainOption{Domain: host, IsPrimaryDomain: i == 0, IsSelected: true}
	}

	return common.ManagedCertificate{
		ID:           uuid.NewString(),
		Name:         name,
		GroupID:      site.id,
		ServerSiteID: site.id,
		RequestConfig: common.CertRequestConfig{
			PrimaryDomain:           site.hosts[0],
			SubjectAlternativeNames: site.hosts[1:],
			ChallengeType:           common.DefaultChallengeType,
			DeploymentSiteOption:    common.DeploymentOptionAuto,
			PerformAutoConfig:       true,
			PerformAutomatedBinding: true,
			WebsiteRootPath:         site.root,
		},
		DomainOptions:      options,
		IncludeInAutoRenew: true,
		IsChanged:          true,
	}
}
