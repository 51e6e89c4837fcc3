package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/certhost/go-site-cert-manager/pkg/common"
)

// sitesDocument is the on-disk inventory of hosted sites and their hostname
// bindings, maintained by the operator or a provisioning system.
type sitesDocument struct {
	Sites []common.SiteBindingInfo `yaml:"sites"`
}

// bindingState records which certificate was last applied to a site's
// bindings, so redeployment can tell a no-op from a real update.
type bindingState struct {
	RecordID   string    `json:"record_id"`
	Thumbprint string    `json:"thumbprint"`
	AppliedAt  time.Time `json:"applied_at"`
}

// SiteBindingProvider is the production binding provider for webroot-served
// sites: challenge responses are published as files under the site's
// document root, issued certificates are installed into a trust store
// directory, and binding state is tracked per record.
type SiteBindingProvider struct {
	settings   *Settings
	store      *Store
	logger     common.LoggerInterface
	httpClient common.HTTPClientInterface
}

// NewSiteBindingProvider wires the provider. The store is consulted for
// record lookups during binding operations.
func NewSiteBindingProvider(settings *Settings, store *Store, logger common.LoggerInterface, httpClient common.HTTPClientInterface) *SiteBindingProvider {
	if logger == nil {
		logger = DefaultLogger
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: settings.HTTPTimeout}
	}
	return &SiteBindingProvider{
		settings:   settings,
		store:      store,
		logger:     logger,
		httpClient: httpClient,
	}
}

// PublishChallengeResponse writes the challenge answer under the site's
// webroot. With checkReachable set it also publishes an extensionless
// "configcheck" file and verifies the server actually serves it over plain
// HTTP; servers that map responses by file extension typically fail this.
func (b *SiteBindingProvider) PublishChallengeResponse(ctx context.Context, config common.CertRequestConfig, domain, token, keyAuth string, checkReachable bool) (common.ChallengePublication, error) {
	webrootPath := config.WebsiteRootPath
	if webrootPath == "" {
		return common.ChallengePublication{}, common.NewConfigError("publish challenge response",
			"No website root path configured").WithResource(domain)
	}

	challengeDir := filepath.Join(webrootPath, filepath.FromSlash(WellKnownChallengePath))
	if err := os.MkdirAll(challengeDir, DirPermissions); err != nil {
		return common.ChallengePublication{}, common.WrapError(err, common.ErrorTypeInstallation,
			"publish challenge response", "Failed to create challenge directory").WithResource(challengeDir)
	}

	tokenFile := filepath.Join(challengeDir, token)
	if err := os.WriteFile(tokenFile, []byte(keyAuth), CertificatePermissions); err != nil {
		return common.ChallengePublication{}, common.WrapError(err, common.ErrorTypeInstallation,
			"publish challenge response", "Failed to write challenge response file").WithResource(tokenFile)
	}

	pub := common.ChallengePublication{OK: true}

	if checkReachable {
		checkFile := filepath.Join(challengeDir, "configcheck")
		if err := os.WriteFile(checkFile, []byte("OK"), CertificatePermissions); err != nil {
			return pub, common.WrapError(err, common.ErrorTypeInstallation,
				"publish challenge response", "Failed to write configuration check file").WithResource(checkFile)
		}
		pub.ExtensionlessCheckOK = b.probeConfigCheck(ctx, domain)
	}

	return pub, nil
}

// probeConfigCheck fetches the extensionless configcheck path the same way
// the CA would fetch the challenge response.
func (b *SiteBindingProvider) probeConfigCheck(ctx context.Context, domain string) bool {
	checkURL := fmt.Sprintf("http://%s/%s/configcheck", domain, WellKnownChallengePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
	if err != nil {
		return false
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.logger.Debugf("Configuration check request failed for %s: %v", domain, err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// InstallCertificate copies the issued artifact set into the trust store.
// Files are named <domain>-<timestamp> so concurrent generations can coexist;
// cleanupOldCerts removes superseded generations for the same domain.
func (b *SiteBindingProvider) InstallCertificate(ctx context.Context, artifactPath string, config common.CertRequestConfig, cleanupOldCerts bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(b.settings.TrustStorePath, DirPermissions); err != nil {
		return common.WrapError(err, common.ErrorTypeInstallation, "install certificate",
			"Failed to create trust store directory").WithResource(b.settings.TrustStorePath)
	}

	stamp := time.Now().UTC().Format("20060102T150405")
	prefix := config.PrimaryDomain + "-"

	installed, err := b.copyArtifact(artifactPath, prefix+stamp+".crt", CertificatePermissions)
	if err != nil {
		return err
	}

	// The private key sits next to the certificate artifact.
	keyPath := strings.TrimSuffix(artifactPath, ".crt") + ".key"
	if _, err := os.Stat(keyPath); err == nil {
		if _, err := b.copyArtifact(keyPath, prefix+stamp+".key", PrivateKeyPermissions); err != nil {
			return err
		}
	}

	b.logger.Infof("Installed certificate into trust store: %s", installed)

	if cleanupOldCerts {
		b.cleanupSuperseded(prefix, stamp)
	}
	return nil
}

func (b *SiteBindingProvider) copyArtifact(src, destName string, perm os.FileMode) (string, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return "", common.WrapError(err, common.ErrorTypeInstallation, "install certificate",
			"Failed to read issued artifact").WithResource(src)
	}
	dest := filepath.Join(b.settings.TrustStorePath, destName)
	if err := os.WriteFile(dest, data, perm); err != nil {
		return "", common.WrapError(err, common.ErrorTypeInstallation, "install certificate",
			"Failed to write trust store file").WithResource(dest)
	}
	return dest, nil
}

// cleanupSuperseded removes older trust store generations for the same
// domain prefix. Failures are logged, not propagated: a leftover old file
// never fails a successful installation.
func (b *SiteBindingProvider) cleanupSuperseded(prefix, currentStamp string) {
	entries, err := os.ReadDir(b.settings.TrustStorePath)
	if err != nil {
		b.logger.Warnf("Failed to scan trust store for cleanup: %v", err)
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || strings.Contains(name, currentStamp) {
			continue
		}
		if err := os.Remove(filepath.Join(b.settings.TrustStorePath, name)); err != nil {
			b.logger.Warnf("Failed to remove superseded trust store file %s: %v", name, err)
		} else {
			b.logger.Debugf("Removed superseded trust store file %s", name)
		}
	}
}

// ReapplyBindings compares the record's current certificate thumbprint with
// the last applied binding state and rewrites the state when they differ.
// Preview mode reports whether an update would happen without applying it.
func (b *SiteBindingProvider) ReapplyBindings(ctx context.Context, recordID string, isPreviewOnly bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	record, err := b.store.Get(recordID)
	if err != nil {
		return false, err
	}

	stateFile := filepath.Join(b.settings.DataPath, "bindings", recordID+".json")

	var current bindingState
	if data, err := os.ReadFile(stateFile); err == nil {
		if err := json.Unmarshal(data, &current); err != nil {
			b.logger.Warnf("Binding state for %s is unreadable, treating as unbound: %v", record.Name, err)
		}
	}

	if current.Thumbprint == record.CertificateThumbprintHash && current.Thumbprint != "" {
		return false, nil
	}

	if isPreviewOnly {
		return true, nil
	}

	next := bindingState{
		RecordID:   recordID,
		Thumbprint: record.CertificateThumbprintHash,
		AppliedAt:  time.Now().UTC(),
	}
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return false, common.WrapError(err, common.ErrorTypeInstallation, "reapply bindings",
			"Failed to serialize binding state").WithResource(record.Name)
	}
	if err := os.MkdirAll(filepath.Dir(stateFile), DirPermissions); err != nil {
		return false, common.WrapError(err, common.ErrorTypeInstallation, "reapply bindings",
			"Failed to create binding state directory").WithResource(filepath.Dir(stateFile))
	}
	if err := os.WriteFile(stateFile, data, PrivateKeyPermissions); err != nil {
		return false, common.WrapError(err, common.ErrorTypeInstallation, "reapply bindings",
			"Failed to write binding state").WithResource(stateFile)
	}

	b.logger.Infof("Applied certificate %s to bindings of %s", record.CertificateThumbprintHash, record.Name)
	return true, nil
}

// ListSiteBindings reads the site inventory document. With ignoreStopped set,
// bindings of stopped sites are omitted.
func (b *SiteBindingProvider) ListSiteBindings(ctx context.Context, ignoreStopped bool) ([]common.SiteBindingInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if b.settings.SitesConfigPath == "" {
		return nil, common.NewConfigError("list site bindings",
			"No site inventory configured; set sites_config_path in settings")
	}

	data, err := os.ReadFile(b.settings.SitesConfigPath)
	if err != nil {
		return nil, common.WrapError(err, common.ErrorTypeConfig, "list site bindings",
			"Failed to read site inventory").WithResource(b.settings.SitesConfigPath)
	}

	var doc sitesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, common.WrapError(err, common.ErrorTypeConfig, "list site bindings",
			"Site inventory is not valid YAML").WithResource(b.settings.SitesConfigPath)
	}

	if !ignoreStopped {
		return doc.Sites, nil
	}
	var running []common.SiteBindingInfo
	for _, s := range doc.Sites {
		if s.IsRunning {
			running = append(running, s)
		}
	}
	return running, nil
}

// IsSiteRunning reports whether the site linked to the record has any running
// binding. Records without a resolvable site are assumed running so that a
// missing inventory never silently suppresses renewals.
func (b *SiteBindingProvider) IsSiteRunning(ctx context.Context, recordID string) bool {
	record, err := b.store.Get(recordID)
	if err != nil {
		return true
	}
	if record.ServerSiteID == "" {
		return true
	}

	sites, err := b.ListSiteBindings(ctx, false)
	if err != nil {
		return true
	}

	found := false
	for _, s := range sites {
		if s.SiteID == record.ServerSiteID {
			found = true
			if s.IsRunning {
				return true
			}
		}
	}
	return !found
}

var _ common.BindingProvider = (*SiteBindingProvider)(nil)
