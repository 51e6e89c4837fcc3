package manager

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/providers/http/webroot"
	"github.com/go-acme/lego/v4/registration"
	"github.com/google/uuid"

	"github.com/certhost/go-site-cert-manager/pkg/common"
)

// pendingAuthorizationLifetime is how long a not-yet-validated identifier
// remains usable before a fresh authorization round is required.
const pendingAuthorizationLifetime = 7 * 24 * time.Hour

// validAuthorizationLifetime mirrors the CA-side reuse window for completed
// authorizations.
const validAuthorizationLifetime = 30 * 24 * time.Hour

// acmeUser implements registration.User for the lego client.
type acmeUser struct {
	Email        string
	Registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.Email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.Registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// identifierState tracks one registered domain through its authorization
// round: the identifier record, its challenge material, and where the
// challenge response gets published.
type identifierState struct {
	identifier *common.Identifier
	challenge  *common.AuthorizationChallenge
	webroot    string
	submitted  bool
}

// LegoCAProvider is the production CA provider, backed by an ACME directory
// via the lego client. It keeps a local registry of domain identifiers so the
// orchestration workflow can rehearse each domain's challenge and detect
// misconfigured sites before the CA is asked to validate anything; the
// authoritative validation happens inside the certificate order itself.
//
// The registry is not safe for concurrent mutation. Workflows are serialized
// by the orchestrator.
type LegoCAProvider struct {
	settings   *Settings
	logger     common.LoggerInterface
	httpClient common.HTTPClientInterface

	identifiers map[string]*identifierState // keyed by domain
	byAlias     map[string]*identifierState
}

// NewLegoCAProvider creates the provider. The HTTP client is used only for
// the local challenge rehearsal; lego manages its own transport.
func NewLegoCAProvider(settings *Settings, logger common.LoggerInterface, httpClient common.HTTPClientInterface) *LegoCAProvider {
	if logger == nil {
		logger = DefaultLogger
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: settings.HTTPTimeout}
	}
	return &LegoCAProvider{
		settings:    settings,
		logger:      logger,
		httpClient:  httpClient,
		identifiers: make(map[string]*identifierState),
		byAlias:     make(map[string]*identifierState),
	}
}

// RegisterIdentifier registers a domain in the local registry. Registering an
// already-known domain returns the existing identifier unchanged.
func (p *LegoCAProvider) RegisterIdentifier(ctx context.Context, domain string) (*common.Identifier, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if state, ok := p.identifiers[domain]; ok {
		return state.identifier, nil
	}

	ident := &common.Identifier{
		Domain:  domain,
		Alias:   "ident-" + uuid.NewString()[:8],
		Status:  common.IdentifierStatusPending,
		Expires: time.Now().Add(pendingAuthorizationLifetime),
	}
	state := &identifierState{identifier: ident}
	p.identifiers[domain] = state
	p.byAlias[ident.Alias] = state
	return ident, nil
}

// GetIdentifier returns the registered identifier for a domain, or nil.
func (p *LegoCAProvider) GetIdentifier(ctx context.Context, domain string) (*common.Identifier, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if state, ok := p.identifiers[domain]; ok {
		return state.identifier, nil
	}
	return nil, nil
}

// BeginAuthorization registers the identifier and issues fresh challenge
// material for it. Only http-01 is supported.
func (p *LegoCAProvider) BeginAuthorization(ctx context.Context, config common.CertRequestConfig, domain, challengeType string) (*common.PendingAuthorization, error) {
	if challengeType != common.DefaultChallengeType {
		return nil, common.NewConfigError("begin authorization",
			fmt.Sprintf("Unsupported challenge type %q", challengeType)).WithResource(domain)
	}

	ident, err := p.RegisterIdentifier(ctx, domain)
	if err != nil {
		return nil, err
	}
	state := p.identifiers[domain]

	if ident.Status == common.IdentifierStatusValid {
		return &common.PendingAuthorization{Identifier: ident}, nil
	}

	token := uuid.NewString()
	state.challenge = &common.AuthorizationChallenge{
		Type:             challengeType,
		Token:            token,
		KeyAuthorization: token + "." + uuid.NewString(),
	}
	state.webroot = config.WebsiteRootPath
	state.submitted = false
	ident.Status = common.IdentifierStatusPending
	ident.Expires = time.Now().Add(pendingAuthorizationLifetime)

	return &common.PendingAuthorization{Identifier: ident, Challenge: state.challenge}, nil
}

// SubmitChallenge marks the identifier's challenge as answered so validation
// can proceed.
func (p *LegoCAProvider) SubmitChallenge(ctx context.Context, identifierAlias, challengeType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state, ok := p.byAlias[identifierAlias]
	if !ok {
		return common.NewLookupError("submit challenge",
			fmt.Sprintf("Unknown identifier alias %q", identifierAlias))
	}
	if state.challenge == nil {
		return common.NewValidationError("submit challenge",
			"No challenge has been started for this identifier").WithResource(state.identifier.Domain)
	}
	state.submitted = true
	return nil
}

// PollValidation rehearses the http-01 challenge locally: it fetches the
// published challenge response over plain HTTP the way the CA would and
// checks the body. A domain that fails here would also fail the real
// CA-driven validation during the certificate order.
func (p *LegoCAProvider) PollValidation(ctx context.Context, identifierAlias string) (bool, error) {
	state, ok := p.byAlias[identifierAlias]
	if !ok {
		return false, common.NewLookupError("poll validation",
			fmt.Sprintf("Unknown identifier alias %q", identifierAlias))
	}
	if !state.submitted || state.challenge == nil {
		return false, common.NewValidationError("poll validation",
			"Challenge has not been submitted").WithResource(state.identifier.Domain)
	}

	challengeURL := fmt.Sprintf("http://%s/%s/%s", state.identifier.Domain, WellKnownChallengePath, state.challenge.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, challengeURL, nil)
	if err != nil {
		return false, common.WrapError(err, common.ErrorTypeNetwork, "poll validation",
			"Failed to build challenge rehearsal request").WithResource(state.identifier.Domain)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Debugf("Challenge rehearsal request failed for %s: %v", state.identifier.Domain, err)
		p.markInvalid(state)
		return false, nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || resp.StatusCode != http.StatusOK {
		p.logger.Debugf("Challenge rehearsal returned status %d for %s", resp.StatusCode, state.identifier.Domain)
		p.markInvalid(state)
		return false, nil
	}

	if strings.TrimSpace(string(body)) != state.challenge.KeyAuthorization {
		p.logger.Debugf("Challenge rehearsal body mismatch for %s", state.identifier.Domain)
		p.markInvalid(state)
		return false, nil
	}

	state.identifier.Status = common.IdentifierStatusValid
	state.identifier.Expires = time.Now().Add(validAuthorizationLifetime)
	return true, nil
}

func (p *LegoCAProvider) markInvalid(state *identifierState) {
	state.identifier.Status = common.IdentifierStatusInvalid
}

// RequestCertificate orders the certificate from the ACME directory. The
// primary identifier's domain becomes the certificate subject; the real
// http-01 validation runs inside the order using the site webroot recorded
// for the primary identifier.
func (p *LegoCAProvider) RequestCertificate(ctx context.Context, primaryAlias string, altAliases []string) (common.CertificateIssueResult, error) {
	primary, ok := p.byAlias[primaryAlias]
	if !ok {
		return common.CertificateIssueResult{}, common.NewLookupError("request certificate",
			fmt.Sprintf("Unknown identifier alias %q", primaryAlias))
	}

	domains := []string{primary.identifier.Domain}
	for _, alias := range altAliases {
		alt, ok := p.byAlias[alias]
		if !ok {
			return common.CertificateIssueResult{}, common.NewLookupError("request certificate",
				fmt.Sprintf("Unknown identifier alias %q", alias))
		}
		domains = append(domains, alt.identifier.Domain)
	}

	if err := ctx.Err(); err != nil {
		return common.CertificateIssueResult{}, err
	}

	client, err := p.newClient(primary.webroot)
	if err != nil {
		return common.CertificateIssueResult{IsSuccess: false, ErrorMessage: err.Error()}, nil
	}

	p.logger.Infof("Requesting certificate for domains: %v", domains)
	resource, err := client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: domains,
		Bundle:  true,
	})
	if err != nil {
		return common.CertificateIssueResult{IsSuccess: false,
			ErrorMessage: fmt.Sprintf("certificate order failed: %v", err)}, nil
	}

	certPath, err := p.saveArtifacts(primary.identifier.Domain, resource)
	if err != nil {
		return common.CertificateIssueResult{IsSuccess: false, ErrorMessage: err.Error()}, nil
	}

	return common.CertificateIssueResult{IsSuccess: true, CertificatePath: certPath}, nil
}

// newClient builds a lego client with the account loaded or registered and
// the http-01 webroot solver configured. Other challenge types are disabled.
func (p *LegoCAProvider) newClient(webrootPath string) (*lego.Client, error) {
	user, err := p.loadOrCreateUser()
	if err != nil {
		return nil, fmt.Errorf("failed to create/load ACME account: %w", err)
	}

	legoConfig := lego.NewConfig(user)
	legoConfig.CADirURL = p.settings.ACME.DirectoryURL
	legoConfig.Certificate.KeyType = mapKeyType(p.settings.ACME.KeyType)
	legoConfig.Certificate.Timeout = p.settings.ChallengeTimeout
	if legoConfig.HTTPClient == nil {
		legoConfig.HTTPClient = &http.Client{}
	}
	legoConfig.HTTPClient.Timeout = p.settings.HTTPTimeout

	client, err := lego.NewClient(legoConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create ACME client: %w", err)
	}

	client.Challenge.Remove(challenge.TLSALPN01)
	client.Challenge.Remove(challenge.DNS01)

	if webrootPath == "" {
		webrootPath = "."
	}
	provider, err := webroot.NewHTTPProvider(webrootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create webroot challenge provider: %w", err)
	}
	if err := client.Challenge.SetHTTP01Provider(provider); err != nil {
		return nil, fmt.Errorf("failed to set HTTP01 provider: %w", err)
	}

	if user.Registration == nil {
		p.logger.Info("No existing ACME registration found. Registering...")
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, fmt.Errorf("ACME registration failed: %w", err)
		}
		user.Registration = reg
		if err := p.saveUser(user); err != nil {
			p.logger.Warnf("Failed to save ACME registration details: %v", err)
		}
	}

	return client, nil
}

func mapKeyType(keyType string) certcrypto.KeyType {
	switch keyType {
	case "rsa2048":
		return certcrypto.RSA2048
	case "rsa3072":
		return certcrypto.RSA3072
	case "rsa4096":
		return certcrypto.RSA4096
	case "ec384":
		return certcrypto.EC384
	default:
		return certcrypto.EC256
	}
}

// accountPaths resolves the lego-style account layout under the data path:
// accounts/<acme-host>/account.json plus a per-email key directory.
func (p *LegoCAProvider) accountPaths() (accountFile, keyFile string, err error) {
	acmeURL, err := url.Parse(p.settings.ACME.DirectoryURL)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse ACME directory URL: %w", err)
	}

	serverDir := filepath.Join(p.settings.DataPath, "accounts", acmeURL.Host)
	keysDir := filepath.Join(serverDir, p.settings.ACME.Email, "keys")
	if err := os.MkdirAll(keysDir, DirPermissions); err != nil {
		return "", "", fmt.Errorf("creating account directory %s: %w", keysDir, err)
	}

	return filepath.Join(serverDir, "account.json"),
		filepath.Join(keysDir, p.settings.ACME.Email+".key"), nil
}

func (p *LegoCAProvider) loadOrCreateUser() (*acmeUser, error) {
	accountFile, keyFile, err := p.accountPaths()
	if err != nil {
		return nil, err
	}

	var privateKey crypto.PrivateKey
	if _, err := os.Stat(keyFile); os.IsNotExist(err) {
		p.logger.Info("Generating new private key for ACME account")
		privateKey, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generating account key: %w", err)
		}
		keyBytes := certcrypto.PEMEncode(privateKey)
		if err := os.WriteFile(keyFile, keyBytes, PrivateKeyPermissions); err != nil {
			return nil, fmt.Errorf("saving account key to %s: %w", keyFile, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("checking account key file %s: %w", keyFile, err)
	} else {
		keyBytes, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("reading account key file %s: %w", keyFile, err)
		}
		privateKey, err = certcrypto.ParsePEMPrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("parsing account key from %s: %w", keyFile, err)
		}
	}

	user := &acmeUser{Email: p.settings.ACME.Email, key: privateKey}

	if _, err := os.Stat(accountFile); err == nil {
		accountBytes, err := os.ReadFile(accountFile)
		if err != nil {
			return nil, fmt.Errorf("reading account file %s: %w", accountFile, err)
		}
		if err := json.Unmarshal(accountBytes, &user.Registration); err != nil {
			return nil, fmt.Errorf("parsing account file %s: %w", accountFile, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("checking account file %s: %w", accountFile, err)
	}

	return user, nil
}

func (p *LegoCAProvider) saveUser(user *acmeUser) error {
	accountFile, _, err := p.accountPaths()
	if err != nil {
		return err
	}

	regBytes, err := json.MarshalIndent(user.Registration, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling registration resource: %w", err)
	}
	if err := os.WriteFile(accountFile, regBytes, PrivateKeyPermissions); err != nil {
		return fmt.Errorf("writing account file %s: %w", accountFile, err)
	}
	return nil
}

// saveArtifacts writes the issued certificate, key, issuer chain, and
// metadata under <data_path>/certificates, named by the primary domain.
// Returns the certificate file path.
func (p *LegoCAProvider) saveArtifacts(primaryDomain string, resource *certificate.Resource) (string, error) {
	certsDir := filepath.Join(p.settings.DataPath, "certificates")
	if err := os.MkdirAll(certsDir, DirPermissions); err != nil {
		return "", fmt.Errorf("creating certificates directory %s: %w", certsDir, err)
	}

	certFile := filepath.Join(certsDir, primaryDomain+".crt")
	keyFile := filepath.Join(certsDir, primaryDomain+".key")
	issuerFile := filepath.Join(certsDir, primaryDomain+".issuer.crt")
	jsonFile := filepath.Join(certsDir, primaryDomain+".json")

	if err := os.WriteFile(certFile, resource.Certificate, CertificatePermissions); err != nil {
		return "", fmt.Errorf("writing certificate file %s: %w", certFile, err)
	}
	p.logger.Infof("Saved certificate to %s", certFile)

	if err := os.WriteFile(keyFile, resource.PrivateKey, PrivateKeyPermissions); err != nil {
		return "", fmt.Errorf("writing private key file %s: %w", keyFile, err)
	}

	if len(resource.IssuerCertificate) > 0 {
		if err := os.WriteFile(issuerFile, resource.IssuerCertificate, CertificatePermissions); err != nil {
			p.logger.Warnf("Failed to write issuer certificate file %s: %v", issuerFile, err)
		}
	}

	jsonBytes, err := json.MarshalIndent(resource, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshalling certificate metadata for %s: %w", primaryDomain, err)
	}
	if err := os.WriteFile(jsonFile, jsonBytes, PrivateKeyPermissions); err != nil {
		return "", fmt.Errorf("writing certificate metadata file %s: %w", jsonFile, err)
	}

	return certFile, nil
}

var _ common.CAProvider = (*LegoCAProvider)(nil)
