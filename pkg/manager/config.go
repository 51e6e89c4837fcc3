package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/kaptinlin/jsonschema"
	"gopkg.in/yaml.v3"
)

// ACMESettings configures the production certificate authority provider.
type ACMESettings struct {
	DirectoryURL string `yaml:"directory_url" env:"ACME_DIRECTORY_URL"`
	Email        string `yaml:"email" env:"ACME_EMAIL"`
	KeyType      string `yaml:"key_type,omitempty" env:"ACME_KEY_TYPE"`
}

// Settings holds the application configuration, loaded from YAML with
// environment variable overrides. It is passed explicitly into the scheduler
// and diagnostics entry points rather than read from ambient process state.
type Settings struct {
	DataPath              string `yaml:"data_path" env:"DATA_PATH"`
	RenewalIntervalDays   int    `yaml:"renewal_interval_days,omitempty" env:"RENEWAL_INTERVAL_DAYS"`
	IgnoreStoppedSites    bool   `yaml:"ignore_stopped_sites,omitempty" env:"IGNORE_STOPPED_SITES"`
	EnableIdentifierReuse bool   `yaml:"enable_identifier_reuse,omitempty" env:"ENABLE_IDENTIFIER_REUSE"`

	SitesConfigPath string `yaml:"sites_config_path,omitempty" env:"SITES_CONFIG_PATH"`
	TrustStorePath  string `yaml:"trust_store_path,omitempty" env:"TRUST_STORE_PATH"`

	ACME ACMESettings `yaml:"acme"`

	HTTPTimeout      time.Duration `yaml:"http_timeout,omitempty" env:"HTTP_TIMEOUT"`
	ChallengeTimeout time.Duration `yaml:"challenge_timeout,omitempty" env:"CHALLENGE_TIMEOUT"`

	// Internal fields
	configPath string `yaml:"-"`
}

// renewalIntervalSet tracks whether renewal_interval_days appeared in the
// config or environment, since zero is a meaningful value (renew always).
type settingsEnvProbe struct {
	RenewalIntervalDays *int `env:"RENEWAL_INTERVAL_DAYS"`
}

// LoadSettings reads the YAML settings file, validates it against the schema,
// and applies environment overrides. A RENEWAL_INTERVAL_DAYS of zero forces
// unconditional renewal; it is honored, not treated as unset.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings file %s: %w", path, err)
	}

	// Set default values before unmarshalling
	cfg := &Settings{
		configPath:          path,
		DataPath:            ".site-certs",
		RenewalIntervalDays: DefaultRenewalIntervalDays,
		HTTPTimeout:         DefaultHTTPTimeout,
		ChallengeTimeout:    DefaultChallengeTimeout,
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing settings file %s: %w", path, err)
	}

	if err := validateSettings(data); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	// env.Parse cannot distinguish "unset" from an explicit zero, so probe the
	// zero-threshold override separately.
	var probe settingsEnvProbe
	if err := env.Parse(&probe); err == nil && probe.RenewalIntervalDays != nil {
		cfg.RenewalIntervalDays = *probe.RenewalIntervalDays
	}

	// Resolve paths relative to the settings file directory
	configDir := filepath.Dir(path)
	if !filepath.IsAbs(cfg.DataPath) {
		cfg.DataPath = filepath.Join(configDir, cfg.DataPath)
	}
	if cfg.TrustStorePath == "" {
		cfg.TrustStorePath = filepath.Join(cfg.DataPath, "truststore")
	} else if !filepath.IsAbs(cfg.TrustStorePath) {
		cfg.TrustStorePath = filepath.Join(configDir, cfg.TrustStorePath)
	}
	if cfg.SitesConfigPath != "" && !filepath.IsAbs(cfg.SitesConfigPath) {
		cfg.SitesConfigPath = filepath.Join(configDir, cfg.SitesConfigPath)
	}

	if cfg.ACME.Email == "your-email@example.com" {
		return nil, fmt.Errorf("settings error: 'acme.email' must not be the placeholder value")
	}

	if cfg.RenewalIntervalDays < 0 {
		return nil, fmt.Errorf("settings error: 'renewal_interval_days' must not be negative")
	}

	return cfg, nil
}

// StorePath returns the location of the managed certificate record document.
func (cfg *Settings) StorePath() string {
	return filepath.Join(cfg.DataPath, StoreFileName)
}

// RenewalThreshold converts the renewal interval in days to a duration.
func (cfg *Settings) RenewalThreshold() time.Duration {
	return time.Duration(cfg.RenewalIntervalDays) * 24 * time.Hour
}

// GenerateDefaultSettings writes a default settings template to the provided writer.
func GenerateDefaultSettings(writer io.Writer) error {
	defaultContent := `# Configuration for go-site-cert-manager

# Directory where the managed certificate records and issued artifacts are kept.
# Relative paths are relative to the directory containing this settings file.
data_path: ".site-certs"

# Renew a certificate once this many days have passed since its last renewal.
# Setting the RENEWAL_INTERVAL_DAYS environment variable to 0 forces renewal
# on every run (useful for testing).
renewal_interval_days: 14

# Skip renewal for sites that are not running (domain validation would fail).
ignore_stopped_sites: false

# Reuse still-valid prior domain authorizations instead of re-validating.
enable_identifier_reuse: false

# Site binding inventory used by the binding provider.
sites_config_path: "sites.yaml"

# Where installed certificates are kept.
#trust_store_path: ".site-certs/truststore"

acme:
  # Production: https://acme-v02.api.letsencrypt.org/directory
  # Staging: https://acme-staging-v02.api.letsencrypt.org/directory
  directory_url: "https://acme-staging-v02.api.letsencrypt.org/directory"
  email: "your-email@example.com" # <-- EDIT THIS
  key_type: "ec256"

# Timeout for HTTP requests made to the ACME server. Format: Go duration string
http_timeout: "30s"

# Timeout for ACME challenges. Format: Go duration string
challenge_timeout: "10m"
`
	if _, err := writer.Write([]byte(defaultContent)); err != nil {
		return fmt.Errorf("writing default settings: %w", err)
	}
	return nil
}

// validateSettings validates the configuration against the JSON schema.
func validateSettings(config []byte) error {
	var yamlObj interface{}
	if err := yaml.Unmarshal(config, &yamlObj); err != nil {
		return fmt.Errorf("error parsing YAML: %w", err)
	}

	jsonData, err := json.Marshal(yamlObj)
	if err != nil {
		return fmt.Errorf("error converting YAML to JSON: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(SettingsSchema))
	if err != nil {
		return fmt.Errorf("schema compilation error: %w", err)
	}

	var instance interface{}
	if err := json.Unmarshal(jsonData, &instance); err != nil {
		return fmt.Errorf("error parsing JSON for validation: %w", err)
	}

	result := schema.Validate(instance)
	if !result.IsValid() {
		return FormatValidationError(result)
	}

	return nil
}
