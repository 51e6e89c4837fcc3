package manager

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSettingsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing settings file: %v", err)
	}
	return path
}

const validSettings = `
data_path: "certs"
renewal_interval_days: 21
acme:
  directory_url: "https://acme-staging-v02.api.letsencrypt.org/directory"
  email: "ops@example.com"
  key_type: "ec256"
`

func TestLoadSettings(t *testing.T) {
	path := writeSettingsFile(t, validSettings)

	cfg, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}

	if cfg.RenewalIntervalDays != 21 {
		t.Errorf("renewal_interval_days = %d, want 21", cfg.RenewalIntervalDays)
	}
	if cfg.ACME.Email != "ops@example.com" {
		t.Errorf("unexpected email: %s", cfg.ACME.Email)
	}
	if !filepath.IsAbs(cfg.DataPath) {
		t.Errorf("data path must be resolved to absolute, got %s", cfg.DataPath)
	}
	if !strings.HasPrefix(cfg.TrustStorePath, cfg.DataPath) {
		t.Errorf("default trust store must live under the data path, got %s", cfg.TrustStorePath)
	}
	if cfg.HTTPTimeout != DefaultHTTPTimeout {
		t.Errorf("unexpected default http timeout: %v", cfg.HTTPTimeout)
	}
}

func TestLoadSettingsDefaults(t *testing.T) {
	path := writeSettingsFile(t, `
acme:
  directory_url: "https://acme-staging-v02.api.letsencrypt.org/directory"
  email: "ops@example.com"
`)

	cfg, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if cfg.RenewalIntervalDays != DefaultRenewalIntervalDays {
		t.Errorf("expected default interval %d, got %d", DefaultRenewalIntervalDays, cfg.RenewalIntervalDays)
	}
	if filepath.Base(cfg.StorePath()) != StoreFileName {
		t.Errorf("unexpected store path: %s", cfg.StorePath())
	}
}

func TestLoadSettingsRejectsUnknownFields(t *testing.T) {
	path := writeSettingsFile(t, validSettings+"\nbogus_field: true\n")

	_, err := LoadSettings(path)
	if err == nil {
		t.Fatal("expected validation error for unknown field")
	}
	if !strings.Contains(err.Error(), "bogus_field") {
		t.Errorf("error should name the offending field: %v", err)
	}
}

func TestLoadSettingsRejectsMissingACME(t *testing.T) {
	path := writeSettingsFile(t, `data_path: "certs"`)
	if _, err := LoadSettings(path); err == nil {
		t.Fatal("expected validation error for missing acme section")
	}
}

func TestLoadSettingsRejectsPlaceholderEmail(t *testing.T) {
	path := writeSettingsFile(t, `
acme:
  directory_url: "https://acme-staging-v02.api.letsencrypt.org/directory"
  email: "your-email@example.com"
`)
	if _, err := LoadSettings(path); err == nil {
		t.Fatal("expected rejection of placeholder email")
	}
}

func TestLoadSettingsEnvOverrides(t *testing.T) {
	path := writeSettingsFile(t, validSettings)
	t.Setenv("ACME_EMAIL", "override@example.com")
	t.Setenv("RENEWAL_INTERVAL_DAYS", "3")

	cfg, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if cfg.ACME.Email != "override@example.com" {
		t.Errorf("env override not applied: %s", cfg.ACME.Email)
	}
	if cfg.RenewalIntervalDays != 3 {
		t.Errorf("env override not applied: %d", cfg.RenewalIntervalDays)
	}
}

func TestLoadSettingsHonorsExplicitZeroInterval(t *testing.T) {
	path := writeSettingsFile(t, validSettings)
	t.Setenv("RENEWAL_INTERVAL_DAYS", "0")

	cfg, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if cfg.RenewalIntervalDays != 0 {
		t.Errorf("explicit zero override must win over the file value, got %d", cfg.RenewalIntervalDays)
	}
	if cfg.RenewalThreshold() != 0 {
		t.Errorf("zero interval must yield zero threshold, got %v", cfg.RenewalThreshold())
	}
}

func TestRenewalThreshold(t *testing.T) {
	cfg := &Settings{RenewalIntervalDays: 14}
	if cfg.RenewalThreshold() != 14*24*time.Hour {
		t.Errorf("unexpected threshold: %v", cfg.RenewalThreshold())
	}
}

func TestGeneratedTemplateIsValidYAMLButRejectedForPlaceholder(t *testing.T) {
	var buf bytes.Buffer
	if err := GenerateDefaultSettings(&buf); err != nil {
		t.Fatalf("GenerateDefaultSettings failed: %v", err)
	}

	path := writeSettingsFile(t, buf.String())
	_, err := LoadSettings(path)
	if err == nil {
		t.Fatal("template must be rejected until the email placeholder is edited")
	}
	if !strings.Contains(err.Error(), "acme.email") {
		t.Errorf("rejection should point at the email field: %v", err)
	}
}
