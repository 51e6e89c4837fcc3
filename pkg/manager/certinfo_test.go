package manager

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTestCertificate(t *testing.T, dnsNames []string, notBefore, notAfter time.Time) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: dnsNames[0]},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		DNSNames:     dnsNames,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.crt")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(path, pemBytes, 0644); err != nil {
		t.Fatalf("writing certificate: %v", err)
	}
	return path
}

func TestLoadCertificateInfo(t *testing.T) {
	notBefore := time.Now().Add(-time.Hour).Truncate(time.Second)
	notAfter := notBefore.Add(90 * 24 * time.Hour)
	path := writeTestCertificate(t, []string{"example.com", "www.example.com"}, notBefore, notAfter)

	info, err := LoadCertificateInfo(path)
	if err != nil {
		t.Fatalf("LoadCertificateInfo failed: %v", err)
	}

	if !info.NotBefore.Equal(notBefore.UTC()) {
		t.Errorf("NotBefore = %v, want %v", info.NotBefore, notBefore.UTC())
	}
	if !info.NotAfter.Equal(notAfter.UTC()) {
		t.Errorf("NotAfter = %v, want %v", info.NotAfter, notAfter.UTC())
	}
	if len(info.Thumbprint) != 40 {
		t.Errorf("thumbprint should be 40 hex chars, got %q", info.Thumbprint)
	}
	if info.Thumbprint != strings.ToUpper(info.Thumbprint) {
		t.Errorf("thumbprint should be uppercase, got %q", info.Thumbprint)
	}
	if len(info.DNSNames) != 2 {
		t.Errorf("unexpected DNS names: %v", info.DNSNames)
	}
}

func TestLoadCertificateInfoErrors(t *testing.T) {
	if _, err := LoadCertificateInfo(filepath.Join(t.TempDir(), "missing.crt")); err == nil {
		t.Error("expected error for missing file")
	}

	notPEM := filepath.Join(t.TempDir(), "bad.crt")
	if err := os.WriteFile(notPEM, []byte("not a certificate"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := LoadCertificateInfo(notPEM); err == nil {
		t.Error("expected error for non-PEM content")
	}
}

func TestCoversDomains(t *testing.T) {
	info := &CertificateInfo{DNSNames: []string{"example.com", "WWW.example.com"}}

	missing := info.CoversDomains([]string{"example.com", "www.example.com"})
	if len(missing) != 0 {
		t.Errorf("expected full coverage, missing: %v", missing)
	}

	missing = info.CoversDomains([]string{"example.com", "api.example.com"})
	if len(missing) != 1 || missing[0] != "api.example.com" {
		t.Errorf("expected api.example.com missing, got %v", missing)
	}
}
