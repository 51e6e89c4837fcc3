package manager

import (
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"
)

// CertificateInfo is the subset of an installed artifact the engine records on
// the managed certificate.
type CertificateInfo struct {
	NotBefore  time.Time
	NotAfter   time.Time
	Thumbprint string
	DNSNames   []string
}

// LoadCertificateInfo reads a PEM certificate artifact and extracts its
// validity window, SHA-1 thumbprint, and covered domains.
func LoadCertificateInfo(path string) (*CertificateInfo, error) {
	certBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading certificate file %s: %w", path, err)
	}

	block, _ := pem.Decode(certBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate %s: %w", path, err)
	}

	sum := sha1.Sum(cert.Raw)

	return &CertificateInfo{
		NotBefore:  cert.NotBefore,
		NotAfter:   cert.NotAfter,
		Thumbprint: strings.ToUpper(hex.EncodeToString(sum[:])),
		DNSNames:   cert.DNSNames,
	}, nil
}

// CoversDomains reports which requested domains the certificate does not cover.
func (ci *CertificateInfo) CoversDomains(requested []string) (missing []string) {
	existing := make(map[string]bool, len(ci.DNSNames))
	for _, d := range ci.DNSNames {
		existing[strings.ToLower(d)] = true
	}
	for _, d := range requested {
		if !existing[strings.ToLower(d)] {
			missing = append(missing, d)
		}
	}
	return missing
}
