package udap

import (
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"slices"

	"software.sslmate.com/src/go-pkcs12"
)

// CertificateKeyPair is a private key together with its certificate chain.
// Chain[0] is the certificate for Key.
type CertificateKeyPair struct {
	Chain []*x509.Certificate
	Key   crypto.Signer
}

// Leaf returns the end-entity certificate.
func (p *CertificateKeyPair) Leaf() *x509.Certificate {
	if p == nil || len(p.Chain) == 0 {
		return nil
	}
	return p.Chain[0]
}

// ParseBundle decodes a PKCS#12 bundle into its certificate/key pairs.
//
// The decoder yields a single key entry per bundle; any additional
// certificates are treated as the issuing chain of that entry.
func ParseBundle(data []byte, password string) ([]CertificateKeyPair, error) {
	key, leaf, cas, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("decode pkcs12: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
	chain := append([]*x509.Certificate{leaf}, cas...)
	return []CertificateKeyPair{{Chain: chain, Key: signer}}, nil
}

// SelectBySAN returns the first pair whose leaf certificate carries san as a
// URI or DNS Subject Alternative Name.
func SelectBySAN(pairs []CertificateKeyPair, san string) (*CertificateKeyPair, error) {
	for i := range pairs {
		if HasSAN(pairs[i].Leaf(), san) {
			return &pairs[i], nil
		}
	}
	return nil, ErrCertificateNotFound
}

// HasSAN reports whether cert lists san among its URI or DNS names.
func HasSAN(cert *x509.Certificate, san string) bool {
	if cert == nil || san == "" {
		return false
	}
	for _, u := range cert.URIs {
		if u.String() == san {
			return true
		}
	}
	return slices.Contains(cert.DNSNames, san)
}

var errNoSigningKey = errors.New("no signing key")
