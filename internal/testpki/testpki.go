// Package testpki builds throwaway certificate hierarchies and PKCS#12
// bundles for tests.
package testpki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/url"
	"testing"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

// CA is a self-signed certificate authority.
type CA struct {
	Cert *x509.Certificate
	Key  crypto.Signer
}

// Leaf is an end-entity certificate issued by a CA.
type Leaf struct {
	Cert *x509.Certificate
	Key  crypto.Signer
	CA   *CA
}

// LeafOptions tweak issued certificates.
type LeafOptions struct {
	EC        bool
	NotBefore time.Time
	NotAfter  time.Time
	CRLURL    string
	Serial    int64
	// ExtraSANs are URI SANs listed after the primary one.
	ExtraSANs []string
}

var serial int64 = 100

// NewCA creates an RSA root valid for a day around now.
func NewCA(t testing.TB, name string) *CA {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("ca key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("ca cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse ca: %v", err)
	}
	return &CA{Cert: cert, Key: key}
}

// PEM returns the CA certificate PEM encoded.
func (ca *CA) PEM() string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.Cert.Raw}))
}

// Issue creates a leaf certificate with a URI SAN.
func (ca *CA) Issue(t testing.TB, san string, opts LeafOptions) *Leaf {
	t.Helper()
	var key crypto.Signer
	var err error
	if opts.EC {
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	} else {
		key, err = rsa.GenerateKey(rand.Reader, 2048)
	}
	if err != nil {
		t.Fatalf("leaf key: %v", err)
	}
	u, err := url.Parse(san)
	if err != nil {
		t.Fatalf("san: %v", err)
	}
	uris := []*url.URL{u}
	for _, extra := range opts.ExtraSANs {
		eu, err := url.Parse(extra)
		if err != nil {
			t.Fatalf("san: %v", err)
		}
		uris = append(uris, eu)
	}
	if opts.NotBefore.IsZero() {
		opts.NotBefore = time.Now().Add(-time.Hour)
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = time.Now().Add(12 * time.Hour)
	}
	if opts.Serial == 0 {
		serial++
		opts.Serial = serial
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(opts.Serial),
		Subject:      pkix.Name{CommonName: san},
		URIs:         uris,
		NotBefore:    opts.NotBefore,
		NotAfter:     opts.NotAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	if opts.CRLURL != "" {
		tmpl.CRLDistributionPoints = []string{opts.CRLURL}
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.Cert, key.Public(), ca.Key)
	if err != nil {
		t.Fatalf("leaf cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse leaf: %v", err)
	}
	return &Leaf{Cert: cert, Key: key, CA: ca}
}

// PKCS12 encodes the leaf, its key and the CA certificate.
func (l *Leaf) PKCS12(t testing.TB, password string) []byte {
	t.Helper()
	data, err := pkcs12.Modern.Encode(l.Key, l.Cert, []*x509.Certificate{l.CA.Cert}, password)
	if err != nil {
		t.Fatalf("encode pkcs12: %v", err)
	}
	return data
}

// CRL returns a DER CRL signed by ca revoking the given serials.
func (ca *CA) CRL(t testing.TB, serials ...int64) []byte {
	t.Helper()
	entries := make([]x509.RevocationListEntry, 0, len(serials))
	for _, s := range serials {
		entries = append(entries, x509.RevocationListEntry{SerialNumber: big.NewInt(s), RevocationTime: time.Now().Add(-time.Minute)})
	}
	der, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:                    big.NewInt(1),
		ThisUpdate:                time.Now().Add(-time.Minute),
		NextUpdate:                time.Now().Add(time.Hour),
		RevokedCertificateEntries: entries,
	}, ca.Cert, ca.Key)
	if err != nil {
		t.Fatalf("create crl: %v", err)
	}
	return der
}
