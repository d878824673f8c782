package udap

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// SupportedAlgorithms lists the JWS algorithms accepted on UDAP assertions
// and metadata.
var SupportedAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
}

// RevocationChecker reports whether any certificate of a verified chain has
// been revoked. Implementations return an error when revocation status is
// known to be bad; a nil error means the chain is acceptable.
type RevocationChecker interface {
	CheckChain(ctx context.Context, chain []*x509.Certificate) error
}

// VerifiedJWT is a JWS whose x5c chain and signature have been verified.
type VerifiedJWT struct {
	Header      jose.Header
	Claims      jwt.MapClaims
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
}

// TrustValidator verifies UDAP-signed JWTs against a trust anchor.
type TrustValidator struct {
	// Now returns the validation time. Defaults to time.Now.
	Now func() time.Time
	// Revocation is consulted after chain building when non-nil.
	Revocation RevocationChecker
}

// ParseTrustAnchorPEM parses the first CERTIFICATE block of a PEM document.
func ParseTrustAnchorPEM(data string) (*x509.Certificate, error) {
	rest := []byte(data)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, errors.New("no CERTIFICATE block in trust anchor")
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse trust anchor: %w", err)
		}
		return cert, nil
	}
}

// Verify checks that token is signed by a certificate carried in its x5c
// header, that the certificate chains to anchor, and returns the decoded
// header and claims. Claim semantics are not checked here; see CheckClaims.
func (v *TrustValidator) Verify(ctx context.Context, token string, anchor *x509.Certificate) (*VerifiedJWT, error) {
	if anchor == nil {
		return nil, fmt.Errorf("%w: no trust anchor", ErrUntrustedChain)
	}
	jws, err := jose.ParseSigned(token, SupportedAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJWT, err)
	}
	if len(jws.Signatures) != 1 {
		return nil, fmt.Errorf("%w: unexpected signatures: %d", ErrMalformedJWT, len(jws.Signatures))
	}
	hdr := jws.Signatures[0].Protected

	roots := x509.NewCertPool()
	roots.AddCert(anchor)
	chains, err := hdr.Certificates(x509.VerifyOptions{
		Roots:       roots,
		CurrentTime: v.now(),
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUntrustedChain, err)
	}
	chain := chains[0]
	if v.Revocation != nil {
		if err := v.Revocation.CheckChain(ctx, chain); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUntrustedChain, err)
		}
	}

	leaf := chain[0]
	payload, err := jws.Verify(leaf.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	claims := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: claims: %v", ErrMalformedJWT, err)
	}
	return &VerifiedJWT{Header: hdr, Claims: claims, Certificate: leaf, Chain: chain}, nil
}

func (v *TrustValidator) now() time.Time {
	if v != nil && v.Now != nil {
		return v.Now()
	}
	return time.Now()
}
