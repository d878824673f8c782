package udap

import (
	"errors"
)

var (
	// ErrMalformedJWT indicates the token is not a parseable compact JWS.
	ErrMalformedJWT = errors.New("udap: malformed jwt")
	// ErrUntrustedChain indicates the x5c chain does not verify against the
	// trust anchor (unknown issuer, expired or revoked certificate).
	ErrUntrustedChain = errors.New("udap: untrusted certificate chain")
	// ErrInvalidSignature indicates the JWS signature does not verify with
	// the leaf certificate's key.
	ErrInvalidSignature = errors.New("udap: invalid signature")

	// ErrNotIdentityProvider indicates metadata was requested for a resource
	// server whose role is not "idp".
	ErrNotIdentityProvider = errors.New("udap: resource server is not an identity provider")
	// ErrCertificateNotFound indicates no bundle entry carries the configured SAN.
	ErrCertificateNotFound = errors.New("udap: no certificate matches the configured san")
	// ErrSigning wraps failures to produce a signature.
	ErrSigning = errors.New("udap: signing failed")

	// ErrUpstream wraps failures talking to an external UDAP server.
	ErrUpstream = errors.New("udap: upstream error")
)

// OAuth error codes used in client-facing error bodies.
const (
	CodeInvalidRequest = "invalid_request"
	CodeInvalidClient  = "invalid_client"
)

// OAuthError carries an OAuth2 error code and a human readable description.
// It renders as {"error": Code, "error_description": Description}.
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *OAuthError) Error() string { return e.Description }

func invalidRequest(msg string) *OAuthError {
	return &OAuthError{Code: CodeInvalidRequest, Description: msg}
}
