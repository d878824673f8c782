// Package jwtauth verifies private_key_jwt client assertions signed by the
// backend authorization server with keys published in its JWKS.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// Config controls assertion validation.
type Config struct {
	// Issuer is the backend authorization server used for OIDC discovery.
	Issuer      string
	AllowedAlgs []string
	Leeway      time.Duration
}

// DefaultConfig returns a Config with safe defaults for algorithm and leeway.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      30 * time.Second,
	}
}

// Expectations pin the values a client assertion must carry.
type Expectations struct {
	// Audience is the endpoint the assertion was presented to.
	Audience string
	// Subject is the client id; iss must match it as well.
	Subject string
	// KeyID, when set, is the only kid accepted in the JWS header.
	KeyID string
}

// Assertion is a verified client assertion.
type Assertion struct {
	Subject string
	KeyID   string
	Claims  jwt.MapClaims
}

// Verifier checks client assertions.
type Verifier interface {
	VerifyClientAssertion(ctx context.Context, tok string, want Expectations) (*Assertion, error)
}

// ErrUnauthorized indicates the assertion failed validation (signature,
// audience, subject, key id or lifetime).
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

type jwksVerifier struct {
	cfg     *Config
	keyfunc jwt.Keyfunc
}

// NewFromDiscovery performs OIDC discovery against cfg.Issuer to find its
// jwks_uri and returns a Verifier backed by an auto-refreshing JWKS.
func NewFromDiscovery(ctx context.Context, cfg *Config) (*jwksVerifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		JwksURI string `json:"jwks_uri"`
		Token   string `json:"token_endpoint"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	missing := []string{}
	if meta.JwksURI == "" {
		missing = append(missing, "jwks_uri")
	}
	if meta.Token == "" {
		missing = append(missing, "token_endpoint")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("discovery incomplete: missing %s", strings.Join(missing, ", "))
	}

	v, err := newJWKSVerifier(ctx, cfg, meta.JwksURI)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func newJWKSVerifier(ctx context.Context, cfg *Config, jwksURI string) (*jwksVerifier, error) {
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	// Auto-refreshing JWKS
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return &jwksVerifier{
		cfg: cfg,
		keyfunc: func(t *jwt.Token) (any, error) {
			alg := t.Method.Alg()
			allowed := false
			for _, a := range cfg.AllowedAlgs {
				if alg == a {
					allowed = true
					break
				}
			}
			if !allowed {
				return nil, fmt.Errorf("disallowed alg: %s", alg)
			}
			return kf.Keyfunc(t)
		},
	}, nil
}

func (v *jwksVerifier) VerifyClientAssertion(ctx context.Context, tok string, want Expectations) (*Assertion, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty assertion", ErrUnauthorized)
	}
	if want.Audience == "" || want.Subject == "" {
		return nil, errors.New("audience and subject expectations are required")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(want.Audience),
		jwt.WithSubject(want.Subject),
		jwt.WithIssuer(want.Subject),
		jwt.WithLeeway(v.cfg.Leeway),
	)
	parsed, err := parser.Parse(tok, v.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: assertion parse/verify failed: %v", ErrUnauthorized, err)
	}

	kid, _ := parsed.Header["kid"].(string)
	if want.KeyID != "" && kid != want.KeyID {
		return nil, fmt.Errorf("%w: unexpected key id", ErrUnauthorized)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return &Assertion{Subject: want.Subject, KeyID: kid, Claims: claims}, nil
}

// UnverifiedSubject returns the sub claim of tok without checking its
// signature. It is only suitable for choosing which key material to verify
// the assertion against.
func UnverifiedSubject(tok string) (string, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(tok, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}
	return sub, nil
}

var _ Verifier = (*jwksVerifier)(nil)
