// Package okta adapts the gateway to Okta. Federated IDPs are managed
// through the Okta IdP API and the backend authenticates to the tiered
// token endpoint with a private_key_jwt assertion.
package okta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/ggoodman/udap-gateway-go/idpregistry"
	"github.com/ggoodman/udap-gateway-go/internal/jwtauth"
	"github.com/ggoodman/udap-gateway-go/platform"
)

const clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// Config for the Okta adapter.
type Config struct {
	// Domain is the backend Okta (custom) domain, without scheme.
	Domain string
	// APIToken is an Okta API token sent as "SSWS <token>".
	APIToken string
	// TieredTokenURL is the gateway's tiered token endpoint; assertions
	// must name it as their audience.
	TieredTokenURL string
	HTTP           *http.Client
}

// Adapter implements platform.Adapter for Okta.
type Adapter struct {
	cfg      Config
	dir      *directory
	up       *platform.Upstream
	verifier jwtauth.Verifier
	log      *slog.Logger
}

// New builds the Okta adapter. up supplies the shared authorize
// dependencies; its Directory is set to the Okta directory.
func New(cfg Config, up platform.Upstream, verifier jwtauth.Verifier, log *slog.Logger) (*Adapter, error) {
	if cfg.Domain == "" {
		return nil, errors.New("okta domain is required")
	}
	if verifier == nil {
		return nil, errors.New("okta assertion verifier is required")
	}
	if log == nil {
		log = slog.Default()
	}
	dir := &directory{baseURL: "https://" + cfg.Domain, token: cfg.APIToken, http: cfg.HTTP}
	up.Directory = dir
	if up.TieredTokenURL == "" {
		up.TieredTokenURL = cfg.TieredTokenURL
	}
	up.Log = log
	return &Adapter{cfg: cfg, dir: dir, up: &up, verifier: verifier, log: log}, nil
}

func (a *Adapter) Name() string { return "okta" }

func (a *Adapter) Authorize(ctx context.Context, req platform.AuthorizeRequest) (*platform.AuthorizeResult, error) {
	return a.up.Authorize(ctx, req)
}

// ProxyHeaders forwards the standard headers and the caller's
// X-Forwarded-For chain, which Okta uses for its own rate limiting and
// threat detection.
func (a *Adapter) ProxyHeaders(in http.Header) http.Header {
	out := platform.CopyHeaders(in)
	if xff := in.Get("X-Forwarded-For"); xff != "" {
		out.Set("X-Forwarded-For", xff)
	}
	return out
}

// TieredClientID reads the (not yet verified) sub of the client assertion.
func (a *Adapter) TieredClientID(form url.Values) (string, error) {
	if form.Get("client_assertion_type") != clientAssertionType {
		return "", fmt.Errorf("%w: unsupported client_assertion_type", platform.ErrInvalidTieredRequest)
	}
	sub, err := jwtauth.UnverifiedSubject(form.Get("client_assertion"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", platform.ErrInvalidTieredRequest, err)
	}
	return sub, nil
}

// ValidateTieredRequest verifies the assertion against the backend's JWKS,
// pinned to the key id recorded when the IDP was federated.
func (a *Adapter) ValidateTieredRequest(ctx context.Context, m *idpregistry.Mapping, form url.Values) (*platform.TieredCredentials, error) {
	if form.Get("client_assertion_type") != clientAssertionType {
		return nil, fmt.Errorf("%w: unsupported client_assertion_type", platform.ErrInvalidTieredRequest)
	}
	_, err := a.verifier.VerifyClientAssertion(ctx, form.Get("client_assertion"), jwtauth.Expectations{
		Audience: a.up.TieredTokenURL,
		Subject:  m.IDPID,
		KeyID:    m.InternalCredentials,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrInvalidTieredRequest, err)
	}
	return &platform.TieredCredentials{ClientID: m.IDPID}, nil
}

var _ platform.Adapter = (*Adapter)(nil)
