// Package auth0 adapts the gateway to Auth0. Federated IDPs are OIDC
// enterprise connections and the backend authenticates to the tiered token
// endpoint with a generated client secret.
package auth0

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ggoodman/udap-gateway-go/idpregistry"
	"github.com/ggoodman/udap-gateway-go/platform"
)

// Config for the Auth0 adapter.
type Config struct {
	// Domain is the backend Auth0 (custom) domain, without scheme.
	Domain string
	// APIToken is a Management API bearer token.
	APIToken string
	HTTP     *http.Client
}

// Adapter implements platform.Adapter for Auth0.
type Adapter struct {
	cfg Config
	up  *platform.Upstream
	log *slog.Logger
}

// New builds the Auth0 adapter. up supplies the shared authorize
// dependencies; its Directory is set to the Auth0 connections API.
func New(cfg Config, up platform.Upstream, log *slog.Logger) (*Adapter, error) {
	if cfg.Domain == "" {
		return nil, errors.New("auth0 domain is required")
	}
	if log == nil {
		log = slog.Default()
	}
	up.Directory = &directory{baseURL: "https://" + cfg.Domain, token: cfg.APIToken, http: cfg.HTTP}
	up.Log = log
	return &Adapter{cfg: cfg, up: &up, log: log}, nil
}

func (a *Adapter) Name() string { return "auth0" }

func (a *Adapter) Authorize(ctx context.Context, req platform.AuthorizeRequest) (*platform.AuthorizeResult, error) {
	return a.up.Authorize(ctx, req)
}

// ProxyHeaders forwards the standard headers. Auth0 takes the end user's
// address from auth0-forwarded-for rather than X-Forwarded-For.
func (a *Adapter) ProxyHeaders(in http.Header) http.Header {
	out := platform.CopyHeaders(in)
	if xff := in.Get("X-Forwarded-For"); xff != "" {
		client, _, _ := strings.Cut(xff, ",")
		out.Set("auth0-forwarded-for", strings.TrimSpace(client))
	}
	return out
}

func (a *Adapter) TieredClientID(form url.Values) (string, error) {
	id := form.Get("client_id")
	if id == "" {
		return "", fmt.Errorf("%w: missing client_id", platform.ErrInvalidTieredRequest)
	}
	return id, nil
}

// ValidateTieredRequest checks the client secret the connection was
// created with.
func (a *Adapter) ValidateTieredRequest(ctx context.Context, m *idpregistry.Mapping, form url.Values) (*platform.TieredCredentials, error) {
	id := form.Get("client_id")
	secret := form.Get("client_secret")
	if id != m.IDPID {
		return nil, fmt.Errorf("%w: client_id does not match", platform.ErrInvalidTieredRequest)
	}
	if secret == "" || m.InternalCredentials == "" ||
		subtle.ConstantTimeCompare([]byte(secret), []byte(m.InternalCredentials)) != 1 {
		return nil, fmt.Errorf("%w: client_secret does not match", platform.ErrInvalidTieredRequest)
	}
	return &platform.TieredCredentials{ClientID: m.IDPID}, nil
}

var _ platform.Adapter = (*Adapter)(nil)
