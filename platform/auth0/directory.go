package auth0

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ggoodman/udap-gateway-go/platform"
)

type directory struct {
	baseURL string
	token   string
	http    *http.Client
}

type connectionOptions struct {
	Type                  string `json:"type"`
	ClientID              string `json:"client_id"`
	ClientSecret          string `json:"client_secret,omitempty"`
	Issuer                string `json:"issuer,omitempty"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	Scope                 string `json:"scope,omitempty"`
}

type connection struct {
	ID       string            `json:"id,omitempty"`
	Name     string            `json:"name"`
	Strategy string            `json:"strategy"`
	Options  connectionOptions `json:"options"`
}

func (d *directory) header() http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+d.token)
	return h
}

func (d *directory) AuthorizeURL(platform.AuthorizeRequest) string {
	return d.baseURL + "/authorize"
}

func (d *directory) CallbackURL() string {
	return d.baseURL + "/login/callback"
}

// SelectIDP replaces idp with Auth0's connection parameter.
func (d *directory) SelectIDP(q url.Values, name string) {
	q.Del("idp")
	q.Set("connection", name)
}

func (d *directory) FindIDP(ctx context.Context, baseURL string) (string, error) {
	name := platform.IDPName(baseURL)
	u := d.baseURL + "/api/v2/connections?" + url.Values{"name": {name}, "strategy": {"oidc"}}.Encode()
	var found []connection
	if err := platform.CallJSON(ctx, d.http, http.MethodGet, u, d.header(), nil, &found, "auth0 list connections"); err != nil {
		return "", err
	}
	for _, c := range found {
		if c.Name == name {
			return c.Name, nil
		}
	}
	return "", platform.ErrIDPNotFound
}

func (d *directory) CreateIDP(ctx context.Context, spec platform.IDPSpec) (*platform.CreatedIDP, error) {
	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	in := connection{
		Name:     spec.Name,
		Strategy: "oidc",
		Options: connectionOptions{
			Type:                  "back_channel",
			ClientID:              spec.ClientID,
			ClientSecret:          secret,
			Issuer:                spec.Issuer,
			AuthorizationEndpoint: spec.AuthorizationEndpoint,
			TokenEndpoint:         spec.TokenEndpoint,
			Scope:                 strings.Join(spec.Scopes, " "),
		},
	}
	var out connection
	if err := platform.CallJSON(ctx, d.http, http.MethodPost, d.baseURL+"/api/v2/connections", d.header(), &in, &out, "auth0 create connection"); err != nil {
		return nil, err
	}
	name := out.Name
	if name == "" {
		name = spec.Name
	}
	return &platform.CreatedIDP{Name: name, InternalCredentials: secret}, nil
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate client secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
