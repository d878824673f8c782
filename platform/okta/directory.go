package okta

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ggoodman/udap-gateway-go/platform"
)

type directory struct {
	baseURL string
	token   string
	http    *http.Client
}

type idpEndpoint struct {
	URL     string `json:"url"`
	Binding string `json:"binding"`
}

type idp struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Protocol struct {
		Type      string `json:"type"`
		Endpoints struct {
			Authorization idpEndpoint `json:"authorization"`
			Token         idpEndpoint `json:"token"`
		} `json:"endpoints"`
		Scopes []string `json:"scopes"`
		Issuer struct {
			URL string `json:"url"`
		} `json:"issuer"`
		Credentials struct {
			Client struct {
				ClientID                string `json:"client_id"`
				TokenEndpointAuthMethod string `json:"token_endpoint_auth_method"`
			} `json:"client"`
			Signing struct {
				Algorithm string `json:"algorithm,omitempty"`
				Kid       string `json:"kid,omitempty"`
			} `json:"signing"`
		} `json:"credentials"`
	} `json:"protocol"`
}

func (d *directory) header() http.Header {
	h := make(http.Header)
	h.Set("Authorization", "SSWS "+d.token)
	return h
}

func (d *directory) AuthorizeURL(req platform.AuthorizeRequest) string {
	return d.baseURL + req.Path
}

func (d *directory) CallbackURL() string {
	return d.baseURL + "/oauth2/v1/authorize/callback"
}

// SelectIDP sets the Okta IdP id as the idp routing hint.
func (d *directory) SelectIDP(q url.Values, name string) {
	q.Set("idp", name)
}

func (d *directory) FindIDP(ctx context.Context, baseURL string) (string, error) {
	name := platform.IDPName(baseURL)
	u := d.baseURL + "/api/v1/idps?" + url.Values{"q": {name}, "type": {"OIDC"}}.Encode()
	var found []idp
	if err := platform.CallJSON(ctx, d.http, http.MethodGet, u, d.header(), nil, &found, "okta list idps"); err != nil {
		return "", err
	}
	for _, p := range found {
		if p.Name == name {
			return p.ID, nil
		}
	}
	return "", platform.ErrIDPNotFound
}

func (d *directory) CreateIDP(ctx context.Context, spec platform.IDPSpec) (*platform.CreatedIDP, error) {
	var in idp
	in.Type = "OIDC"
	in.Name = spec.Name
	in.Protocol.Type = "OIDC"
	in.Protocol.Endpoints.Authorization = idpEndpoint{URL: spec.AuthorizationEndpoint, Binding: "HTTP-REDIRECT"}
	in.Protocol.Endpoints.Token = idpEndpoint{URL: spec.TokenEndpoint, Binding: "HTTP-POST"}
	in.Protocol.Scopes = spec.Scopes
	in.Protocol.Issuer.URL = spec.Issuer
	in.Protocol.Credentials.Client.ClientID = spec.ClientID
	in.Protocol.Credentials.Client.TokenEndpointAuthMethod = "private_key_jwt"
	in.Protocol.Credentials.Signing.Algorithm = "RS256"

	var out idp
	if err := platform.CallJSON(ctx, d.http, http.MethodPost, d.baseURL+"/api/v1/idps", d.header(), &in, &out, "okta create idp"); err != nil {
		return nil, err
	}
	if out.ID == "" || out.Protocol.Credentials.Signing.Kid == "" {
		return nil, fmt.Errorf("%w: okta create idp: response is missing id or signing kid", platform.ErrDirectory)
	}
	return &platform.CreatedIDP{Name: out.ID, InternalCredentials: out.Protocol.Credentials.Signing.Kid}, nil
}
