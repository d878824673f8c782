package platform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ggoodman/udap-gateway-go/idpregistry"
	"github.com/ggoodman/udap-gateway-go/rsconfig"
	"github.com/ggoodman/udap-gateway-go/udap"
)

// Directory is the backend platform's registry of federated IDPs.
type Directory interface {
	// AuthorizeURL is the backend authorize endpoint serving req.
	AuthorizeURL(req AuthorizeRequest) string
	// CallbackURL is the backend's redirect URI for federated logins.
	CallbackURL() string
	// SelectIDP rewrites q so the backend routes the login to the IDP
	// known as name.
	SelectIDP(q url.Values, name string)
	// FindIDP returns the backend name of the IDP at baseURL, or
	// ErrIDPNotFound.
	FindIDP(ctx context.Context, baseURL string) (string, error)
	// CreateIDP federates a new IDP into the backend.
	CreateIDP(ctx context.Context, spec IDPSpec) (*CreatedIDP, error)
}

// IDPSpec describes an IDP to federate. The backend calls TokenEndpoint
// (the gateway's tiered token URL) rather than the IDP's own.
type IDPSpec struct {
	Name                  string
	BaseURL               string
	Issuer                string
	ClientID              string
	AuthorizationEndpoint string
	TokenEndpoint         string
	Scopes                []string
}

// CreatedIDP is the backend's record of a federated IDP.
type CreatedIDP struct {
	Name string
	// InternalCredentials is what the backend will present on the tiered
	// token endpoint: a key id or a client secret.
	InternalCredentials string
}

// ConfigSource resolves resource server configuration by id.
type ConfigSource interface {
	Get(id string) rsconfig.ResourceServer
}

// Upstream implements the authorize step shared by every platform: find or
// federate the IDP named by the idp query parameter, then redirect to the
// backend.
type Upstream struct {
	Directory Directory
	Configs   ConfigSource
	Client    *udap.Client
	// TieredTokenURL is the gateway's tiered token endpoint.
	TieredTokenURL string
	// RedirectURI overrides Directory.CallbackURL when registering with
	// upstream IDPs.
	RedirectURI string
	ClientName  string
	Scope       string
	// Contacts are advertised in the registration software statement.
	Contacts []string
	Log      *slog.Logger
}

// Authorize handles an /authorize request.
func (u *Upstream) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	q := cloneValues(req.Query)
	idp := q.Get("idp")
	if idp == "" {
		return u.redirect(req, q), nil
	}
	parsed, err := url.Parse(idp)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return oauthError(http.StatusBadRequest, udap.CodeInvalidRequest, "The idp parameter must be an absolute URL."), nil
	}
	baseURL := strings.TrimSuffix(idp, "/")

	name, err := u.Directory.FindIDP(ctx, baseURL)
	switch {
	case err == nil:
		u.Directory.SelectIDP(q, name)
		return u.redirect(req, q), nil
	case !errors.Is(err, ErrIDPNotFound):
		return nil, err
	}

	rs := u.Configs.Get(req.ResourceServerID)
	if rs.IsZero() {
		return oauthError(http.StatusBadRequest, udap.CodeInvalidRequest, "Unknown resource server."), nil
	}
	creds, err := udap.CredentialsFor(rs)
	if err != nil {
		return nil, err
	}

	disc, err := u.Client.Discover(ctx, baseURL, creds)
	if err != nil {
		if errors.Is(err, udap.ErrUntrustedChain) || errors.Is(err, udap.ErrInvalidSignature) || errors.Is(err, udap.ErrMalformedJWT) {
			u.logger().WarnContext(ctx, "idp.discover.untrusted", slog.String("idp_base_url", baseURL), slog.String("err", err.Error()))
			return oauthError(http.StatusBadRequest, udap.CodeInvalidRequest, "The requested IDP is not trusted by this server."), nil
		}
		return nil, err
	}
	if disc.Endpoints.RegistrationEndpoint == "" || disc.Endpoints.AuthorizationEndpoint == "" {
		return oauthError(http.StatusBadRequest, udap.CodeInvalidRequest, "The requested IDP does not support UDAP tiered OAuth."), nil
	}

	redirectURI := u.RedirectURI
	if redirectURI == "" {
		redirectURI = u.Directory.CallbackURL()
	}
	clientID, err := u.Client.Register(ctx, disc.Endpoints.RegistrationEndpoint, creds, udap.RegistrationRequest{
		ClientName:   u.ClientName,
		RedirectURIs: []string{redirectURI},
		Scope:        u.Scope,
		Contacts:     u.Contacts,
	})
	if err != nil {
		return nil, err
	}

	created, err := u.Directory.CreateIDP(ctx, IDPSpec{
		Name:                  IDPName(baseURL),
		BaseURL:               baseURL,
		Issuer:                disc.Endpoints.Issuer,
		ClientID:              clientID,
		AuthorizationEndpoint: disc.Endpoints.AuthorizationEndpoint,
		TokenEndpoint:         u.TieredTokenURL,
		Scopes:                strings.Fields(u.Scope),
	})
	if err != nil {
		return nil, err
	}
	u.logger().InfoContext(ctx, "idp.federate.ok", slog.String("idp_base_url", baseURL), slog.String("idp_name", created.Name))

	u.Directory.SelectIDP(q, created.Name)
	res := u.redirect(req, q)
	res.NewIdpMapping = &idpregistry.Mapping{
		IDPID:                    clientID,
		IDPName:                  created.Name,
		IDPBaseURL:               baseURL,
		InternalCredentials:      created.InternalCredentials,
		OriginalResourceServerID: req.ResourceServerID,
	}
	return res, nil
}

func (u *Upstream) redirect(req AuthorizeRequest, q url.Values) *AuthorizeResult {
	target := u.Directory.AuthorizeURL(req)
	if enc := q.Encode(); enc != "" {
		target += "?" + enc
	}
	h := make(http.Header)
	h.Set("Location", target)
	h.Set("Cache-Control", "no-store")
	return &AuthorizeResult{StatusCode: http.StatusFound, Header: h}
}

func (u *Upstream) logger() *slog.Logger {
	if u.Log != nil {
		return u.Log
	}
	return slog.Default()
}

// IDPName derives a stable backend identifier for the IDP at baseURL.
func IDPName(baseURL string) string {
	s := strings.ToLower(baseURL)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	var b strings.Builder
	b.WriteString("udap-")
	dash := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	name := strings.TrimSuffix(b.String(), "-")
	if len(name) > 64 {
		sum := sha256.Sum256([]byte(baseURL))
		name = strings.TrimSuffix(name[:55], "-") + "-" + hex.EncodeToString(sum[:4])
	}
	return name
}

func oauthError(status int, code, desc string) *AuthorizeResult {
	body, _ := json.Marshal(&udap.OAuthError{Code: code, Description: desc})
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return &AuthorizeResult{StatusCode: status, Header: h, Body: body}
}

func cloneValues(in url.Values) url.Values {
	out := make(url.Values, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// DirectoryError wraps a failed management API response.
func DirectoryError(op string, status int, body []byte) error {
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Errorf("%w: %s: status %d: %s", ErrDirectory, op, status, strings.TrimSpace(string(body)))
}
