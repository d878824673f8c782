package udap

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ggoodman/udap-gateway-go/rsconfig"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// Credentials is the community identity the gateway uses when acting as a
// UDAP client. Anchor verifies the remote server's signed metadata.
type Credentials struct {
	Pair      *CertificateKeyPair
	Algorithm string
	Anchor    *x509.Certificate
	// SAN is the configured name that selected Pair. It is the iss and sub
	// of software statements; when empty the leaf's first SAN is used.
	SAN string
}

// CredentialsFor assembles rs's client identity and trust anchor.
func CredentialsFor(rs rsconfig.ResourceServer) (*Credentials, error) {
	pair, err := IdentityFor(rs)
	if err != nil {
		return nil, err
	}
	anchor, err := TrustAnchorFor(rs)
	if err != nil {
		return nil, err
	}
	return &Credentials{Pair: pair, Algorithm: rs.SigningAlgorithm, Anchor: anchor, SAN: rs.Identity.SAN}, nil
}

// Client performs the client side of UDAP against an external server:
// discovery, dynamic client registration and token requests.
type Client struct {
	HTTP      *http.Client
	Validator *TrustValidator
	Now       func() time.Time
}

// RegistrationRequest describes the client the gateway registers upstream.
type RegistrationRequest struct {
	ClientName   string
	RedirectURIs []string
	Scope        string
	Contacts     []string
}

// Discovered is the verified result of UDAP discovery.
type Discovered struct {
	Metadata  *Metadata
	Endpoints SignedEndpoints
}

// Discover fetches baseURL/.well-known/udap and verifies its signed_metadata
// against creds.Anchor. The signed endpoint values are authoritative.
func (c *Client) Discover(ctx context.Context, baseURL string, creds *Credentials) (*Discovered, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/.well-known/udap", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build discovery request: %v", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")
	res, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: discovery: %v", ErrUpstream, err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: discovery status %d", ErrUpstream, res.StatusCode)
	}
	var meta Metadata
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&meta); err != nil {
		return nil, fmt.Errorf("%w: decode discovery: %v", ErrUpstream, err)
	}
	if meta.SignedMetadata == "" {
		return nil, fmt.Errorf("%w: discovery document has no signed_metadata", ErrUpstream)
	}

	verified, err := c.Validator.Verify(ctx, meta.SignedMetadata, creds.Anchor)
	if err != nil {
		return nil, err
	}
	var ep SignedEndpoints
	if err := decodeClaims(verified.Claims, &ep); err != nil {
		return nil, fmt.Errorf("%w: signed_metadata claims: %v", ErrMalformedJWT, err)
	}
	if ep.Issuer != baseURL {
		return nil, fmt.Errorf("%w: signed_metadata iss %q does not match %q", ErrUpstream, ep.Issuer, baseURL)
	}
	if !HasSAN(verified.Certificate, ep.Issuer) {
		return nil, fmt.Errorf("%w: signing certificate does not carry SAN %q", ErrUntrustedChain, ep.Issuer)
	}
	if ep.TokenEndpoint == "" {
		return nil, fmt.Errorf("%w: signed_metadata has no token_endpoint", ErrUpstream)
	}
	return &Discovered{Metadata: &meta, Endpoints: ep}, nil
}

// Register performs UDAP dynamic client registration and returns the issued
// client_id.
func (c *Client) Register(ctx context.Context, registrationEndpoint string, creds *Credentials, r RegistrationRequest) (string, error) {
	leaf := creds.Pair.Leaf()
	if leaf == nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, errNoSigningKey)
	}
	san := creds.SAN
	if san == "" {
		san = firstSAN(leaf)
	}
	now := c.now()
	statement := map[string]any{
		"iss":                        san,
		"sub":                        san,
		"aud":                        registrationEndpoint,
		"exp":                        now.Add(5 * time.Minute).Unix(),
		"iat":                        now.Unix(),
		"jti":                        uuid.NewString(),
		"client_name":                r.ClientName,
		"redirect_uris":              r.RedirectURIs,
		"grant_types":                []string{"authorization_code", "refresh_token"},
		"response_types":             []string{"code"},
		"token_endpoint_auth_method": "private_key_jwt",
		"scope":                      r.Scope,
	}
	if len(r.Contacts) > 0 {
		statement["contacts"] = r.Contacts
	}
	signed, err := SignJWT(creds.Pair, creds.Algorithm, statement)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(map[string]string{"software_statement": signed, "udap": "1"})
	if err != nil {
		return "", fmt.Errorf("%w: marshal registration: %v", ErrUpstream, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build registration request: %v", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	res, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: registration: %v", ErrUpstream, err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusCreated && res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: registration status %d", ErrUpstream, res.StatusCode)
	}
	var out struct {
		ClientID string `json:"client_id"`
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode registration: %v", ErrUpstream, err)
	}
	if out.ClientID == "" {
		return "", fmt.Errorf("%w: registration response has no client_id", ErrUpstream)
	}
	return out.ClientID, nil
}

// ClientAssertion signs a private_key_jwt assertion for clientID targeting
// audience (the token endpoint).
func (c *Client) ClientAssertion(creds *Credentials, clientID, audience string) (string, error) {
	now := c.now()
	return SignJWT(creds.Pair, creds.Algorithm, map[string]any{
		"iss": clientID,
		"sub": clientID,
		"aud": audience,
		"exp": now.Add(5 * time.Minute).Unix(),
		"iat": now.Unix(),
		"jti": uuid.NewString(),
	})
}

// ExchangeCode redeems an authorization code at tokenEndpoint using a UDAP
// client assertion.
func (c *Client) ExchangeCode(ctx context.Context, tokenEndpoint string, creds *Credentials, clientID, code, redirectURI string) (*oauth2.Token, error) {
	assertion, err := c.ClientAssertion(creds, clientID, tokenEndpoint)
	if err != nil {
		return nil, err
	}
	cfg := oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient())
	tok, err := cfg.Exchange(ctx, code,
		oauth2.SetAuthURLParam("client_assertion_type", clientAssertionType),
		oauth2.SetAuthURLParam("client_assertion", assertion),
		oauth2.SetAuthURLParam("udap", "1"),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: token exchange: %w", ErrUpstream, err)
	}
	return tok, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func firstSAN(cert *x509.Certificate) string {
	if len(cert.URIs) > 0 {
		return cert.URIs[0].String()
	}
	if len(cert.DNSNames) > 0 {
		return cert.DNSNames[0]
	}
	return cert.Subject.CommonName
}

func decodeClaims(claims map[string]any, ref any) error {
	b, err := json.Marshal(claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}
