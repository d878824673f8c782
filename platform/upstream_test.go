package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/ggoodman/udap-gateway-go/internal/testpki"
	"github.com/ggoodman/udap-gateway-go/internal/udaptest"
	"github.com/ggoodman/udap-gateway-go/rsconfig"
	"github.com/ggoodman/udap-gateway-go/udap"
)

type fakeDirectory struct {
	known   map[string]string
	created []IDPSpec
	findErr error
}

func (d *fakeDirectory) AuthorizeURL(req AuthorizeRequest) string {
	return "https://backend.example.org" + req.Path
}

func (d *fakeDirectory) CallbackURL() string {
	return "https://backend.example.org/callback"
}

func (d *fakeDirectory) SelectIDP(q url.Values, name string) { q.Set("idp", name) }

func (d *fakeDirectory) FindIDP(ctx context.Context, baseURL string) (string, error) {
	if d.findErr != nil {
		return "", d.findErr
	}
	if name, ok := d.known[baseURL]; ok {
		return name, nil
	}
	return "", ErrIDPNotFound
}

func (d *fakeDirectory) CreateIDP(ctx context.Context, spec IDPSpec) (*CreatedIDP, error) {
	d.created = append(d.created, spec)
	return &CreatedIDP{Name: "backend-idp-1", InternalCredentials: "kid-1"}, nil
}

type fixture struct {
	ca  *testpki.CA
	idp *udaptest.IDP
	dir *fakeDirectory
	up  *Upstream
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ca := testpki.NewCA(t, "community")
	idp := udaptest.NewIDP(t, ca)
	dir := &fakeDirectory{known: map[string]string{}}
	up := &Upstream{
		Directory: dir,
		Configs: udaptest.Configs{
			"rs1": udaptest.ResourceServer(t, ca, "rs1", rsconfig.RoleIdentityProvider, "https://gw.example.org/oauth2/rs1"),
		},
		Client:         &udap.Client{HTTP: idp.Client(), Validator: &udap.TrustValidator{}},
		TieredTokenURL: "https://gw.example.org/tiered_client/token",
		ClientName:     "UDAP gateway",
		Scope:          "openid udap",
		Contacts:       []string{"mailto:ops@gw.example.org"},
	}
	return &fixture{ca: ca, idp: idp, dir: dir, up: up}
}

func authorizeReq(q url.Values) AuthorizeRequest {
	return AuthorizeRequest{ResourceServerID: "rs1", Path: "/oauth2/rs1/v1/authorize", Query: q, Header: http.Header{}}
}

func location(t *testing.T, res *AuthorizeResult) *url.URL {
	t.Helper()
	if res.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, body %s", res.StatusCode, res.Body)
	}
	u, err := url.Parse(res.Header.Get("Location"))
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	return u
}

func TestUpstream_NoIDPPassesThrough(t *testing.T) {
	f := newFixture(t)
	q := url.Values{"client_id": {"app"}, "state": {"s1"}}
	res, err := f.up.Authorize(context.Background(), authorizeReq(q))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	loc := location(t, res)
	if loc.Host != "backend.example.org" || loc.Path != "/oauth2/rs1/v1/authorize" {
		t.Fatalf("unexpected redirect %s", loc)
	}
	if loc.Query().Get("state") != "s1" || loc.Query().Get("client_id") != "app" {
		t.Fatalf("query not preserved: %s", loc.RawQuery)
	}
	if res.NewIdpMapping != nil {
		t.Fatal("unexpected mapping")
	}
}

func TestUpstream_KnownIDP(t *testing.T) {
	f := newFixture(t)
	f.dir.known[f.idp.Issuer] = "existing-idp"
	q := url.Values{"idp": {f.idp.Issuer + "/"}, "state": {"s1"}}
	res, err := f.up.Authorize(context.Background(), authorizeReq(q))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if got := location(t, res).Query().Get("idp"); got != "existing-idp" {
		t.Fatalf("idp = %q", got)
	}
	if res.NewIdpMapping != nil || len(f.idp.Registrations()) != 0 {
		t.Fatal("known IDP must not be registered again")
	}
	if q.Get("idp") != f.idp.Issuer+"/" {
		t.Fatal("inbound query was mutated")
	}
}

func TestUpstream_NewIDP(t *testing.T) {
	f := newFixture(t)
	q := url.Values{"idp": {f.idp.Issuer}, "state": {"s1"}}
	res, err := f.up.Authorize(context.Background(), authorizeReq(q))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if got := location(t, res).Query().Get("idp"); got != "backend-idp-1" {
		t.Fatalf("idp = %q", got)
	}
	m := res.NewIdpMapping
	if m == nil {
		t.Fatal("expected a new mapping")
	}
	if m.IDPID != "upstream-client-1" || m.IDPName != "backend-idp-1" || m.IDPBaseURL != f.idp.Issuer ||
		m.InternalCredentials != "kid-1" || m.OriginalResourceServerID != "rs1" {
		t.Fatalf("unexpected mapping: %+v", *m)
	}
	if len(f.idp.Registrations()) != 1 {
		t.Fatalf("registrations = %d", len(f.idp.Registrations()))
	}
	spec := f.dir.created[0]
	if spec.TokenEndpoint != f.up.TieredTokenURL || spec.AuthorizationEndpoint != f.idp.Issuer+"/authorize" || spec.ClientID != "upstream-client-1" {
		t.Fatalf("unexpected idp spec: %+v", spec)
	}

	stmt, err := (&udap.TrustValidator{}).Verify(context.Background(), f.idp.Registrations()[0], f.ca.Cert)
	if err != nil {
		t.Fatalf("software statement: %v", err)
	}
	uris, _ := stmt.Claims["redirect_uris"].([]any)
	if len(uris) != 1 || uris[0] != "https://backend.example.org/callback" {
		t.Fatalf("redirect_uris = %v", stmt.Claims["redirect_uris"])
	}
	contacts, _ := stmt.Claims["contacts"].([]any)
	if len(contacts) != 1 || contacts[0] != "mailto:ops@gw.example.org" {
		t.Fatalf("contacts = %v", stmt.Claims["contacts"])
	}
	if stmt.Claims["iss"] != "https://gw.example.org/oauth2/rs1" {
		t.Fatalf("iss = %v", stmt.Claims["iss"])
	}
}

func TestUpstream_Rejections(t *testing.T) {
	f := newFixture(t)
	rogue := udaptest.NewIDP(t, testpki.NewCA(t, "rogue"))

	tests := []struct {
		name string
		req  AuthorizeRequest
		desc string
	}{
		{name: "relative idp", req: authorizeReq(url.Values{"idp": {"/not/absolute"}}), desc: "The idp parameter must be an absolute URL."},
		{name: "untrusted idp", req: authorizeReq(url.Values{"idp": {rogue.Issuer}}), desc: "The requested IDP is not trusted by this server."},
		{
			name: "unknown resource server",
			req:  AuthorizeRequest{ResourceServerID: "nope", Path: "/oauth2/nope/v1/authorize", Query: url.Values{"idp": {f.idp.Issuer}}},
			desc: "Unknown resource server.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.up.Authorize(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("authorize: %v", err)
			}
			if res.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d", res.StatusCode)
			}
			var body udap.OAuthError
			if err := json.Unmarshal(res.Body, &body); err != nil {
				t.Fatalf("body: %v", err)
			}
			if body.Code != udap.CodeInvalidRequest || body.Description != tt.desc {
				t.Fatalf("body = %+v", body)
			}
		})
	}
	if len(f.dir.created) != 0 {
		t.Fatal("no IDP should have been created")
	}
}

func TestUpstream_DirectoryFailure(t *testing.T) {
	f := newFixture(t)
	f.dir.findErr = DirectoryError("list", http.StatusUnauthorized, []byte(`{"errorCode":"E0000011"}`))
	_, err := f.up.Authorize(context.Background(), authorizeReq(url.Values{"idp": {f.idp.Issuer}}))
	if !errors.Is(err, ErrDirectory) {
		t.Fatalf("want ErrDirectory, got %v", err)
	}
}

func TestIDPName(t *testing.T) {
	if got := IDPName("https://IDP.example.org/fhir/r4"); got != "udap-idp-example-org-fhir-r4" {
		t.Fatalf("name = %q", got)
	}
	if IDPName("https://a.example.org") == IDPName("https://b.example.org") {
		t.Fatal("distinct IDPs share a name")
	}
	long := "https://idp.example.org/" + strings.Repeat("segment/", 20)
	got := IDPName(long)
	if len(got) > 64 {
		t.Fatalf("name too long: %d", len(got))
	}
	if got != IDPName(long) {
		t.Fatal("name is not stable")
	}
}

func TestCopyHeaders(t *testing.T) {
	in := http.Header{}
	in.Set("Authorization", "Basic abc")
	in.Set("Cookie", "secret")
	out := CopyHeaders(in)
	if out.Get("Authorization") != "Basic abc" {
		t.Fatal("authorization not forwarded")
	}
	if out.Get("Cookie") != "" {
		t.Fatal("cookie must not be forwarded")
	}
	if out.Get("Content-Type") != "application/x-www-form-urlencoded" {
		t.Fatalf("content-type = %q", out.Get("Content-Type"))
	}
}
