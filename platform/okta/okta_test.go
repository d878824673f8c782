package okta

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/ggoodman/udap-gateway-go/idpregistry"
	"github.com/ggoodman/udap-gateway-go/internal/jwtauth"
	"github.com/ggoodman/udap-gateway-go/platform"
	"github.com/golang-jwt/jwt/v5"
)

const tieredURL = "https://gw.example.org/tiered_client/token"

type fakeVerifier struct {
	got jwtauth.Expectations
	err error
}

func (f *fakeVerifier) VerifyClientAssertion(ctx context.Context, tok string, want jwtauth.Expectations) (*jwtauth.Assertion, error) {
	f.got = want
	if f.err != nil {
		return nil, f.err
	}
	return &jwtauth.Assertion{Subject: want.Subject, KeyID: want.KeyID}, nil
}

type fakeOkta struct {
	srv     *httptest.Server
	idps    []idp
	auth    []string
	created []idp
}

func newFakeOkta(t *testing.T) *fakeOkta {
	t.Helper()
	f := &fakeOkta{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/idps", func(w http.ResponseWriter, r *http.Request) {
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		var out []idp
		for _, p := range f.idps {
			if strings.Contains(p.Name, r.URL.Query().Get("q")) {
				out = append(out, p)
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("POST /api/v1/idps", func(w http.ResponseWriter, r *http.Request) {
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		var in idp
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.created = append(f.created, in)
		in.ID = "0oa-new"
		in.Protocol.Credentials.Signing.Kid = "kid-generated"
		f.idps = append(f.idps, in)
		_ = json.NewEncoder(w).Encode(in)
	})
	f.srv = httptest.NewTLSServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newAdapter(t *testing.T, f *fakeOkta, v jwtauth.Verifier) *Adapter {
	t.Helper()
	a, err := New(Config{
		Domain:         strings.TrimPrefix(f.srv.URL, "https://"),
		APIToken:       "api-token",
		TieredTokenURL: tieredURL,
		HTTP:           f.srv.Client(),
	}, platform.Upstream{}, v, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestDirectory_FindAndCreate(t *testing.T) {
	f := newFakeOkta(t)
	a := newAdapter(t, f, &fakeVerifier{})
	ctx := context.Background()

	if _, err := a.dir.FindIDP(ctx, "https://idp.example.org"); !errors.Is(err, platform.ErrIDPNotFound) {
		t.Fatalf("want ErrIDPNotFound, got %v", err)
	}
	created, err := a.dir.CreateIDP(ctx, platform.IDPSpec{
		Name:                  platform.IDPName("https://idp.example.org"),
		BaseURL:               "https://idp.example.org",
		ClientID:              "upstream-1",
		AuthorizationEndpoint: "https://idp.example.org/authorize",
		TokenEndpoint:         tieredURL,
		Scopes:                []string{"openid", "udap"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Name != "0oa-new" || created.InternalCredentials != "kid-generated" {
		t.Fatalf("unexpected created idp: %+v", created)
	}
	sent := f.created[0]
	if sent.Protocol.Credentials.Client.TokenEndpointAuthMethod != "private_key_jwt" || sent.Protocol.Endpoints.Token.URL != tieredURL {
		t.Fatalf("unexpected create body: %+v", sent)
	}

	id, err := a.dir.FindIDP(ctx, "https://idp.example.org")
	if err != nil || id != "0oa-new" {
		t.Fatalf("find after create: %q %v", id, err)
	}
	for _, h := range f.auth {
		if h != "SSWS api-token" {
			t.Fatalf("authorization header = %q", h)
		}
	}
}

func TestDirectory_URLs(t *testing.T) {
	a := newAdapter(t, newFakeOkta(t), &fakeVerifier{})
	base := "https://" + a.cfg.Domain
	if got := a.dir.AuthorizeURL(platform.AuthorizeRequest{Path: "/oauth2/rs1/v1/authorize"}); got != base+"/oauth2/rs1/v1/authorize" {
		t.Fatalf("authorize url = %q", got)
	}
	q := url.Values{"idp": {"https://idp.example.org"}}
	a.dir.SelectIDP(q, "0oa1")
	if q.Get("idp") != "0oa1" {
		t.Fatalf("idp = %q", q.Get("idp"))
	}
}

func TestProxyHeaders(t *testing.T) {
	a := newAdapter(t, newFakeOkta(t), &fakeVerifier{})
	in := http.Header{}
	in.Set("Content-Type", "application/x-www-form-urlencoded")
	in.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	in.Set("Cookie", "c")
	out := a.ProxyHeaders(in)
	if out.Get("X-Forwarded-For") != "203.0.113.9, 10.0.0.1" || out.Get("Cookie") != "" {
		t.Fatalf("unexpected headers: %v", out)
	}
}

func signedAssertion(t *testing.T, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub})
	s, err := tok.SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestTiered(t *testing.T) {
	v := &fakeVerifier{}
	a := newAdapter(t, newFakeOkta(t), v)
	m := &idpregistry.Mapping{IDPID: "upstream-1", InternalCredentials: "kid-generated"}
	form := url.Values{
		"grant_type":            {"authorization_code"},
		"client_assertion_type": {clientAssertionType},
		"client_assertion":      {signedAssertion(t, "upstream-1")},
	}

	id, err := a.TieredClientID(form)
	if err != nil || id != "upstream-1" {
		t.Fatalf("client id = %q, %v", id, err)
	}
	creds, err := a.ValidateTieredRequest(context.Background(), m, form)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if creds.ClientID != "upstream-1" {
		t.Fatalf("creds = %+v", creds)
	}
	if v.got != (jwtauth.Expectations{Audience: tieredURL, Subject: "upstream-1", KeyID: "kid-generated"}) {
		t.Fatalf("expectations = %+v", v.got)
	}

	v.err = jwtauth.ErrUnauthorized
	if _, err := a.ValidateTieredRequest(context.Background(), m, form); !errors.Is(err, platform.ErrInvalidTieredRequest) {
		t.Fatalf("want ErrInvalidTieredRequest, got %v", err)
	}

	form.Set("client_assertion_type", "other")
	if _, err := a.TieredClientID(form); !errors.Is(err, platform.ErrInvalidTieredRequest) {
		t.Fatalf("want ErrInvalidTieredRequest, got %v", err)
	}
}
