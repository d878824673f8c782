package auth0

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
	"github.com/ggoodman/udap-gateway-go/platform"
)

type fakeAuth0 struct {
	srv   *httptest.Server
	conns []connection
	auth  []string
	fail  bool
}

func newFakeAuth0(t *testing.T) *fakeAuth0 {
	t.Helper()
	f := &fakeAuth0{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v2/connections", func(w http.ResponseWriter, r *http.Request) {
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		out := []connection{}
		for _, c := range f.conns {
			if c.Name == r.URL.Query().Get("name") {
				out = append(out, c)
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("POST /api/v2/connections", func(w http.ResponseWriter, r *http.Request) {
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		if f.fail {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"exists"}`))
			return
		}
		var in connection
		_ = json.NewDecoder(r.Body).Decode(&in)
		in.ID = "con_1"
		f.conns = append(f.conns, in)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(in)
	})
	f.srv = httptest.NewTLSServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newAdapter(t *testing.T, f *fakeAuth0) *Adapter {
	t.Helper()
	a, err := New(Config{
		Domain:   strings.TrimPrefix(f.srv.URL, "https://"),
		APIToken: "mgmt",
		HTTP:     f.srv.Client(),
	}, platform.Upstream{TieredTokenURL: "https://gw.example.org/tiered_client/token"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestDirectory_FindAndCreate(t *testing.T) {
	f := newFakeAuth0(t)
	a := newAdapter(t, f)
	dir := a.up.Directory
	ctx := context.Background()

	if _, err := dir.FindIDP(ctx, "https://idp.example.org"); !errors.Is(err, platform.ErrIDPNotFound) {
		t.Fatalf("want ErrIDPNotFound, got %v", err)
	}
	spec := platform.IDPSpec{
		Name:                  platform.IDPName("https://idp.example.org"),
		ClientID:              "upstream-1",
		AuthorizationEndpoint: "https://idp.example.org/authorize",
		TokenEndpoint:         "https://gw.example.org/tiered_client/token",
		Scopes:                []string{"openid", "udap"},
	}
	created, err := dir.CreateIDP(ctx, spec)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Name != spec.Name || len(created.InternalCredentials) < 40 {
		t.Fatalf("unexpected created idp: %+v", created)
	}
	sent := f.conns[0].Options
	if sent.ClientSecret != created.InternalCredentials || sent.Scope != "openid udap" || sent.TokenEndpoint != spec.TokenEndpoint {
		t.Fatalf("unexpected connection options: %+v", sent)
	}
	again, err := dir.CreateIDP(ctx, spec)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if again.InternalCredentials == created.InternalCredentials {
		t.Fatal("secrets must be freshly generated")
	}

	name, err := dir.FindIDP(ctx, "https://idp.example.org")
	if err != nil || name != spec.Name {
		t.Fatalf("find: %q %v", name, err)
	}
	for _, h := range f.auth {
		if h != "Bearer mgmt" {
			t.Fatalf("authorization header = %q", h)
		}
	}

	f.fail = true
	if _, err := dir.CreateIDP(ctx, spec); !errors.Is(err, platform.ErrDirectory) {
		t.Fatalf("want ErrDirectory, got %v", err)
	}
}

func TestDirectory_SelectIDP(t *testing.T) {
	a := newAdapter(t, newFakeAuth0(t))
	q := url.Values{"idp": {"https://idp.example.org"}, "state": {"s"}}
	a.up.Directory.SelectIDP(q, "udap-idp-example-org")
	if q.Has("idp") || q.Get("connection") != "udap-idp-example-org" || q.Get("state") != "s" {
		t.Fatalf("query = %v", q)
	}
	if got := a.up.Directory.AuthorizeURL(platform.AuthorizeRequest{Path: "/oauth2/rs1/v1/authorize"}); !strings.HasSuffix(got, "/authorize") || strings.Contains(got, "rs1") {
		t.Fatalf("authorize url = %q", got)
	}
}

func TestProxyHeaders(t *testing.T) {
	a := newAdapter(t, newFakeAuth0(t))
	in := http.Header{}
	in.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	in.Set("Accept", "application/json")
	out := a.ProxyHeaders(in)
	if out.Get("auth0-forwarded-for") != "203.0.113.9" {
		t.Fatalf("auth0-forwarded-for = %q", out.Get("auth0-forwarded-for"))
	}
	if out.Get("Accept") != "application/json" {
		t.Fatal("accept not forwarded")
	}
}

func TestValidateTieredRequest(t *testing.T) {
	a := newAdapter(t, newFakeAuth0(t))
	m := &idpregistry.Mapping{IDPID: "upstream-1", InternalCredentials: "s3cret"}
	ctx := context.Background()

	tests := []struct {
		name    string
		form    url.Values
		wantErr bool
	}{
		{name: "valid", form: url.Values{"client_id": {"upstream-1"}, "client_secret": {"s3cret"}}},
		{name: "wrong secret", form: url.Values{"client_id": {"upstream-1"}, "client_secret": {"nope"}}, wantErr: true},
		{name: "missing secret", form: url.Values{"client_id": {"upstream-1"}}, wantErr: true},
		{name: "wrong client", form: url.Values{"client_id": {"other"}, "client_secret": {"s3cret"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds, err := a.ValidateTieredRequest(ctx, m, tt.form)
			if tt.wantErr {
				if !errors.Is(err, platform.ErrInvalidTieredRequest) {
					t.Fatalf("want ErrInvalidTieredRequest, got %v", err)
				}
				return
			}
			if err != nil || creds.ClientID != "upstream-1" {
				t.Fatalf("creds=%+v err=%v", creds, err)
			}
		})
	}

	if _, err := a.TieredClientID(url.Values{}); !errors.Is(err, platform.ErrInvalidTieredRequest) {
		t.Fatalf("want ErrInvalidTieredRequest, got %v", err)
	}
}
