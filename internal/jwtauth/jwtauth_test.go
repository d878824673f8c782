package jwtauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

const tieredURL = "https://gw.example.org/tiered_client/token"

type mockOIDC struct {
	srv       *httptest.Server
	issuer    string
	jwksPath  string
	metaExtra map[string]any
}

func newMockOIDC(t *testing.T, keysJSON []byte, metaExtra map[string]any) *mockOIDC {
	t.Helper()
	m := &mockOIDC{jwksPath: "/oauth2/v1/keys", metaExtra: metaExtra}
	handler := http.NewServeMux()
	handler.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		meta := map[string]any{
			"issuer":                   m.issuer,
			"jwks_uri":                 m.issuer + m.jwksPath,
			"authorization_endpoint":   m.issuer + "/oauth2/v1/authorize",
			"token_endpoint":           m.issuer + "/oauth2/v1/token",
			"response_types_supported": []string{"code"},
		}
		for k, v := range m.metaExtra {
			meta[k] = v
		}
		_ = json.NewEncoder(w).Encode(meta)
	})
	handler.HandleFunc(m.jwksPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysJSON)
	})
	m.srv = httptest.NewServer(handler)
	m.issuer = m.srv.URL
	return m
}

func (m *mockOIDC) Close() { m.srv.Close() }

func genRSA(t *testing.T, kid string) (*rsa.PrivateKey, []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	jwk := jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}
	set := struct {
		Keys []jose.JSONWebKey `json:"keys"`
	}{Keys: []jose.JSONWebKey{jwk}}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return pk, b
}

func signToken(t *testing.T, pk *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func assertion(sub string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": sub,
		"sub": sub,
		"aud": tieredURL,
		"exp": now.Add(5 * time.Minute).Unix(),
		"iat": now.Unix(),
		"jti": "j1",
	}
}

func newVerifier(t *testing.T, oidc *mockOIDC) *jwksVerifier {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Issuer = oidc.issuer
	cfg.Leeway = 0
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	v, err := NewFromDiscovery(ctx, cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return v
}

func TestVerifier_HappyPath(t *testing.T) {
	pk, jwks := genRSA(t, "okta-key-1")
	oidc := newMockOIDC(t, jwks, nil)
	defer oidc.Close()
	v := newVerifier(t, oidc)

	tok := signToken(t, pk, "okta-key-1", assertion("client-1"))
	got, err := v.VerifyClientAssertion(context.Background(), tok, Expectations{
		Audience: tieredURL,
		Subject:  "client-1",
		KeyID:    "okta-key-1",
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Subject != "client-1" || got.KeyID != "okta-key-1" || got.Claims["jti"] != "j1" {
		t.Fatalf("unexpected assertion: %+v", got)
	}
}

func TestVerifier_Rejections(t *testing.T) {
	pk, jwks := genRSA(t, "okta-key-1")
	oidc := newMockOIDC(t, jwks, nil)
	defer oidc.Close()
	v := newVerifier(t, oidc)

	other, _ := genRSA(t, "okta-key-1")
	expired := assertion("client-1")
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	wrongIss := assertion("client-1")
	wrongIss["iss"] = "someone-else"
	noExp := assertion("client-1")
	delete(noExp, "exp")

	want := Expectations{Audience: tieredURL, Subject: "client-1", KeyID: "okta-key-1"}
	tests := []struct {
		name string
		tok  string
		want Expectations
	}{
		{name: "foreign key", tok: signToken(t, other, "okta-key-1", assertion("client-1")), want: want},
		{name: "expired", tok: signToken(t, pk, "okta-key-1", expired), want: want},
		{name: "missing exp", tok: signToken(t, pk, "okta-key-1", noExp), want: want},
		{name: "wrong subject", tok: signToken(t, pk, "okta-key-1", assertion("client-2")), want: want},
		{name: "iss differs from sub", tok: signToken(t, pk, "okta-key-1", wrongIss), want: want},
		{name: "wrong audience", tok: signToken(t, pk, "okta-key-1", assertion("client-1")), want: Expectations{Audience: "https://elsewhere", Subject: "client-1"}},
		{name: "pinned kid mismatch", tok: signToken(t, pk, "okta-key-1", assertion("client-1")), want: Expectations{Audience: tieredURL, Subject: "client-1", KeyID: "other-kid"}},
		{name: "empty", tok: "", want: want},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.VerifyClientAssertion(context.Background(), tt.tok, tt.want); !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("want ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestVerifier_DiscoveryMissingRequired(t *testing.T) {
	_, jwks := genRSA(t, "k")
	oidc := newMockOIDC(t, jwks, map[string]any{"jwks_uri": ""})
	defer oidc.Close()

	cfg := DefaultConfig()
	cfg.Issuer = oidc.issuer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := NewFromDiscovery(ctx, cfg); err == nil {
		t.Fatalf("expected error due to missing jwks_uri")
	}
}

func TestVerifier_Static(t *testing.T) {
	pk, jwks := genRSA(t, "k1")
	oidc := newMockOIDC(t, jwks, nil)
	defer oidc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := NewStatic(ctx, DefaultConfig(), oidc.issuer+oidc.jwksPath)
	if err != nil {
		t.Fatalf("new static: %v", err)
	}
	tok := signToken(t, pk, "k1", assertion("client-1"))
	if _, err := v.VerifyClientAssertion(ctx, tok, Expectations{Audience: tieredURL, Subject: "client-1"}); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := NewStatic(ctx, DefaultConfig(), ""); err == nil {
		t.Fatal("expected error for empty jwks uri")
	}
}

func TestUnverifiedSubject(t *testing.T) {
	pk, _ := genRSA(t, "k")
	sub, err := UnverifiedSubject(signToken(t, pk, "k", assertion("client-9")))
	if err != nil {
		t.Fatalf("unverified subject: %v", err)
	}
	if sub != "client-9" {
		t.Fatalf("sub = %q", sub)
	}
	if _, err := UnverifiedSubject("garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
	noSub := assertion("x")
	delete(noSub, "sub")
	if _, err := UnverifiedSubject(signToken(t, pk, "k", noSub)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for missing sub, got %v", err)
	}
}
