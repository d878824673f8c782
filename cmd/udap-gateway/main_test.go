package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ggoodman/udap-gateway-go/config"
	"github.com/ggoodman/udap-gateway-go/idpregistry/memory"
	redisregistry "github.com/ggoodman/udap-gateway-go/idpregistry/redis"
	"github.com/ggoodman/udap-gateway-go/idpregistry/registrytest"
	jose "github.com/go-jose/go-jose/v4"
)

func TestEndpointPatterns(t *testing.T) {
	s := &config.Settings{BaseDomain: "gw.example.org", TokenEndpointPattern: "https://tok.example.org/<resource_server_id>/token"}
	p := endpointPatterns(s)
	if p.Authorize != "https://gw.example.org/oauth2/<resource_server_id>/v1/authorize" {
		t.Fatalf("authorize = %q", p.Authorize)
	}
	if p.Token != "https://tok.example.org/<resource_server_id>/token" {
		t.Fatalf("token = %q", p.Token)
	}
	if got := config.Endpoint(p.Registration, "rs1"); got != "https://gw.example.org/oauth2/rs1/v1/register" {
		t.Fatalf("registration = %q", got)
	}
}

func TestNewRegistryDefaultsToMemory(t *testing.T) {
	r, err := newRegistry(context.Background(), &config.Settings{RegistryBackend: "memory"})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if _, ok := r.(*memory.Registry); !ok {
		t.Fatalf("registry = %T", r)
	}
}

func TestNewRegistryRedisFromEnv(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", mr.Addr())
	t.Setenv("REDIS_KEY_PREFIX", "gw:")

	r, err := newRegistry(context.Background(), &config.Settings{RegistryBackend: "redis"})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	defer r.Close()
	if _, ok := r.(*redisregistry.Registry); !ok {
		t.Fatalf("registry = %T", r)
	}
	if _, err := r.Register(context.Background(), registrytest.Sample("client-1")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !mr.Exists("gw:idp:client-1") {
		t.Fatalf("keys = %v", mr.Keys())
	}
}

func TestNewOktaVerifierStaticJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: &key.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig"}}}
	var discovery bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/keys" {
			discovery = true
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := newOktaVerifier(ctx, &config.Settings{BackendDomain: "unreachable.invalid", OktaJWKSURI: srv.URL + "/keys"})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	if v == nil || discovery {
		t.Fatal("static jwks should not perform discovery")
	}
}
