// Package udaptest runs a fake upstream UDAP identity provider for tests.
package udaptest

import (
	"crypto/x509"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/ggoodman/udap-gateway-go/internal/testpki"
	"github.com/ggoodman/udap-gateway-go/udap"
)

// IDP is an httptest server speaking the server side of UDAP discovery,
// registration and the authorization code grant.
type IDP struct {
	*httptest.Server
	CA     *testpki.CA
	Leaf   *testpki.Leaf
	Issuer string

	// ClientID is returned by registration.
	ClientID string
	// TokenStatus overrides the token endpoint status when non-zero.
	TokenStatus int
	// TokenFields are merged into successful token responses.
	TokenFields map[string]any

	mu            sync.Mutex
	registrations []string
	tokenForms    []url.Values
}

// NewIDP starts an IDP whose metadata is signed by a leaf issued from ca.
// The server is closed when the test ends.
func NewIDP(t *testing.T, ca *testpki.CA) *IDP {
	t.Helper()
	p := &IDP{CA: ca, ClientID: "upstream-client-1"}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/udap", p.serveMetadata)
	mux.HandleFunc("POST /register", p.serveRegister)
	mux.HandleFunc("POST /token", p.serveToken)
	p.Server = httptest.NewServer(mux)
	p.Issuer = p.Server.URL
	p.Leaf = ca.Issue(t, p.Issuer, testpki.LeafOptions{})
	t.Cleanup(p.Server.Close)
	return p
}

func (p *IDP) pair() *udap.CertificateKeyPair {
	return &udap.CertificateKeyPair{Chain: []*x509.Certificate{p.Leaf.Cert, p.CA.Cert}, Key: p.Leaf.Key}
}

func (p *IDP) serveMetadata(w http.ResponseWriter, r *http.Request) {
	ep := udap.SignedEndpoints{
		Issuer:                p.Issuer,
		Subject:               p.Issuer,
		AuthorizationEndpoint: p.Issuer + "/authorize",
		TokenEndpoint:         p.Issuer + "/token",
		RegistrationEndpoint:  p.Issuer + "/register",
	}
	signed, err := udap.SignJWT(p.pair(), "RS256", ep)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(udap.Metadata{
		UDAPVersionsSupported: []string{"1"},
		AuthorizationEndpoint: ep.AuthorizationEndpoint,
		TokenEndpoint:         ep.TokenEndpoint,
		RegistrationEndpoint:  ep.RegistrationEndpoint,
		SignedMetadata:        signed,
	})
}

func (p *IDP) serveRegister(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	p.registrations = append(p.registrations, body["software_statement"])
	p.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"client_id": p.ClientID})
}

func (p *IDP) serveToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	p.tokenForms = append(p.tokenForms, r.PostForm)
	status := p.TokenStatus
	fields := p.TokenFields
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}
	body := map[string]any{
		"access_token": "upstream-at",
		"token_type":   "Bearer",
		"expires_in":   300,
		"id_token":     "upstream-idt",
		"scope":        "openid udap",
	}
	for k, v := range fields {
		body[k] = v
	}
	_ = json.NewEncoder(w).Encode(body)
}

// Registrations returns the software statements received so far.
func (p *IDP) Registrations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.registrations...)
}

// TokenForms returns the token request forms received so far.
func (p *IDP) TokenForms() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]url.Values(nil), p.tokenForms...)
}
