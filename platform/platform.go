// Package platform abstracts the OAuth authorization server that sits
// behind the gateway. The adapter is chosen once at startup and passed to
// the flows in package gateway.
package platform

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/ggoodman/udap-gateway-go/idpregistry"
)

// AuthorizeRequest is an inbound /authorize call.
type AuthorizeRequest struct {
	ResourceServerID string
	// Path is the request path, e.g. /oauth2/rs1/v1/authorize.
	Path   string
	Query  url.Values
	Header http.Header
}

// AuthorizeResult is the response the gateway should return. When a new
// upstream IDP was federated, NewIdpMapping carries the record that must be
// persisted before the response is sent.
type AuthorizeResult struct {
	StatusCode    int
	Header        http.Header
	Body          []byte
	NewIdpMapping *idpregistry.Mapping
}

// TieredCredentials are the validated credentials from a tiered token
// request.
type TieredCredentials struct {
	// ClientID is the upstream client id, equal to the mapping's IDPID.
	ClientID string
}

// Adapter is the capability set each platform provides.
type Adapter interface {
	// Name identifies the platform in logs.
	Name() string
	Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error)
	// ProxyHeaders builds the headers for forwarding a token request to the
	// backend.
	ProxyHeaders(in http.Header) http.Header
	// TieredClientID extracts the client id presented on the tiered token
	// endpoint, before any validation.
	TieredClientID(form url.Values) (string, error)
	ValidateTieredRequest(ctx context.Context, m *idpregistry.Mapping, form url.Values) (*TieredCredentials, error)
}

var (
	// ErrInvalidTieredRequest means the backend's credentials on the tiered
	// token endpoint did not validate.
	ErrInvalidTieredRequest = errors.New("platform: invalid tiered request")
	// ErrIDPNotFound is returned by a Directory when the backend has no
	// record of an IDP.
	ErrIDPNotFound = errors.New("platform: idp not found")
	// ErrDirectory wraps failures talking to the backend's management API.
	ErrDirectory = errors.New("platform: directory request failed")
)

// forwardedHeaders are copied verbatim by both platforms.
var forwardedHeaders = []string{"Content-Type", "Accept", "Authorization", "User-Agent"}

// CopyHeaders copies the standard token request headers from in.
func CopyHeaders(in http.Header) http.Header {
	out := make(http.Header)
	for _, k := range forwardedHeaders {
		if v := in.Values(k); len(v) > 0 {
			out[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
		}
	}
	if out.Get("Content-Type") == "" {
		out.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return out
}
