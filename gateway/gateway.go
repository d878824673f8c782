// Package gateway implements the UDAP flows independently of the HTTP
// transport. Every flow returns a Response; failures are mapped to the
// statuses and messages clients expect and are never returned as errors.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ggoodman/udap-gateway-go/config"
	"github.com/ggoodman/udap-gateway-go/idpregistry"
	"github.com/ggoodman/udap-gateway-go/platform"
	"github.com/ggoodman/udap-gateway-go/udap"
)

// Response is a transport-neutral HTTP response. Single-valued headers are
// in Headers and repeated ones in MultiValueHeaders.
type Response struct {
	StatusCode        int
	Headers           map[string]string
	MultiValueHeaders map[string][]string
	Body              []byte
}

// Config wires a Gateway.
type Config struct {
	Settings  *config.Settings
	Configs   platform.ConfigSource
	Registry  idpregistry.Registry
	Adapter   platform.Adapter
	Validator *udap.TrustValidator
	Signer    *udap.MetadataSigner
	Client    *udap.Client
	// HTTP is used for the token proxy and the FHIR metadata proxy.
	HTTP *http.Client
	Log  *slog.Logger
	Now  func() time.Time

	// RegisterTries bounds attempts to persist a new IDP mapping.
	// Defaults to 5.
	RegisterTries uint
	// RegisterBackOff returns the retry schedule for mapping writes.
	// Defaults to an exponential backoff starting at 100ms.
	RegisterBackOff func() backoff.BackOff
}

// Gateway runs the authorize, token, tiered token and metadata flows.
type Gateway struct {
	cfg Config
	log *slog.Logger
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Gateway, error) {
	var errs []error
	if cfg.Settings == nil {
		errs = append(errs, errors.New("settings are required"))
	}
	if cfg.Configs == nil {
		errs = append(errs, errors.New("resource server configs are required"))
	}
	if cfg.Registry == nil {
		errs = append(errs, errors.New("idp registry is required"))
	}
	if cfg.Adapter == nil {
		errs = append(errs, errors.New("platform adapter is required"))
	}
	if cfg.Signer == nil {
		errs = append(errs, errors.New("metadata signer is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.Validator == nil {
		cfg.Validator = &udap.TrustValidator{}
	}
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Client == nil {
		cfg.Client = &udap.Client{HTTP: cfg.HTTP, Validator: cfg.Validator}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RegisterTries == 0 {
		cfg.RegisterTries = 5
	}
	if cfg.RegisterBackOff == nil {
		cfg.RegisterBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		}
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{cfg: cfg, log: log}, nil
}

// AuthorizeRequest is an inbound /authorize call.
type AuthorizeRequest = platform.AuthorizeRequest

// TokenRequest is an inbound token endpoint call. Body is the raw form
// encoded request body and is forwarded verbatim.
type TokenRequest struct {
	ResourceServerID string
	Path             string
	Body             []byte
	Header           http.Header
}

// SplitHeaders partitions h into single and multi valued header maps.
func SplitHeaders(h http.Header) (map[string]string, map[string][]string) {
	single := map[string]string{}
	multi := map[string][]string{}
	for k, v := range h {
		switch len(v) {
		case 0:
		case 1:
			single[k] = v[0]
		default:
			multi[k] = append([]string(nil), v...)
		}
	}
	return single, multi
}

func newResponse(status int, h http.Header, body []byte) *Response {
	single, multi := SplitHeaders(h)
	return &Response{StatusCode: status, Headers: single, MultiValueHeaders: multi, Body: body}
}

func jsonResponse(status int, v any) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		return textResponse(http.StatusInternalServerError, "internal error")
	}
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return newResponse(status, h, body)
}

func textResponse(status int, msg string) *Response {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return newResponse(status, h, []byte(msg))
}

func errorResponse(status int, msg string) *Response {
	return jsonResponse(status, map[string]string{"error": msg})
}

// noStore sets the caching headers required on token responses.
func noStore(r *Response) *Response {
	if r.Headers == nil {
		r.Headers = map[string]string{}
	}
	r.Headers["Cache-Control"] = "no-store"
	r.Headers["Pragma"] = "no-cache"
	delete(r.MultiValueHeaders, "Cache-Control")
	delete(r.MultiValueHeaders, "Pragma")
	return r
}

// healthCheckID is looked up by Ready; it is never registered.
const healthCheckID = "__udap_gateway_health__"

// Ready reports whether the IDP registry is reachable.
func (g *Gateway) Ready(ctx context.Context) error {
	_, err := g.cfg.Registry.Lookup(ctx, healthCheckID)
	if err == nil || errors.Is(err, idpregistry.ErrUnknownIDP) {
		return nil
	}
	return err
}
