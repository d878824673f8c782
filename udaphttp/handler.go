// Package udaphttp exposes the gateway flows over net/http.
package udaphttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/udap-gateway-go/gateway"
	"github.com/ggoodman/udap-gateway-go/internal/logctx"
	"github.com/google/uuid"
)

// maxBodyBytes bounds token request bodies.
const maxBodyBytes = 1 << 20

var formMediaType = contenttype.NewMediaType("application/x-www-form-urlencoded")

// Flows is the subset of *gateway.Gateway served over HTTP.
type Flows interface {
	Authorize(ctx context.Context, req gateway.AuthorizeRequest) *gateway.Response
	Token(ctx context.Context, req gateway.TokenRequest) *gateway.Response
	TieredToken(ctx context.Context, req gateway.TieredTokenRequest) *gateway.Response
	Metadata(ctx context.Context, resourceServerID string) *gateway.Response
	FHIRWellKnown(ctx context.Context, community string) *gateway.Response
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the logger. Records are decorated with request data.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithHealthCheck sets the function backing GET /healthz. A non-nil error
// reports 503.
func WithHealthCheck(fn func(context.Context) error) Option {
	return func(h *Handler) { h.health = fn }
}

// Handler routes gateway requests.
type Handler struct {
	flows  Flows
	log    *slog.Logger
	health func(context.Context) error
	mux    *http.ServeMux
}

// New builds the handler.
func New(flows Flows, opts ...Option) (*Handler, error) {
	if flows == nil {
		return nil, errors.New("flows are required")
	}
	h := &Handler{flows: flows, log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	h.log = slog.New(logctx.Handler{Handler: h.log.Handler()})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth2/{resourceServerId}/v1/authorize", h.handleAuthorize)
	mux.HandleFunc("POST /oauth2/{resourceServerId}/v1/token", h.handleToken)
	mux.HandleFunc("GET /oauth2/{resourceServerId}/.well-known/udap", h.handleMetadata)
	mux.HandleFunc("POST /tiered_client/token", h.handleTieredToken)
	mux.HandleFunc("GET /.well-known/udap", h.handleFHIRWellKnown)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	h.mux = mux
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rsID := r.PathValue("resourceServerId")
	ctx := logctx.WithResourceServer(r.Context(), &logctx.ResourceServerData{ID: rsID})
	h.log.InfoContext(ctx, "http.authorize.start")

	res := h.flows.Authorize(ctx, gateway.AuthorizeRequest{
		ResourceServerID: rsID,
		Path:             r.URL.Path,
		Query:            r.URL.Query(),
		Header:           forwardedHeader(r),
	})
	writeResponse(w, res)
	h.log.InfoContext(ctx, "http.authorize.ok", slog.Int("status", res.StatusCode), slog.Duration("took", time.Since(start)))
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rsID := r.PathValue("resourceServerId")
	ctx := logctx.WithResourceServer(r.Context(), &logctx.ResourceServerData{ID: rsID})
	h.log.InfoContext(ctx, "http.token.start")

	body, ok := h.readForm(ctx, w, r)
	if !ok {
		return
	}
	res := h.flows.Token(ctx, gateway.TokenRequest{
		ResourceServerID: rsID,
		Path:             r.URL.Path,
		Body:             body,
		Header:           forwardedHeader(r),
	})
	writeResponse(w, res)
	h.log.InfoContext(ctx, "http.token.ok", slog.Int("status", res.StatusCode), slog.Duration("took", time.Since(start)))
}

func (h *Handler) handleTieredToken(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.tiered_token.start")

	body, ok := h.readForm(ctx, w, r)
	if !ok {
		return
	}
	res := h.flows.TieredToken(ctx, gateway.TieredTokenRequest{Body: body, Header: forwardedHeader(r)})
	writeResponse(w, res)
	h.log.InfoContext(ctx, "http.tiered_token.ok", slog.Int("status", res.StatusCode), slog.Duration("took", time.Since(start)))
}

func (h *Handler) handleMetadata(w http.ResponseWriter, r *http.Request) {
	rsID := r.PathValue("resourceServerId")
	ctx := logctx.WithResourceServer(r.Context(), &logctx.ResourceServerData{ID: rsID})
	res := h.flows.Metadata(ctx, rsID)
	writeResponse(w, res)
	h.log.DebugContext(ctx, "http.metadata.ok", slog.Int("status", res.StatusCode))
}

func (h *Handler) handleFHIRWellKnown(w http.ResponseWriter, r *http.Request) {
	res := h.flows.FHIRWellKnown(r.Context(), r.URL.Query().Get("community"))
	writeResponse(w, res)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.log.WarnContext(r.Context(), "http.health.fail", slog.String("err", err.Error()))
			writeJSONError(w, http.StatusServiceUnavailable, "unhealthy")
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// readForm enforces a form encoded body when a content type is given and
// returns the raw bytes. Rejections are token responses and carry no-store.
func (h *Handler) readForm(ctx context.Context, w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	if r.Header.Get("Content-Type") != "" {
		ctype, err := contenttype.GetMediaType(r)
		if err != nil || !ctype.Matches(formMediaType) {
			writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/x-www-form-urlencoded")
			h.log.WarnContext(ctx, "content_type.unsupported")
			return nil, false
		}
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		h.log.WarnContext(ctx, "http.body.read.fail", slog.String("err", err.Error()))
		return nil, false
	}
	return body, true
}

// forwardedHeader returns a copy of r's headers with the caller's address
// appended to X-Forwarded-For.
func forwardedHeader(r *http.Request) http.Header {
	h := r.Header.Clone()
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return h
	}
	if prior := h.Get("X-Forwarded-For"); prior != "" {
		h.Set("X-Forwarded-For", prior+", "+host)
	} else {
		h.Set("X-Forwarded-For", host)
	}
	return h
}

func writeResponse(w http.ResponseWriter, res *gateway.Response) {
	for k, v := range res.Headers {
		w.Header().Set(k, v)
	}
	for k, vs := range res.MultiValueHeaders {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(res.StatusCode)
	_, _ = w.Write(res.Body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": strings.TrimSpace(msg)})
}
