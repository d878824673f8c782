package gateway

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/ggoodman/udap-gateway-go/udap"
)

// Token validates UDAP client assertions, then forwards the request body
// unchanged to the backend token endpoint at the same path. Requests
// without the udap parameter are forwarded without validation.
func (g *Gateway) Token(ctx context.Context, req TokenRequest) *Response {
	// Malformed pairs are skipped; the backend judges the raw body.
	form, err := url.ParseQuery(string(req.Body))
	if err != nil {
		g.log.DebugContext(ctx, "token.form.partial", slog.String("err", err.Error()))
	}

	if form.Get("udap") != "" {
		if oerr := g.validateAssertion(ctx, req, form); oerr != nil {
			g.log.InfoContext(ctx, "token.udap.reject", slog.String("error", oerr.Code), slog.String("error_description", oerr.Description))
			return noStore(jsonResponse(http.StatusBadRequest, oerr))
		}
		g.log.DebugContext(ctx, "token.udap.accept")
	}

	return noStore(g.forwardToken(ctx, req))
}

func (g *Gateway) validateAssertion(ctx context.Context, req TokenRequest, form url.Values) *udap.OAuthError {
	rs := g.cfg.Configs.Get(req.ResourceServerID)
	anchor, err := udap.TrustAnchorFor(rs)
	if err != nil {
		g.log.WarnContext(ctx, "token.udap.no_trust_anchor", slog.String("err", err.Error()))
		return &udap.OAuthError{Code: udap.CodeInvalidRequest, Description: "This resource server is not configured for UDAP."}
	}
	verified, err := g.cfg.Validator.Verify(ctx, form.Get("client_assertion"), anchor)
	if err != nil {
		g.log.DebugContext(ctx, "token.udap.verify.fail", slog.String("err", err.Error()))
		return assertionError(err)
	}
	if err := udap.CheckClaims(verified.Claims, g.cfg.Settings.PublicURL(req.Path), g.cfg.Now()); err != nil {
		return assertionError(err)
	}
	return nil
}

// forwardToken relays the backend's status, body and content type. Only a
// transport failure turns into the generic 500.
func (g *Gateway) forwardToken(ctx context.Context, req TokenRequest) *Response {
	target := g.cfg.Settings.BackendURL(req.Path)
	out, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(req.Body))
	if err != nil {
		g.log.ErrorContext(ctx, "token.proxy.fail", slog.String("err", err.Error()))
		return textResponse(http.StatusInternalServerError, msgTokenUnknown)
	}
	out.Header = g.cfg.Adapter.ProxyHeaders(req.Header)

	res, err := g.cfg.HTTP.Do(out)
	if err != nil {
		g.log.ErrorContext(ctx, "token.proxy.fail", slog.String("err", err.Error()))
		return textResponse(http.StatusInternalServerError, msgTokenUnknown)
	}
	defer func() { _ = res.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		g.log.ErrorContext(ctx, "token.proxy.fail", slog.String("err", err.Error()))
		return textResponse(http.StatusInternalServerError, msgTokenUnknown)
	}

	h := make(http.Header)
	if ct := res.Header.Get("Content-Type"); ct != "" {
		h.Set("Content-Type", ct)
	}
	if res.StatusCode >= 400 {
		g.log.InfoContext(ctx, "token.proxy.backend_error", slog.Int("status", res.StatusCode))
	}
	return newResponse(res.StatusCode, h, body)
}
