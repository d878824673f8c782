package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Metadata serves the signed UDAP discovery document for a resource server
// acting as an identity provider. It is regenerated on every call.
func (g *Gateway) Metadata(ctx context.Context, resourceServerID string) *Response {
	rs := g.cfg.Configs.Get(resourceServerID)
	doc, err := g.cfg.Signer.Build(rs)
	if err != nil {
		status, msg := metadataError(err)
		g.log.WarnContext(ctx, "metadata.build.fail", slog.Int("status", status), slog.String("err", err.Error()))
		return errorResponse(status, msg)
	}
	return jsonResponse(http.StatusOK, doc)
}

// FHIRWellKnown proxies the FHIR server's UDAP metadata for a community.
func (g *Gateway) FHIRWellKnown(ctx context.Context, community string) *Response {
	base := strings.TrimSuffix(g.cfg.Settings.FHIRBaseURL, "/")
	if base == "" {
		return errorResponse(http.StatusNotFound, "No FHIR server is configured.")
	}
	target := base + "/.well-known/udap"
	if community != "" {
		target += "?" + url.Values{"community": {community}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		g.log.ErrorContext(ctx, "fhir.wellknown.fail", slog.String("err", err.Error()))
		return errorResponse(http.StatusInternalServerError, msgFHIRWellKnown)
	}
	req.Header.Set("Content-Type", "application/fhir+json")
	req.Header.Set("Accept", "application/json")
	res, err := g.cfg.HTTP.Do(req)
	if err != nil {
		g.log.ErrorContext(ctx, "fhir.wellknown.fail", slog.String("err", err.Error()))
		return errorResponse(http.StatusInternalServerError, msgFHIRWellKnown)
	}
	defer func() { _ = res.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil || res.StatusCode != http.StatusOK {
		g.log.ErrorContext(ctx, "fhir.wellknown.fail", slog.Int("status", res.StatusCode))
		return errorResponse(http.StatusInternalServerError, msgFHIRWellKnown)
	}
	return jsonResponse(http.StatusOK, rawJSON(body))
}

// rawJSON is a pre-encoded JSON body.
type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) {
	if !json.Valid(r) {
		return nil, errors.New("invalid json")
	}
	return r, nil
}
