package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ggoodman/udap-gateway-go/idpregistry"
	"github.com/ggoodman/udap-gateway-go/internal/logctx"
)

// Authorize delegates to the platform adapter. When the adapter federated
// a new upstream IDP, the mapping is persisted before the redirect is
// returned; if it cannot be stored the client gets a 500 instead.
func (g *Gateway) Authorize(ctx context.Context, req AuthorizeRequest) *Response {
	res, err := g.cfg.Adapter.Authorize(ctx, req)
	if err != nil {
		g.log.ErrorContext(ctx, "authorize.fail", slog.String("platform", g.cfg.Adapter.Name()), slog.String("err", err.Error()))
		return textResponse(http.StatusInternalServerError, msgAuthorizeFailed)
	}
	if res.StatusCode >= 400 {
		return newResponse(res.StatusCode, res.Header, res.Body)
	}

	if res.NewIdpMapping != nil {
		m := *res.NewIdpMapping
		m.OriginalResourceServerID = req.ResourceServerID
		ctx = logctx.WithIDP(ctx, &logctx.IDPData{ID: m.IDPID, BaseURL: m.IDPBaseURL})
		if err := g.storeMapping(ctx, m); err != nil {
			g.log.ErrorContext(ctx, "idp.register.fail", slog.String("err", err.Error()))
			return textResponse(http.StatusInternalServerError, msgMappingStoreFailed)
		}
	}
	return newResponse(res.StatusCode, res.Header, res.Body)
}

// storeMapping registers m, retrying transient storage failures.
func (g *Gateway) storeMapping(ctx context.Context, m idpregistry.Mapping) error {
	op := func() (bool, error) {
		created, err := g.cfg.Registry.Register(ctx, m)
		if err != nil && !errors.Is(err, idpregistry.ErrStorageUnavailable) {
			return false, backoff.Permanent(err)
		}
		return created, err
	}
	created, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(g.cfg.RegisterBackOff()),
		backoff.WithMaxTries(g.cfg.RegisterTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			g.log.WarnContext(ctx, "idp.register.retry", slog.Duration("after", d), slog.String("err", err.Error()))
		}),
	)
	if err != nil {
		return err
	}
	if created {
		g.log.InfoContext(ctx, "idp.register.ok")
	} else {
		g.log.InfoContext(ctx, "idp.register.exists")
	}
	return nil
}
