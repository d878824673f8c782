package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with the request, resource server and IDP data
// carried in the context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("user_agent", rd.UserAgent),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}

	if rs, ok := ctx.Value(resourceServerKey{}).(*ResourceServerData); ok {
		r.AddAttrs(slog.Group("rs",
			slog.String("id", rs.ID),
		))
	}

	if idp, ok := ctx.Value(idpDataKey{}).(*IDPData); ok {
		r.AddAttrs(slog.Group("idp",
			slog.String("id", idp.ID),
			slog.String("base_url", idp.BaseURL),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type requestDataKey struct{}

type RequestData struct {
	RequestID  string
	Method     string
	UserAgent  string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type resourceServerKey struct{}

type ResourceServerData struct {
	ID string
}

func WithResourceServer(ctx context.Context, data *ResourceServerData) context.Context {
	return context.WithValue(ctx, resourceServerKey{}, data)
}

type idpDataKey struct{}

type IDPData struct {
	ID      string
	BaseURL string
}

func WithIDP(ctx context.Context, data *IDPData) context.Context {
	return context.WithValue(ctx, idpDataKey{}, data)
}
