package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/ggoodman/udap-gateway-go/idpregistry"
	"github.com/ggoodman/udap-gateway-go/internal/logctx"
	"github.com/ggoodman/udap-gateway-go/udap"
	"golang.org/x/oauth2"
)

// TieredTokenRequest is the backend platform calling the gateway as if it
// were the upstream IDP's token endpoint.
type TieredTokenRequest struct {
	Body   []byte
	Header http.Header
}

// smartTokenFields are token response members relayed from the upstream
// IDP besides the ones oauth2.Token models directly.
var smartTokenFields = []string{"id_token", "scope", "patient", "encounter", "fhirUser", "need_patient_banner", "smart_style_url", "tenant", "authorization_details"}

// TieredToken validates the backend's credentials for the IDP mapping, then
// redeems the authorization code with the upstream IDP using UDAP client
// authentication and relays the result. Every failure is a 500.
func (g *Gateway) TieredToken(ctx context.Context, req TieredTokenRequest) *Response {
	form, err := url.ParseQuery(string(req.Body))
	if err != nil {
		g.log.WarnContext(ctx, "tiered.request.invalid", slog.String("err", err.Error()))
		return noStore(textResponse(http.StatusInternalServerError, msgTieredValidation))
	}

	clientID, err := g.cfg.Adapter.TieredClientID(form)
	if err != nil {
		g.log.WarnContext(ctx, "tiered.validate.fail", slog.String("err", err.Error()))
		return noStore(textResponse(http.StatusInternalServerError, msgTieredValidation))
	}
	m, err := g.cfg.Registry.Lookup(ctx, clientID)
	if err != nil {
		if errors.Is(err, idpregistry.ErrUnknownIDP) {
			g.log.WarnContext(ctx, "tiered.validate.fail", slog.String("err", err.Error()))
			return noStore(textResponse(http.StatusInternalServerError, msgTieredValidation))
		}
		g.log.ErrorContext(ctx, "tiered.lookup.fail", slog.String("err", err.Error()))
		return noStore(textResponse(http.StatusInternalServerError, msgTieredUpstream))
	}
	ctx = logctx.WithIDP(ctx, &logctx.IDPData{ID: m.IDPID, BaseURL: m.IDPBaseURL})
	ctx = logctx.WithResourceServer(ctx, &logctx.ResourceServerData{ID: m.OriginalResourceServerID})

	if _, err := g.cfg.Adapter.ValidateTieredRequest(ctx, m, form); err != nil {
		g.log.WarnContext(ctx, "tiered.validate.fail", slog.String("err", err.Error()))
		return noStore(textResponse(http.StatusInternalServerError, msgTieredValidation))
	}

	tok, err := g.exchangeUpstream(ctx, m, form)
	if err != nil {
		g.log.ErrorContext(ctx, "tiered.upstream.fail", slog.String("err", err.Error()))
		return noStore(textResponse(http.StatusInternalServerError, msgTieredUpstream))
	}
	g.log.InfoContext(ctx, "tiered.exchange.ok")
	return noStore(jsonResponse(http.StatusOK, tokenBody(tok)))
}

func (g *Gateway) exchangeUpstream(ctx context.Context, m *idpregistry.Mapping, form url.Values) (*oauth2.Token, error) {
	rs := g.cfg.Configs.Get(m.OriginalResourceServerID)
	creds, err := udap.CredentialsFor(rs)
	if err != nil {
		return nil, err
	}
	disc, err := g.cfg.Client.Discover(ctx, m.IDPBaseURL, creds)
	if err != nil {
		return nil, err
	}
	return g.cfg.Client.ExchangeCode(ctx, disc.Endpoints.TokenEndpoint, creds, m.IDPID, form.Get("code"), form.Get("redirect_uri"))
}

func tokenBody(tok *oauth2.Token) map[string]any {
	body := map[string]any{
		"access_token": tok.AccessToken,
	}
	if tok.TokenType != "" {
		body["token_type"] = tok.TokenType
	}
	if tok.RefreshToken != "" {
		body["refresh_token"] = tok.RefreshToken
	}
	if tok.ExpiresIn > 0 {
		body["expires_in"] = tok.ExpiresIn
	}
	for _, k := range smartTokenFields {
		if v := tok.Extra(k); v != nil {
			body[k] = v
		}
	}
	return body
}
