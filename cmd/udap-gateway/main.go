// Command udap-gateway serves the UDAP gateway over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ggoodman/udap-gateway-go/config"
	"github.com/ggoodman/udap-gateway-go/gateway"
	"github.com/ggoodman/udap-gateway-go/idpregistry"
	"github.com/ggoodman/udap-gateway-go/idpregistry/dynamodb"
	"github.com/ggoodman/udap-gateway-go/idpregistry/memory"
	redisregistry "github.com/ggoodman/udap-gateway-go/idpregistry/redis"
	"github.com/ggoodman/udap-gateway-go/internal/jwtauth"
	"github.com/ggoodman/udap-gateway-go/internal/logctx"
	"github.com/ggoodman/udap-gateway-go/platform"
	"github.com/ggoodman/udap-gateway-go/platform/auth0"
	"github.com/ggoodman/udap-gateway-go/platform/okta"
	"github.com/ggoodman/udap-gateway-go/rsconfig"
	"github.com/ggoodman/udap-gateway-go/udap"
	"github.com/ggoodman/udap-gateway-go/udaphttp"
)

const (
	clientName    = "UDAP Gateway"
	upstreamScope = "openid udap"
)

func main() {
	printSchema := flag.Bool("print-config-schema", false, "print the JSON schema of resource_servers.json and exit")
	flag.Parse()

	if *printSchema {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rsconfig.Schema()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("gateway.exit", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	settings, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := newLogger(settings)

	store, err := rsconfig.Load(settings.ConfigPath)
	if err != nil {
		return err
	}
	log.Info("rsconfig.load.ok", slog.String("path", store.Path()), slog.Int("resource_servers", len(store.IDs())))
	go func() {
		if err := store.Watch(ctx, log); err != nil {
			log.Error("rsconfig.watch.fail", slog.String("err", err.Error()))
		}
	}()

	registry, err := newRegistry(ctx, settings)
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	httpClient := &http.Client{Timeout: settings.HTTPClientTimeout}
	validator := &udap.TrustValidator{Revocation: udap.NewCRLChecker(httpClient)}
	client := &udap.Client{HTTP: httpClient, Validator: validator}

	adapter, err := newAdapter(ctx, settings, store, client, httpClient, log)
	if err != nil {
		return err
	}

	gw, err := gateway.New(gateway.Config{
		Settings:  settings,
		Configs:   store,
		Registry:  registry,
		Adapter:   adapter,
		Validator: validator,
		Signer:    &udap.MetadataSigner{Endpoints: endpointPatterns(settings)},
		Client:    client,
		HTTP:      httpClient,
		Log:       log,
	})
	if err != nil {
		return err
	}

	h, err := udaphttp.New(gw, udaphttp.WithLogger(log), udaphttp.WithHealthCheck(gw.Ready))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              settings.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway.listen", slog.String("addr", settings.ListenAddr), slog.String("platform", adapter.Name()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	log.Info("gateway.shutdown")
	return srv.Shutdown(shutdownCtx)
}

func newLogger(s *config.Settings) *slog.Logger {
	opts := &slog.HandlerOptions{Level: s.SlogLevel()}
	var h slog.Handler
	if strings.EqualFold(s.LogFormat, "text") {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(logctx.Handler{Handler: h})
}

func newRegistry(ctx context.Context, s *config.Settings) (idpregistry.Registry, error) {
	switch config.RegistryBackend(s.RegistryBackend) {
	case config.RegistryRedis:
		return redisregistry.NewFromEnv(ctx)
	case config.RegistryDynamoDB:
		return dynamodb.NewFromEnvironment(ctx, s.IDPMappingTableName, s.AWSRegion)
	default:
		return memory.New(), nil
	}
}

func newAdapter(ctx context.Context, s *config.Settings, configs platform.ConfigSource, client *udap.Client, httpClient *http.Client, log *slog.Logger) (platform.Adapter, error) {
	up := platform.Upstream{
		Configs:        configs,
		Client:         client,
		TieredTokenURL: s.TieredTokenURL(),
		RedirectURI:    s.TieredRedirectURI,
		ClientName:     clientName,
		Scope:          upstreamScope,
		Contacts:       s.UDAPContacts,
	}
	switch config.Platform(s.Platform) {
	case config.PlatformAuth0:
		return auth0.New(auth0.Config{Domain: s.BackendDomain, APIToken: s.PlatformAPIToken, HTTP: httpClient}, up, log)
	default:
		verifier, err := newOktaVerifier(ctx, s)
		if err != nil {
			return nil, err
		}
		return okta.New(okta.Config{
			Domain:         s.BackendDomain,
			APIToken:       s.PlatformAPIToken,
			TieredTokenURL: s.TieredTokenURL(),
			HTTP:           httpClient,
		}, up, verifier, log)
	}
}

// newOktaVerifier uses the pinned JWKS when configured, otherwise OIDC
// discovery against the backend domain.
func newOktaVerifier(ctx context.Context, s *config.Settings) (jwtauth.Verifier, error) {
	jcfg := jwtauth.DefaultConfig()
	jcfg.Issuer = "https://" + s.BackendDomain
	if s.OktaJWKSURI != "" {
		v, err := jwtauth.NewStatic(ctx, jcfg, s.OktaJWKSURI)
		if err != nil {
			return nil, fmt.Errorf("okta jwks: %w", err)
		}
		return v, nil
	}
	v, err := jwtauth.NewFromDiscovery(ctx, jcfg)
	if err != nil {
		return nil, fmt.Errorf("okta discovery: %w", err)
	}
	return v, nil
}

func endpointPatterns(s *config.Settings) udap.EndpointPatterns {
	or := func(pattern, suffix string) string {
		if pattern != "" {
			return pattern
		}
		return s.PublicURL("/oauth2/" + config.ResourceServerIDPlaceholder + suffix)
	}
	return udap.EndpointPatterns{
		Authorize:    or(s.AuthorizeEndpointPattern, "/v1/authorize"),
		Token:        or(s.TokenEndpointPattern, "/v1/token"),
		Registration: or(s.RegistrationEndpointPattern, "/v1/register"),
	}
}
