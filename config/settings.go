// Package config holds the process-wide settings of the gateway. Values are
// decoded once from the environment at startup and are read-only afterwards.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Platform selects the backend OAuth platform adapter.
type Platform string

const (
	PlatformOkta  Platform = "okta"
	PlatformAuth0 Platform = "auth0"
)

// RegistryBackend selects where IDP mappings are persisted.
type RegistryBackend string

const (
	RegistryMemory   RegistryBackend = "memory"
	RegistryRedis    RegistryBackend = "redis"
	RegistryDynamoDB RegistryBackend = "dynamodb"
)

// ResourceServerIDPlaceholder is substituted with the resource server id in
// the endpoint URL patterns.
const ResourceServerIDPlaceholder = "<resource_server_id>"

// Settings for the gateway process. ENV names are in the struct tags.
type Settings struct {
	// BaseDomain is the public host name of the gateway. Token audiences
	// are "https://" + BaseDomain + request path.
	BaseDomain string `env:"BASE_DOMAIN,required"`
	// BackendDomain is the host name of the backend authorization server.
	BackendDomain string `env:"OAUTH_CUSTOM_DOMAIN_NAME_BACKEND,required"`
	Platform      string `env:"OAUTH_PLATFORM,default=okta"`

	AuthorizeEndpointPattern    string `env:"OAUTH_AUTHORIZE_ENDPOINT_PATTERN"`
	TokenEndpointPattern        string `env:"OAUTH_TOKEN_ENDPOINT_PATTERN"`
	RegistrationEndpointPattern string `env:"OAUTH_REGISTRATION_ENDPOINT_PATTERN"`
	// TieredTokenEndpoint is the public URL of the tiered token endpoint. The
	// backend platform is configured to call it as the upstream IDP token URL.
	TieredTokenEndpoint string `env:"TIERED_TOKEN_ENDPOINT"`
	// TieredRedirectURI is registered with upstream IDPs during dynamic
	// client registration. Defaults to the backend's IDP callback.
	TieredRedirectURI string `env:"TIERED_REDIRECT_URI"`

	FHIRBaseURL string `env:"FHIR_BASE_URL"`
	ConfigPath  string `env:"CONFIG_PATH,default=."`
	ListenAddr  string `env:"LISTEN_ADDR,default=:8080"`

	// RegistryBackend selects the IDP mapping store. The redis backend reads
	// REDIS_ADDR and REDIS_KEY_PREFIX itself.
	RegistryBackend     string `env:"REGISTRY_BACKEND,default=memory"`
	IDPMappingTableName string `env:"IDP_MAPPING_TABLE_NAME"`
	AWSRegion           string `env:"AWS_REGION"`

	// PlatformAPIToken authenticates calls to the platform management API
	// (Okta SSWS token or Auth0 management bearer token).
	PlatformAPIToken string `env:"PLATFORM_API_TOKEN"`
	// OktaJWKSURI pins the key set used to verify Okta's tiered client
	// assertions and skips OIDC discovery.
	OktaJWKSURI string `env:"OKTA_JWKS_URI"`
	// UDAPContacts are sent in dynamic client registration software
	// statements, semicolon separated.
	UDAPContacts []string `env:"UDAP_CONTACTS"`

	HTTPClientTimeout time.Duration `env:"HTTP_CLIENT_TIMEOUT,default=10s"`
	LogLevel          string        `env:"LOG_LEVEL,default=info"`
	LogFormat         string        `env:"LOG_FORMAT,default=json"`
}

// FromEnv decodes Settings from the environment and validates them.
func FromEnv() (*Settings, error) {
	var s Settings
	if err := envdecode.StrictDecode(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (s *Settings) Validate() error {
	var errs []error
	switch Platform(s.Platform) {
	case PlatformOkta, PlatformAuth0:
	default:
		errs = append(errs, fmt.Errorf("OAUTH_PLATFORM must be %q or %q, got %q", PlatformOkta, PlatformAuth0, s.Platform))
	}
	switch RegistryBackend(s.RegistryBackend) {
	case RegistryMemory, RegistryRedis:
	case RegistryDynamoDB:
		if s.IDPMappingTableName == "" {
			errs = append(errs, errors.New("IDP_MAPPING_TABLE_NAME is required for the dynamodb registry"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown REGISTRY_BACKEND %q", s.RegistryBackend))
	}
	for name, p := range map[string]string{
		"OAUTH_AUTHORIZE_ENDPOINT_PATTERN":    s.AuthorizeEndpointPattern,
		"OAUTH_TOKEN_ENDPOINT_PATTERN":        s.TokenEndpointPattern,
		"OAUTH_REGISTRATION_ENDPOINT_PATTERN": s.RegistrationEndpointPattern,
	} {
		if p != "" && !strings.Contains(p, ResourceServerIDPlaceholder) {
			errs = append(errs, fmt.Errorf("%s must contain %s", name, ResourceServerIDPlaceholder))
		}
	}
	return errors.Join(errs...)
}

// PublicURL returns the externally visible URL for a request path on the
// gateway. It is the exact audience expected in UDAP client assertions.
func (s *Settings) PublicURL(path string) string {
	return "https://" + s.BaseDomain + path
}

// BackendURL returns the backend authorization server URL for a path.
func (s *Settings) BackendURL(path string) string {
	return "https://" + s.BackendDomain + path
}

// TieredTokenURL is the public tiered token endpoint, defaulting to
// /tiered_client/token on the gateway.
func (s *Settings) TieredTokenURL() string {
	if s.TieredTokenEndpoint != "" {
		return s.TieredTokenEndpoint
	}
	return s.PublicURL("/tiered_client/token")
}

// Endpoint substitutes the resource server id into an endpoint pattern.
func Endpoint(pattern, resourceServerID string) string {
	return strings.ReplaceAll(pattern, ResourceServerIDPlaceholder, resourceServerID)
}

// SlogLevel parses LogLevel, falling back to info.
func (s *Settings) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
