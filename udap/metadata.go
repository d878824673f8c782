package udap

import (
	"crypto/x509"

	"github.com/ggoodman/udap-gateway-go/config"
	"github.com/ggoodman/udap-gateway-go/internal/wellknown"
	"github.com/ggoodman/udap-gateway-go/rsconfig"
)

// Metadata is the UDAP discovery document.
type Metadata = wellknown.UDAPMetadata

// SignedEndpoints are the claims of a signed_metadata JWT.
type SignedEndpoints = wellknown.SignedEndpoints

// EndpointPatterns are URL patterns containing the resource server id
// placeholder (see config.ResourceServerIDPlaceholder).
type EndpointPatterns struct {
	Authorize    string
	Token        string
	Registration string
}

// MetadataSigner builds signed UDAP discovery metadata for resource servers
// acting as identity providers.
type MetadataSigner struct {
	Endpoints EndpointPatterns
}

// Build produces the discovery document for rs. The signed_metadata claims
// carry no time-based fields, so identical configuration yields identical
// claim sets on every call.
func (m *MetadataSigner) Build(rs rsconfig.ResourceServer) (*Metadata, error) {
	if rs.Role != rsconfig.RoleIdentityProvider {
		return nil, ErrNotIdentityProvider
	}
	pair, err := IdentityFor(rs)
	if err != nil {
		return nil, err
	}

	endpoints := m.EndpointsFor(rs)
	signed, err := SignJWT(pair, rs.SigningAlgorithm, endpoints)
	if err != nil {
		return nil, err
	}

	algs := []string{rs.SigningAlgorithm}
	if rs.SigningAlgorithm == "" {
		algs = []string{"RS256"}
	}
	return &Metadata{
		UDAPVersionsSupported:                            []string{"1"},
		UDAPProfilesSupported:                            []string{"udap_dcr", "udap_authn", "udap_authz", "udap_to"},
		UDAPAuthorizationExtensionsSupported:             []string{},
		UDAPAuthorizationExtensionsRequired:              []string{},
		UDAPCertificationsSupported:                      []string{},
		UDAPCertificationsRequired:                       []string{},
		GrantTypesSupported:                              []string{"authorization_code", "refresh_token", "client_credentials"},
		ScopesSupported:                                  []string{"openid", "fhirUser", "email", "profile", "udap"},
		RegistrationEndpoint:                             endpoints.RegistrationEndpoint,
		RegistrationEndpointJWTSigningAlgValuesSupported: algs,
		AuthorizationEndpoint:                            endpoints.AuthorizationEndpoint,
		TokenEndpoint:                                    endpoints.TokenEndpoint,
		TokenEndpointAuthSigningAlgValuesSupported:       algs,
		TokenEndpointAuthMethodsSupported:                []string{"private_key_jwt"},
		SignedMetadata:                                   signed,
	}, nil
}

// EndpointsFor returns the signed_metadata claims for rs.
func (m *MetadataSigner) EndpointsFor(rs rsconfig.ResourceServer) SignedEndpoints {
	san := ""
	if rs.Identity != nil {
		san = rs.Identity.SAN
	}
	return SignedEndpoints{
		Issuer:                san,
		Subject:               san,
		AuthorizationEndpoint: config.Endpoint(m.Endpoints.Authorize, rs.ID),
		TokenEndpoint:         config.Endpoint(m.Endpoints.Token, rs.ID),
		RegistrationEndpoint:  config.Endpoint(m.Endpoints.Registration, rs.ID),
	}
}

// IdentityFor decodes rs's PKCS#12 bundle and selects the entry matching
// the configured SAN.
func IdentityFor(rs rsconfig.ResourceServer) (*CertificateKeyPair, error) {
	id, err := rs.RequireIdentity()
	if err != nil {
		return nil, err
	}
	pairs, err := ParseBundle(id.StoreData, id.IdentityStorePwd)
	if err != nil {
		return nil, err
	}
	return SelectBySAN(pairs, id.SAN)
}

// TrustAnchorFor parses rs's trust anchor.
func TrustAnchorFor(rs rsconfig.ResourceServer) (*x509.Certificate, error) {
	pem, err := rs.RequireTrustAnchor()
	if err != nil {
		return nil, err
	}
	return ParseTrustAnchorPEM(pem)
}
