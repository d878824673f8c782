package wellknown

// UDAPMetadata is the document served at /.well-known/udap.
type UDAPMetadata struct {
	UDAPVersionsSupported                            []string `json:"udap_versions_supported"`
	UDAPProfilesSupported                            []string `json:"udap_profiles_supported"`
	UDAPAuthorizationExtensionsSupported             []string `json:"udap_authorization_extensions_supported"`
	UDAPAuthorizationExtensionsRequired              []string `json:"udap_authorization_extensions_required"`
	UDAPCertificationsSupported                      []string `json:"udap_certifications_supported"`
	UDAPCertificationsRequired                       []string `json:"udap_certifications_required"`
	GrantTypesSupported                              []string `json:"grant_types_supported"`
	ScopesSupported                                  []string `json:"scopes_supported,omitempty"`
	RegistrationEndpoint                             string   `json:"registration_endpoint,omitempty"`
	RegistrationEndpointJWTSigningAlgValuesSupported []string `json:"registration_endpoint_jwt_signing_alg_values_supported,omitempty"`
	AuthorizationEndpoint                            string   `json:"authorization_endpoint,omitempty"`
	TokenEndpoint                                    string   `json:"token_endpoint"`
	TokenEndpointAuthSigningAlgValuesSupported       []string `json:"token_endpoint_auth_signing_alg_values_supported,omitempty"`
	TokenEndpointAuthMethodsSupported                []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	SignedMetadata                                   string   `json:"signed_metadata,omitempty"`
}

// SignedEndpoints are the claims carried in signed_metadata.
type SignedEndpoints struct {
	Issuer                string `json:"iss"`
	Subject               string `json:"sub"`
	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty"`
	TokenEndpoint         string `json:"token_endpoint"`
	RegistrationEndpoint  string `json:"registration_endpoint,omitempty"`
}
