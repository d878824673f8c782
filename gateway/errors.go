package gateway

import (
	"errors"
	"net/http"

	"github.com/ggoodman/udap-gateway-go/udap"
)

// Client-facing messages. They never carry internal error detail.
const (
	msgMappingStoreFailed = "Unable to store the new IDP mapping in our IDP database."
	msgAuthorizeFailed    = "An unknown error has occurred while processing the authorization request."
	msgTokenUnknown       = "An unknown error has occurred while validating your client credentials."
	msgTieredValidation   = "Unable to validate UDAP tiered-oauth client credentials. Ensure they are configured properly on the data holder's authorization server."
	msgTieredUpstream     = "Unable to perform tiered-oauth with the upstream IDP. Please check internal logs for further detail."
	msgNotIDP             = "This resource server is not configured as an identity provider."
	msgSANNotFound        = "The SAN configured to be used for IDP purposes does not exist within any of the certificates provided."
	msgMetadataUnknown    = "An unknown error has occurred while generating the UDAP metadata content."
	msgFHIRWellKnown      = "An unknown error has occurred while retrieving the FHIR server UDAP metadata."
)

// assertionError maps a client assertion failure on the token endpoint to
// an OAuth error body. Policy failures already carry their own code.
func assertionError(err error) *udap.OAuthError {
	var oerr *udap.OAuthError
	switch {
	case errors.As(err, &oerr):
		return oerr
	case errors.Is(err, udap.ErrUntrustedChain):
		return &udap.OAuthError{Code: udap.CodeInvalidClient, Description: "The client certificate chain is not trusted."}
	case errors.Is(err, udap.ErrInvalidSignature):
		return &udap.OAuthError{Code: udap.CodeInvalidClient, Description: "The client_assertion signature is invalid."}
	case errors.Is(err, udap.ErrMalformedJWT):
		return &udap.OAuthError{Code: udap.CodeInvalidRequest, Description: "The client_assertion is malformed."}
	default:
		return &udap.OAuthError{Code: udap.CodeInvalidRequest, Description: "The client_assertion could not be validated."}
	}
}

// metadataError maps a MetadataSigner failure to a status and message.
func metadataError(err error) (int, string) {
	switch {
	case errors.Is(err, udap.ErrNotIdentityProvider):
		return http.StatusBadRequest, msgNotIDP
	case errors.Is(err, udap.ErrCertificateNotFound):
		return http.StatusInternalServerError, msgSANNotFound
	default:
		return http.StatusInternalServerError, msgMetadataUnknown
	}
}
