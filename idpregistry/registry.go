// Package idpregistry records which upstream identity providers have been
// federated into the backend authorization server, and on behalf of which
// resource server.
package idpregistry

import (
	"context"
	"errors"
)

// Mapping ties an upstream IDP to the gateway's registration with it.
type Mapping struct {
	// IDPID is the client id the upstream IDP issued to the gateway during
	// UDAP dynamic client registration.
	IDPID string `json:"idp_id" dynamodbav:"idp_id"`
	// IDPName is the backend platform's identifier for the federated IDP.
	IDPName string `json:"idp_name" dynamodbav:"idp_name"`
	// IDPBaseURL is the upstream IDP's UDAP base URL.
	IDPBaseURL string `json:"idp_base_url" dynamodbav:"idp_base_url"`
	// InternalCredentials is the secret or key id the backend platform uses
	// when calling the tiered token endpoint.
	InternalCredentials string `json:"internal_credentials" dynamodbav:"internal_credentials"`
	// OriginalResourceServerID is the resource server whose identity was
	// used to register with the upstream IDP.
	OriginalResourceServerID string `json:"original_resource_server_id" dynamodbav:"original_resource_server_id"`
}

// Validate reports whether m carries the fields required to be stored.
func (m Mapping) Validate() error {
	var errs []error
	if m.IDPID == "" {
		errs = append(errs, errors.New("idp_id is required"))
	}
	if m.IDPBaseURL == "" {
		errs = append(errs, errors.New("idp_base_url is required"))
	}
	if m.OriginalResourceServerID == "" {
		errs = append(errs, errors.New("original_resource_server_id is required"))
	}
	return errors.Join(errs...)
}

// Registry is a durable store of IDP mappings.
//
// Register is insert-if-absent keyed by IDPID: the first writer wins and
// later writers observe created == false. Implementations must be safe for
// concurrent use.
type Registry interface {
	Register(ctx context.Context, m Mapping) (created bool, err error)
	Lookup(ctx context.Context, idpID string) (*Mapping, error)
	Close() error
}

var (
	// ErrUnknownIDP is returned by Lookup when no mapping exists.
	ErrUnknownIDP = errors.New("idpregistry: unknown idp")
	// ErrStorageUnavailable wraps backend failures.
	ErrStorageUnavailable = errors.New("idpregistry: storage unavailable")
	// ErrInvalidMapping is returned by Register for incomplete mappings.
	ErrInvalidMapping = errors.New("idpregistry: invalid mapping")
)
