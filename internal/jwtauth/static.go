package jwtauth

import (
	"context"
	"errors"
)

// NewStatic returns a Verifier that reads keys from a fixed JWKS URI,
// skipping discovery.
func NewStatic(ctx context.Context, cfg *Config, jwksURI string) (*jwksVerifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}
	return newJWKSVerifier(ctx, cfg, jwksURI)
}
