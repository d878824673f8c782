package udap

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MaxAssertionLifetime bounds exp - iat on client assertions.
const MaxAssertionLifetime = 300 * time.Second

// Messages returned in error_description by CheckClaims.
const (
	MsgInvalidExp      = "Invalid exp value"
	MsgInvalidClientID = "Invalid client_id or sub value"
	MsgInvalidAud      = "Invalid aud value"
)

// CheckClaims validates the UDAP semantics of a verified client assertion.
// Checks run in order and the first failure is returned as an *OAuthError
// with code invalid_request:
//
//  1. exp present, in the future, and at most five minutes after iat
//  2. client_id, when present, equals sub
//  3. aud equals expectedAudience exactly
func CheckClaims(claims jwt.MapClaims, expectedAudience string, now time.Time) error {
	if raw, ok := claims["exp"]; !ok || raw == nil || raw == "" {
		return invalidRequest(MsgInvalidExp)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return invalidRequest(MsgInvalidExp)
	}
	if exp.UnixMilli() <= now.UnixMilli() {
		return invalidRequest(MsgInvalidExp)
	}
	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return invalidRequest(MsgInvalidExp)
	}
	if exp.Sub(iat.Time) > MaxAssertionLifetime {
		return invalidRequest(MsgInvalidExp)
	}

	if raw, ok := claims["client_id"]; ok {
		sub, _ := claims["sub"].(string)
		if cid, isStr := raw.(string); !isStr || cid != sub {
			return invalidRequest(MsgInvalidClientID)
		}
	}

	aud, err := claims.GetAudience()
	if err != nil || len(aud) != 1 || aud[0] == "" || aud[0] != expectedAudience {
		return invalidRequest(MsgInvalidAud)
	}
	return nil
}
