package udap

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	jose "github.com/go-jose/go-jose/v4"
)

// SignJWT serializes claims and signs them as a compact JWS with pair's key.
// The header carries typ=JWT and the pair's certificate chain as x5c.
// An empty alg selects RS256 for RSA keys and ES256 for EC keys.
func SignJWT(pair *CertificateKeyPair, alg string, claims any) (string, error) {
	if pair == nil || pair.Key == nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, errNoSigningKey)
	}
	sigAlg, err := algorithmFor(pair, alg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}

	x5c := make([]string, 0, len(pair.Chain))
	for _, c := range pair.Chain {
		x5c = append(x5c, base64.StdEncoding.EncodeToString(c.Raw))
	}
	opts := (&jose.SignerOptions{}).WithType("JWT").WithHeader("x5c", x5c)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: sigAlg, Key: pair.Key}, opts)
	if err != nil {
		return "", fmt.Errorf("%w: create signer: %v", ErrSigning, err)
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("%w: marshal claims: %v", ErrSigning, err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("%w: sign payload: %v", ErrSigning, err)
	}
	compact, err := jws.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("%w: serialize jws: %v", ErrSigning, err)
	}
	return compact, nil
}

func algorithmFor(pair *CertificateKeyPair, alg string) (jose.SignatureAlgorithm, error) {
	alg = strings.ToUpper(strings.TrimSpace(alg))
	switch pair.Key.(type) {
	case *rsa.PrivateKey:
		switch jose.SignatureAlgorithm(alg) {
		case "":
			return jose.RS256, nil
		case jose.RS256, jose.RS384, jose.RS512:
			return jose.SignatureAlgorithm(alg), nil
		}
	case *ecdsa.PrivateKey:
		switch jose.SignatureAlgorithm(alg) {
		case "":
			return jose.ES256, nil
		case jose.ES256, jose.ES384, jose.ES512:
			return jose.SignatureAlgorithm(alg), nil
		}
	default:
		return "", fmt.Errorf("unsupported key type %T", pair.Key)
	}
	return "", fmt.Errorf("algorithm %q does not match key type %T", alg, pair.Key)
}
