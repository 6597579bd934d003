package services

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSigningKey marks a configuration error: the APNs key could not
// be parsed or used. Callers abort the invocation and do not retry.
var ErrInvalidSigningKey = errors.New("invalid APNs signing key")

// Signer produces the provider authentication token sent as the bearer
// credential on every APNs request.
type Signer interface {
	Sign(now time.Time) (string, error)
}

// TokenSigner signs ES256 provider tokens with a .p8 key. Nothing is cached:
// each Sign call builds a fresh token, and callers reuse it for the rest of
// one invocation.
type TokenSigner struct {
	key    *ecdsa.PrivateKey
	keyID  string
	teamID string
}

// NewTokenSigner parses the PEM key (PKCS#8 or SEC1) up front so a bad key
// fails at boot rather than on the first push.
func NewTokenSigner(privateKeyPEM []byte, keyID, teamID string) (*TokenSigner, error) {
	if keyID == "" || teamID == "" {
		return nil, fmt.Errorf("%w: key id and team id are required", ErrInvalidSigningKey)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSigningKey, err)
	}
	if key.Curve.Params().Name != "P-256" {
		return nil, fmt.Errorf("%w: curve %s, want P-256", ErrInvalidSigningKey, key.Curve.Params().Name)
	}
	return &TokenSigner{key: key, keyID: keyID, teamID: teamID}, nil
}

// Sign returns header.claims.signature, each segment base64url without
// padding. Header carries alg=ES256 and kid; claims carry iss and iat.
func (s *TokenSigner) Sign(now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:   s.teamID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSigningKey, err)
	}
	return signed, nil
}

// SignAPNsToken is the one-shot form: parse the key and sign once.
func SignAPNsToken(privateKeyPEM []byte, keyID, teamID string, now time.Time) (string, error) {
	signer, err := NewTokenSigner(privateKeyPEM, keyID, teamID)
	if err != nil {
		return "", err
	}
	return signer.Sign(now)
}
