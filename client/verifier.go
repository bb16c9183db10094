package client

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ruteri/secrets-gateway/interfaces"
)

// Verifier signs and verifies HS* tokens with the jwt section of a client.
// Tokens signed with the key replaced by the last rotation keep verifying
// until the next rotation.
type Verifier struct {
	source func() JWTConfig
}

// NewVerifier uses the client's current jwt configuration on every call.
func NewVerifier(c *Client) *Verifier {
	return &Verifier{source: func() JWTConfig { return c.Current().JWT }}
}

// NewStaticVerifier uses a fixed jwt configuration.
func NewStaticVerifier(cfg JWTConfig) *Verifier {
	return &Verifier{source: func() JWTConfig { return cfg }}
}

// Sign signs claims with the current secret and configured algorithm.
func (v *Verifier) Sign(claims jwt.Claims) (string, error) {
	cfg := v.source()
	method := jwt.GetSigningMethod(cfg.Algorithm)
	if method == nil {
		return "", fmt.Errorf("%w: unsupported signing algorithm %q", interfaces.ErrInvalidArgument, cfg.Algorithm)
	}
	if cfg.Secret == "" {
		return "", fmt.Errorf("%w: no signing key", interfaces.ErrUnavailable)
	}
	return jwt.NewWithClaims(method, claims).SignedString([]byte(cfg.Secret.Reveal()))
}

// Verify parses tokenString against the current secret, then the previous one.
func (v *Verifier) Verify(tokenString string) (jwt.MapClaims, error) {
	cfg := v.source()

	claims, err := parse(tokenString, cfg.Algorithm, cfg.Secret.Reveal())
	if err == nil {
		return claims, nil
	}
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) && cfg.PreviousSecret != "" {
		if claims, prevErr := parse(tokenString, cfg.Algorithm, cfg.PreviousSecret.Reveal()); prevErr == nil {
			return claims, nil
		}
	}
	return nil, err
}

func parse(tokenString, algorithm, secret string) (jwt.MapClaims, error) {
	if secret == "" {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{algorithm}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	return claims, nil
}
