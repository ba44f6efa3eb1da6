package gotrue

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of the access token payload the adapter reads.
type Claims struct {
	Email     string `json:"email"`
	Role      string `json:"role"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// ClaimsParser decodes access tokens. With a secret configured tokens are
// verified as HS256; without one the payload is decoded unverified, which is
// only used to fill in fields the provider omitted from its response.
type ClaimsParser struct {
	secret []byte
}

func NewClaimsParser(secret string) *ClaimsParser {
	if secret == "" {
		return &ClaimsParser{}
	}
	return &ClaimsParser{secret: []byte(secret)}
}

// Verifying reports whether tokens are checked against a secret.
func (p *ClaimsParser) Verifying() bool {
	return p != nil && len(p.secret) > 0
}

func (p *ClaimsParser) Parse(token string) (*Claims, error) {
	if token == "" {
		return nil, errors.New("empty access token")
	}

	claims := &Claims{}
	if !p.Verifying() {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("decode access token: %w", err)
		}
		return claims, nil
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("verify access token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid access token")
	}
	return claims, nil
}
