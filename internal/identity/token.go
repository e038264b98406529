// Package identity authenticates callers and manages the lifecycle of
// identity records: lazy creation, the anonymous trial, and linking an
// anonymous identity to a persistent account.
package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/orbitalai/lumara-gateway/internal/domain"
)

// Claims is the token payload the gateway accepts: a subject naming the
// identity and a flag marking anonymous (device-generated) identities.
type Claims struct {
	Anonymous bool `json:"anonymous"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 identity tokens.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a raw token. Any failure (bad signature,
// expiry, wrong algorithm, empty subject) collapses to the single
// authentication-required error so callers learn nothing about why.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return nil, domain.ErrAuthenticationRequired()
	}
	return claims, nil
}

// Mint signs a token for the given subject. Used by tests and local
// development tooling; production tokens come from the identity provider.
func Mint(secret, subject string, anonymous bool, ttl time.Duration) (string, error) {
	claims := &Claims{
		Anonymous: anonymous,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
