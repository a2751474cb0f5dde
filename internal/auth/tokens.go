package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrTokenInvalid covers malformed, mis-signed and incomplete tokens.
	ErrTokenInvalid = errors.New("auth: token invalid")

	// ErrTokenExpired is returned for structurally valid but expired tokens.
	ErrTokenExpired = errors.New("auth: token expired")
)

// Default token lifetimes.
const (
	// DefaultAccessTTL suits interactive clients.
	DefaultAccessTTL = 30 * time.Minute

	// LongLivedTTL suits headless API clients (dashboards, scripts)
	// that cannot run a refresh loop. Ten years, in the spirit of a
	// never-expiring key the user can still revoke by rotating the
	// instance secret.
	LongLivedTTL = 10 * 365 * 24 * time.Hour
)

// Claims are the JWT claims carried by an access token.
type Claims struct {
	jwt.RegisteredClaims
	// ClientName identifies what the token was issued to, for audit
	// log lines.
	ClientName string `json:"client_name"`
	// LongLived marks tokens issued for headless clients.
	LongLived bool `json:"long_lived,omitempty"`
}

// GenerateAccessToken creates a signed HS256 token for an interactive
// client.
func GenerateAccessToken(clientName, secret string, ttl time.Duration) (string, error) {
	return generate(clientName, secret, ttl, false)
}

// GenerateLongLivedToken creates a signed token for a headless client.
func GenerateLongLivedToken(clientName, secret string) (string, error) {
	return generate(clientName, secret, LongLivedTTL, true)
}

func generate(clientName, secret string, ttl time.Duration, longLived bool) (string, error) {
	if ttl <= 0 {
		ttl = DefaultAccessTTL
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		ClientName: clientName,
		LongLived:  longLived,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token's signature and expiry and returns its
// claims.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.ClientName == "" {
		return nil, fmt.Errorf("%w: missing client name", ErrTokenInvalid)
	}

	return claims, nil
}
