package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HeaderUserID carries the caller's user id when no JWT secret is configured.
const HeaderUserID = "X-User-ID"

var ErrUnauthorized = errors.New("unauthorized")

// Authenticator resolves the user id for an inbound request.
type Authenticator interface {
	Authenticate(h http.Header) (string, error)
}

// HeaderAuthenticator trusts the X-User-ID header. Use it only behind a gateway that sets it.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(h http.Header) (string, error) {
	userID := strings.TrimSpace(h.Get(HeaderUserID))
	if userID == "" {
		return "", fmt.Errorf("%w: missing %s header", ErrUnauthorized, HeaderUserID)
	}
	return userID, nil
}

// JWTAuthenticator validates an HS256 bearer token and returns its subject.
type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

func (a *JWTAuthenticator) Authenticate(h http.Header) (string, error) {
	header := h.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("%w: missing authorization header", ErrUnauthorized)
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", fmt.Errorf("%w: authorization header is not a bearer token", ErrUnauthorized)
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: invalid token: %w", ErrUnauthorized, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return claims.Subject, nil
}

// IssueToken signs an HS256 token for userID that expires after ttl.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// NewAuthenticator picks JWT validation when a secret is set, header identification otherwise.
func NewAuthenticator(jwtSecret string) Authenticator {
	if jwtSecret == "" {
		return HeaderAuthenticator{}
	}
	return NewJWTAuthenticator(jwtSecret)
}
