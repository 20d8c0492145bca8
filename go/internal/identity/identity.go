// Package identity resolves the current user of a client process.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Provider returns the current user id, if known.
type Provider interface {
	CurrentUserID() (string, bool)
}

// Static is a fixed identity.
type Static string

func (s Static) CurrentUserID() (string, bool) {
	return string(s), s != ""
}

var ErrInvalidToken = errors.New("invalid token")

// JWT resolves the user from a signed HS256 token's subject.
type JWT struct {
	userID    string
	expiresAt time.Time
	now       func() time.Time
}

// NewJWT parses and verifies token with secret.
func NewJWT(token, secret string) (*JWT, error) {
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	j := &JWT{userID: claims.Subject, now: time.Now}
	if claims.ExpiresAt != nil {
		j.expiresAt = claims.ExpiresAt.Time
	}
	return j, nil
}

// CurrentUserID returns the token subject until the token expires.
func (j *JWT) CurrentUserID() (string, bool) {
	if !j.expiresAt.IsZero() && j.now().After(j.expiresAt) {
		return "", false
	}
	return j.userID, j.userID != ""
}

// IssueToken signs an HS256 token for userID valid for ttl.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
