// Package auth issues and validates the backend bearer tokens that
// identify a user to the sync endpoint. The HTTP layer depends only on the
// Verifier contract, so an external identity service can replace the
// built-in HS256 manager.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkrasnov/notesync/internal/common"
)

// Verifier turns a request credential into a stable user id.
type Verifier interface {
	Validate(token string) (string, error)
}

// TokenManager issues and validates HS256 JWTs.
type TokenManager struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	clock    func() time.Time
}

func NewTokenManager(secret []byte, issuer, audience string, ttl time.Duration, clock func() time.Time) (*TokenManager, error) {
	if len(secret) == 0 {
		return nil, errors.New("signing secret must be provided")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	if clock == nil {
		clock = time.Now
	}
	return &TokenManager{secret: secret, issuer: issuer, audience: audience, ttl: ttl, clock: clock}, nil
}

// Issue produces a signed token for userID and its lifetime in seconds.
func (m *TokenManager) Issue(userID string) (string, int64, error) {
	if userID == "" {
		return "", 0, errors.New("user id must be provided")
	}

	now := m.clock().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    m.issuer,
		Audience:  []string{m.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(m.ttl.Seconds()), nil
}

// Validate checks signature, issuer, audience and expiry, returning the
// subject user id.
func (m *TokenManager) Validate(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
			}
			return m.secret, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithTimeFunc(m.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: %w", common.ErrTokenExpired, err)
		}
		return "", fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", common.ErrInvalidToken)
	}
	return claims.Subject, nil
}
