// Package service contains application services for identity tokens and the token ledger.
package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/piggybank/internal/errs"
)

// AuthService issues and verifies bearer tokens that carry the caller identity.
type AuthService interface {
	// Issue signs an access token for userID.
	Issue(userID uuid.UUID) (token string, expiresAt time.Time, err error)
	// Verify checks a token and returns the identity in its subject.
	Verify(token string) (uuid.UUID, error)
}

type AuthServiceImpl struct {
	signKey   []byte
	accessTTL time.Duration
	leeway    time.Duration
	now       func() time.Time
}

// NewAuthService constructs AuthService with an HS256 key.
func NewAuthService(signKey []byte, accessTTL time.Duration) *AuthServiceImpl {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	return &AuthServiceImpl{signKey: signKey, accessTTL: accessTTL, leeway: 30 * time.Second, now: time.Now}
}

// Issue creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) Issue(userID uuid.UUID) (string, time.Time, error) {
	if userID == uuid.Nil {
		return "", time.Time{}, errors.New("validation: empty userID")
	}
	now := s.now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}

// Verify parses tok, checks signature and time claims, and returns sub as UUID.
func (s *AuthServiceImpl) Verify(tok string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil || !parsed.Valid {
		return uuid.Nil, fmt.Errorf("%w: invalid token", errs.ErrUnauthorized)
	}

	v := jwt.NewValidator(jwt.WithLeeway(s.leeway), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err := v.Validate(&claims); err != nil {
		return uuid.Nil, fmt.Errorf("%w: token expired or not valid yet", errs.ErrUnauthorized)
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", errs.ErrUnauthorized)
	}
	return id, nil
}
