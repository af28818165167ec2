// Package auth issues and checks the bearer tokens of the admin area.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	Subject = "admin"

	MethodPassword = "password"
	MethodSSO      = "sso"

	minSecretLen = 16
)

var (
	ErrInvalidToken = errors.New("invalid admin token")
	ErrWeakSecret   = errors.New("jwt secret must be at least 16 characters")
)

type (
	// Claims carries the login method next to the registered claims.
	// The token id (jti) is what the token registry tracks.
	Claims struct {
		jwt.RegisteredClaims
		Method string `json:"method"`
		Name   string `json:"name,omitempty"`
		Email  string `json:"email,omitempty"`
	}

	Issuer struct {
		secret []byte
		ttl    time.Duration
		now    func() time.Time
	}
)

func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < minSecretLen {
		return nil, ErrWeakSecret
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a new HS256 token for the admin. Name and email are only set
// for single sign-on logins.
func (i *Issuer) Issue(method, name, email string) (string, *Claims, error) {
	now := i.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Method: method,
		Name:   name,
		Email:  email,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign admin token: %w", err)
	}
	return signed, claims, nil
}

// Parse verifies signature, algorithm, expiry and subject.
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithSubject(Subject),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
