package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"govqueue/internal/models"
)

const issuerName = "govqueue"

var errMissingSecret = errors.New("auth secret is not configured")

// Claims is the bearer token payload. Subject is the profile id.
type Claims struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 bearer tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &Issuer{secret: secret, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

func (i *Issuer) Issue(profile models.Profile) (string, time.Time, error) {
	if len(i.secret) == 0 {
		return "", time.Time{}, errMissingSecret
	}
	if strings.TrimSpace(profile.ID) == "" {
		return "", time.Time{}, errors.New("profile id is required")
	}
	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := Claims{
		Role: profile.Role,
		Name: profile.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   profile.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies the signature, issuer and expiry and returns the caller.
func (i *Issuer) Parse(token string) (User, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(i.secret) == 0 {
		return User{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuerName), jwt.WithExpirationRequired(), jwt.WithTimeFunc(i.now))
	if err != nil {
		return User{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" || !models.ValidRole(claims.Role) {
		return User{}, ErrInvalidToken
	}
	return User{ID: claims.Subject, Name: claims.Name, Role: claims.Role}, nil
}
