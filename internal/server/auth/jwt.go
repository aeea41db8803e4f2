// Package auth signs and verifies the two bearer token classes issued by the
// auth service and hashes passwords.
//
// Access and refresh tokens are HS256 JWTs signed with distinct secrets and
// tagged with a "typ" claim, so a token of one class never verifies as the
// other. Every verification failure collapses into common.ErrInvalidToken.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tunekeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind distinguishes the two token classes.
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// AccessClaims is the payload of an access token: subject plus the public
// identity fields at the time of issuance.
type AccessClaims struct {
	jwt.RegisteredClaims
	Kind     TokenKind `json:"typ"`
	Email    string    `json:"email"`
	Username string    `json:"username"`
}

// RefreshClaims is the payload of a refresh token: subject only.
type RefreshClaims struct {
	jwt.RegisteredClaims
	Kind TokenKind `json:"typ"`
}

// Issuer signs and verifies tokens. It is safe for concurrent use.
type Issuer struct {
	accessSecret    []byte
	refreshSecret   []byte
	accessValidity  time.Duration
	refreshValidity time.Duration
	now             func() time.Time
}

// NewIssuer builds an Issuer. The secrets must be non-empty and different.
func NewIssuer(accessSecret, refreshSecret string, accessValidity, refreshValidity time.Duration) (*Issuer, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("auth: empty signing secret")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	return &Issuer{
		accessSecret:    []byte(accessSecret),
		refreshSecret:   []byte(refreshSecret),
		accessValidity:  accessValidity,
		refreshValidity: refreshValidity,
		now:             time.Now,
	}, nil
}

// RefreshValidity is the lifetime given to refresh tokens; also used for the
// registry entry TTL.
func (i *Issuer) RefreshValidity() time.Duration { return i.refreshValidity }

// IssueAccess signs an access token for the given identity.
func (i *Issuer) IssueAccess(userID, email, username string) (string, error) {
	now := i.now()
	claims := AccessClaims{
		RegisteredClaims: i.registered(userID, now, i.accessValidity),
		Kind:             AccessToken,
		Email:            email,
		Username:         username,
	}
	return sign(claims, i.accessSecret)
}

// IssueRefresh signs a refresh token and returns it with its expiry.
func (i *Issuer) IssueRefresh(userID string) (string, time.Time, error) {
	now := i.now()
	claims := RefreshClaims{
		RegisteredClaims: i.registered(userID, now, i.refreshValidity),
		Kind:             RefreshToken,
	}
	token, err := sign(claims, i.refreshSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, claims.ExpiresAt.Time, nil
}

// VerifyAccess checks signature, expiry and kind of an access token.
func (i *Issuer) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := i.parse(token, claims, i.accessSecret); err != nil {
		return nil, err
	}
	if claims.Kind != AccessToken || claims.Subject == "" {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefresh checks signature, expiry and kind of a refresh token.
func (i *Issuer) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := i.parse(token, claims, i.refreshSecret); err != nil {
		return nil, err
	}
	if claims.Kind != RefreshToken || claims.Subject == "" {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

func (i *Issuer) registered(userID string, now time.Time, validity time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   userID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
	}
}

func (i *Issuer) parse(token string, claims jwt.Claims, secret []byte) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return common.ErrInvalidToken
	}
	return nil
}

func sign(claims jwt.Claims, secret []byte) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}
