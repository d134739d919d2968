package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is the signed-in account, decoded from access token claims.
type User struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type accessClaims struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	jwt.RegisteredClaims
}

// parseAccessToken reads claims without verifying the signature. Opaque
// tokens yield an error.
func parseAccessToken(token string) (*User, time.Time, error) {
	var c accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return nil, time.Time{}, err
	}

	var exp time.Time
	if c.ExpiresAt != nil {
		exp = c.ExpiresAt.Time
	}

	if c.Subject == "" {
		return nil, exp, errors.New("token has no subject")
	}

	return &User{
		ID:     c.Subject,
		Email:  c.Email,
		Name:   c.Name,
		Avatar: c.Avatar,
	}, exp, nil
}
