// Package auth adapts the out-of-scope identity service's bearer tokens into the
// domain layer's AccessGrant, grounded on the teacher's JWT handling conventions.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/frontierwars/session-engine/pkg/domain/session/entities"
	out "github.com/frontierwars/session-engine/pkg/domain/session/ports/out"
)

var ErrInvalidToken = errors.New("auth: bearer token is missing, malformed, or expired")

// Claims is the shape this server expects an upstream identity service's JWT to
// carry. The identity/privilege policy itself is out of scope; this server only
// reads the external id and role list a token already asserts.
type Claims struct {
	jwt.RegisteredClaims
	ExternalID string   `json:"external_id"`
	Roles      []string `json:"roles"`
}

// JWTVerifier verifies HS256-signed tokens against a shared secret and issuer, never
// issuing tokens itself.
type JWTVerifier struct {
	secret []byte
	issuer string
}

func NewJWTVerifier(secret []byte, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: secret, issuer: issuer}
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (*entities.AccessGrant, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	if claims.ExternalID == "" {
		return nil, ErrInvalidToken
	}

	return &entities.AccessGrant{ExternalID: claims.ExternalID, Roles: claims.Roles}, nil
}

var _ out.TokenVerifier = (*JWTVerifier)(nil)
