// Package auth verifies bearer tokens on API requests and exposes the caller's
// identity to handlers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is an unexported type used for context keys to avoid collisions.
type contextKey int

const identityKey contextKey = iota

// Identity is the authenticated caller.
type Identity struct {
	Subject string
	Role    string
}

// HasRole reports whether the identity holds one of roles.
func (id Identity) HasRole(roles ...string) bool {
	for _, role := range roles {
		if id.Role == role {
			return true
		}
	}
	return false
}

// Claims are the JWT claims this service reads. Tokens are issued by the
// account service; only "sub", "role", "iss" and "exp" matter here.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IdentityFromContext returns the identity set by Middleware, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// ContextWithIdentity returns a copy of ctx carrying id.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// AuthError represents an authentication or authorization failure.
type AuthError struct {
	Code    string // MissingToken, InvalidToken, AccessDenied
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Verifier checks HS256 bearer tokens against a shared secret.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier creates a Verifier. When issuer is non-empty, tokens must carry
// a matching "iss" claim.
func NewVerifier(secret, issuer string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret is empty")
	}
	return &Verifier{secret: []byte(secret), issuer: issuer}, nil
}

// VerifyToken parses and validates tokenString and returns the identity it
// carries. Expiry is mandatory.
func (v *Verifier) VerifyToken(tokenString string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Identity{}, &AuthError{Code: "InvalidToken", Message: "invalid or expired token"}
	}
	if claims.Subject == "" {
		return Identity{}, &AuthError{Code: "InvalidToken", Message: "token has no subject"}
	}
	return Identity{Subject: claims.Subject, Role: claims.Role}, nil
}

// bearerToken extracts the token from an "Authorization: Bearer ..." header.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
