// ABOUTME: HS256 agent tokens carrying user id, role and capabilities
// ABOUTME: The backend verifies and mints them; the console reads claims unverified

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/coven-desk/internal/desk"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Claims is the token payload shared by console and backend.
type Claims struct {
	Name         string   `json:"name,omitempty"`
	Role         string   `json:"role"`
	Capabilities []string `json:"caps,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts claims into a desk.Identity.
func (c *Claims) Identity() *desk.Identity {
	caps := make([]desk.Capability, len(c.Capabilities))
	for i, name := range c.Capabilities {
		caps[i] = desk.Capability(name)
	}
	return &desk.Identity{
		UserID:       c.Subject,
		Name:         c.Name,
		Role:         c.Role,
		Capabilities: caps,
	}
}

// Verifier signs and verifies HS256 agent tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier with the given secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify validates the token and returns the identity it carries.
func (v *Verifier) Verify(tokenString string) (*desk.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims.Identity(), nil
}

// Generate mints a token for id that expires after expiresIn.
func (v *Verifier) Generate(id *desk.Identity, expiresIn time.Duration) (string, error) {
	now := time.Now()
	caps := make([]string, len(id.Capabilities))
	for i, c := range id.Capabilities {
		caps[i] = string(c)
	}
	claims := Claims{
		Name:         id.Name,
		Role:         id.Role,
		Capabilities: caps,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// ParseIdentity reads the identity from a token without verifying its
// signature. The console cannot verify tokens; the backend re-checks every
// call, so these claims only drive local gating and room payloads.
func ParseIdentity(tokenString string) (*desk.Identity, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, ErrExpiredToken
	}
	return claims.Identity(), nil
}
