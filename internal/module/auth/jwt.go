// Package auth verifies bearer tokens produced by the external identity
// provider. Issuing tokens is limited to local tooling and tests.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token errors.
var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidTokenClaims = errors.New("invalid token claims")
)

// Claims represents JWT token claims.
type Claims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	Name   string    `json:"name,omitempty"`
}

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret string
	Issuer string
	Expiry time.Duration
}

// JWTManager validates HS256 tokens.
type JWTManager struct {
	config *JWTConfig
}

// NewJWTManager creates a new JWT manager.
func NewJWTManager(config *JWTConfig) *JWTManager {
	if config.Expiry == 0 {
		config.Expiry = time.Hour
	}
	return &JWTManager{config: config}
}

// ValidateAccessToken validates an access token and returns the claims.
func (m *JWTManager) ValidateAccessToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(m.config.Secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == uuid.Nil || claims.Email == "" {
		return nil, ErrInvalidTokenClaims
	}
	return claims, nil
}

// IssueToken signs a token for the given identity. Production tokens come
// from the identity provider; this exists for the dev-token command and tests.
func (m *JWTManager) IssueToken(userID uuid.UUID, email, name string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.Expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		UserID: userID,
		Email:  email,
		Name:   name,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.config.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Identity is the verified caller of a request.
type Identity struct {
	UserID uuid.UUID
	Email  string
	Name   string
}

// Authenticate validates the token and returns the caller identity.
func (m *JWTManager) Authenticate(token string) (Identity, error) {
	claims, err := m.ValidateAccessToken(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: claims.UserID, Email: claims.Email, Name: claims.Name}, nil
}
