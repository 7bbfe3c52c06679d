// Package auth provides authentication and authorization for the back-office server.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Claims represents the JWT claims for an application session credential.
type Claims struct {
	jwt.RegisteredClaims
	UserID         string   `json:"uid"`
	Email          string   `json:"email"`
	TenantID       string   `json:"tid,omitempty"`
	Roles          []string `json:"roles,omitempty"`
	SessionID      string   `json:"sid,omitempty"`
	SessionVersion int32    `json:"sv,omitempty"`
}

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret []byte
	Expiry time.Duration
	Issuer string
}

// JWTManager handles JWT token generation and validation.
type JWTManager struct {
	config JWTConfig
}

// NewJWTManager creates a new JWT manager.
func NewJWTManager(config JWTConfig) *JWTManager {
	if config.Expiry == 0 {
		config.Expiry = 12 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "backoffice"
	}
	return &JWTManager{config: config}
}

// IssuedToken is a signed token together with its expiry.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

// GenerateToken creates a signed auth token carrying the user's current roles.
// The sid claim ties the token to a revocable session row.
func (m *JWTManager) GenerateToken(userID, email, tenantID string, roles []string, sessionID string, sessionVersion int32) (*IssuedToken, error) {
	now := time.Now()
	expiresAt := now.Add(m.config.Expiry)
	entropy := ulid.Monotonic(rand.Reader, 0)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.MustNew(ulid.Timestamp(now), entropy).String(),
			Issuer:    m.config.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID:         userID,
		Email:          email,
		TenantID:       tenantID,
		Roles:          roles,
		SessionID:      sessionID,
		SessionVersion: sessionVersion,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.config.Secret)
	if err != nil {
		return nil, fmt.Errorf("sign auth token: %w", err)
	}

	return &IssuedToken{Token: signed, ExpiresAt: expiresAt}, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.config.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}
