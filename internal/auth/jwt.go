package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token scopes. Operate implies read.
const (
	ScopeRead    = "read"
	ScopeOperate = "operate"
)

var ErrInvalidScope = errors.New("invalid scope")

// Claims represents JWT claims
type Claims struct {
	Operator string `json:"operator"`
	Scope    string `json:"scope"`
	jwt.RegisteredClaims
}

// Allows reports whether the claims grant the required scope
func (c *Claims) Allows(required string) bool {
	switch required {
	case ScopeRead:
		return c.Scope == ScopeRead || c.Scope == ScopeOperate
	case ScopeOperate:
		return c.Scope == ScopeOperate
	default:
		return false
	}
}

// TokenManager mints and validates operator bearer tokens
type TokenManager struct {
	secretKey []byte
	duration  time.Duration
	now       func() time.Time
}

// NewTokenManager creates a new token manager
func NewTokenManager(secretKey string, duration time.Duration) *TokenManager {
	return &TokenManager{
		secretKey: []byte(secretKey),
		duration:  duration,
		now:       time.Now,
	}
}

// GenerateToken creates a signed token for an operator
func (m *TokenManager) GenerateToken(operator, scope string) (string, time.Time, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return "", time.Time{}, fmt.Errorf("operator name is required")
	}
	if scope != ScopeRead && scope != ScopeOperate {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}

	now := m.now()
	expiresAt := now.Add(m.duration)
	claims := &Claims{
		Operator: operator,
		Scope:    scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a token and returns its claims
func (m *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Scope != ScopeRead && claims.Scope != ScopeOperate {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, claims.Scope)
	}
	return claims, nil
}
