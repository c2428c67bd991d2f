package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenManagerGenerateAndValidate(t *testing.T) {
	manager := NewTokenManager("test-secret", 10*time.Minute)

	token, expiresAt, err := manager.GenerateToken("alice", ScopeOperate)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	if token == "" || time.Until(expiresAt) <= 0 {
		t.Fatalf("unexpected token %q expiring %v", token, expiresAt)
	}

	claims, err := manager.ValidateToken(token)
	if err != nil {
		t.Fatalf("failed to validate token: %v", err)
	}
	if claims.Operator != "alice" || claims.Subject != "alice" || claims.Scope != ScopeOperate {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.Allows(ScopeRead) || !claims.Allows(ScopeOperate) {
		t.Fatalf("operate scope should allow read and operate")
	}
}

func TestTokenManagerRejectsForeignAndExpiredTokens(t *testing.T) {
	manager := NewTokenManager("test-secret", time.Minute)
	other := NewTokenManager("other-secret", time.Minute)

	token, _, err := other.GenerateToken("mallory", ScopeOperate)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	if _, err := manager.ValidateToken(token); err == nil {
		t.Fatalf("expected a token signed with another secret to be rejected")
	}

	manager.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := manager.GenerateToken("bob", ScopeRead)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	manager.now = time.Now
	if _, err := manager.ValidateToken(expired); err == nil {
		t.Fatalf("expected an expired token to be rejected")
	}
}

func TestReadScope(t *testing.T) {
	manager := NewTokenManager("test-secret", time.Minute)

	token, _, err := manager.GenerateToken("viewer", ScopeRead)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	claims, err := manager.ValidateToken(token)
	if err != nil {
		t.Fatalf("failed to validate token: %v", err)
	}
	if !claims.Allows(ScopeRead) || claims.Allows(ScopeOperate) {
		t.Fatalf("read scope must not allow operate")
	}

	if _, _, err := manager.GenerateToken("viewer", "admin"); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope, got %v", err)
	}
	if _, _, err := manager.GenerateToken(" ", ScopeRead); err == nil {
		t.Fatalf("expected an error for an empty operator")
	}
}
