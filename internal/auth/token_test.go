package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("user-1", "avery", "sess-1", AccessToken, time.Hour, time.Now()))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued, AccessToken)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "user-1" || claims.Username != "avery" || claims.SessionID != "sess-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("user-1", "avery", "sess-1", AccessToken, time.Minute, time.Now().Add(-time.Hour)))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	_, err = ParseToken(secret, issued, AccessToken)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsWrongType(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("user-1", "avery", "sess-1", RefreshToken, time.Hour, time.Now()))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued, AccessToken); !errors.Is(err, ErrWrongTokenType) {
		t.Fatalf("expected ErrWrongTokenType, got %v", err)
	}
	if _, err := ParseToken(secret, issued, RefreshToken); err != nil {
		t.Fatalf("ParseToken(refresh) error = %v", err)
	}
}

func TestParseTokenRejectsForeignSignature(t *testing.T) {
	issued, err := IssueToken([]byte("other"), NewClaims("user-1", "avery", "sess-1", AccessToken, time.Hour, time.Now()))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("secret"), issued, ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := ParseToken([]byte("secret"), "not-a-token", ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestIssueTokenRequiresSubject(t *testing.T) {
	if _, err := IssueToken([]byte("secret"), Claims{Type: AccessToken}); err == nil {
		t.Fatal("expected IssueToken() to fail without subject")
	}
}

func TestIssuedTokensAreDistinct(t *testing.T) {
	secret := []byte("secret")
	now := time.Now()
	first, err := IssueToken(secret, NewClaims("user-1", "avery", "sess-1", RefreshToken, time.Hour, now))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	second, err := IssueToken(secret, NewClaims("user-1", "avery", "sess-1", RefreshToken, time.Hour, now))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if first == second || HashToken(first) == HashToken(second) {
		t.Fatal("expected tokens issued at the same instant to differ")
	}
}
