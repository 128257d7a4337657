package auth

import (
	"testing"
	"time"
)

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	codec := NewCodec([]byte("test-secret"))

	token, err := codec.IssueAccess(42)
	if err != nil {
		t.Fatalf("IssueAccess returned error: %v", err)
	}

	claims, ok := codec.Verify(token)
	if !ok {
		t.Fatal("expected token to verify")
	}
	if claims.TokenType != TokenTypeAccess {
		t.Fatalf("expected access type, got %q", claims.TokenType)
	}
	userID, err := claims.UserID()
	if err != nil {
		t.Fatalf("UserID returned error: %v", err)
	}
	if userID != 42 {
		t.Fatalf("expected user id 42, got %d", userID)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	codec := NewCodec([]byte("secret-a"))
	other := NewCodec([]byte("secret-b"))

	token, err := codec.IssueRefresh(7)
	if err != nil {
		t.Fatalf("IssueRefresh returned error: %v", err)
	}
	if _, ok := other.Verify(token); ok {
		t.Fatal("expected verification to fail under a different secret")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	codec := NewCodec([]byte("test-secret"))

	issuedAt := time.Now().Add(-time.Hour)
	codec.now = func() time.Time { return issuedAt }
	token, err := codec.Issue(7, TokenTypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	codec.now = time.Now
	if _, ok := codec.Verify(token); ok {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	codec := NewCodec([]byte("test-secret"))
	for _, input := range []string{"", "not-a-token", "a.b.c"} {
		if _, ok := codec.Verify(input); ok {
			t.Fatalf("expected %q to be rejected", input)
		}
	}
}

func TestTokenTypesAreDistinct(t *testing.T) {
	codec := NewCodec([]byte("test-secret"))

	access, err := codec.IssueAccess(9)
	if err != nil {
		t.Fatalf("IssueAccess returned error: %v", err)
	}
	refresh, err := codec.IssueRefresh(9)
	if err != nil {
		t.Fatalf("IssueRefresh returned error: %v", err)
	}

	accessClaims, ok := codec.Verify(access)
	if !ok || accessClaims.TokenType != TokenTypeAccess {
		t.Fatalf("expected verified access claims, got %+v ok=%v", accessClaims, ok)
	}
	refreshClaims, ok := codec.Verify(refresh)
	if !ok || refreshClaims.TokenType != TokenTypeRefresh {
		t.Fatalf("expected verified refresh claims, got %+v ok=%v", refreshClaims, ok)
	}
}

func TestIssueRequiresUserID(t *testing.T) {
	codec := NewCodec([]byte("test-secret"))
	if _, err := codec.Issue(0, TokenTypeAccess, time.Minute); err == nil {
		t.Fatal("expected error for missing user id")
	}
}
