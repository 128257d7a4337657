package store

import (
	"errors"
	"strings"
	"testing"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("pw123456")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	if !strings.HasPrefix(hash, "pbkdf2$sha256$") {
		t.Fatalf("unexpected hash format: %s", hash)
	}
	if err := VerifyPassword(hash, "pw123456"); err != nil {
		t.Fatalf("VerifyPassword returned error: %v", err)
	}
}

func TestVerifyPasswordRejectsWrongCandidate(t *testing.T) {
	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	if err := VerifyPassword(hash, "battery-staple"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	for _, hash := range []string{"", "plain", "bcrypt$sha256$1$a$b", "pbkdf2$sha256$zero$a$b"} {
		err := VerifyPassword(hash, "anything")
		if err == nil {
			t.Fatalf("expected error for hash %q", hash)
		}
		if errors.Is(err, ErrPasswordMismatch) {
			t.Fatalf("malformed hash %q should not report a mismatch", hash)
		}
	}
}

func TestHashPasswordSalts(t *testing.T) {
	first, err := HashPassword("pw123456")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	second, err := HashPassword("pw123456")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	if first == second {
		t.Fatal("expected unique salts to produce distinct hashes")
	}
}
