package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: uniqueViolationCode, ConstraintName: "users_email_key"}
	if !isUniqueViolation(fmt.Errorf("insert user: %w", unique)) {
		t.Fatal("expected wrapped unique violation to be detected")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("foreign key violation should not map to ErrAlreadyExists")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatal("plain errors should not map to ErrAlreadyExists")
	}
}

func TestNewPostgresStoreRequiresDSN(t *testing.T) {
	if _, err := NewPostgresStore(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
