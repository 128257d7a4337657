// Package store persists local user identities. Identity records are owned by
// this package and mutated only through the operations below.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound reports an identity lookup miss, distinct from a
	// connectivity failure.
	ErrNotFound = errors.New("user not found")
	// ErrAlreadyExists reports a username or email collision.
	ErrAlreadyExists = errors.New("username or email already registered")
)

// User is a local identity record. UpstreamSecret holds the encrypted
// surrogate credential registered with the upstream provider; it decrypts
// only with the server's master key.
type User struct {
	ID             int64
	Username       string
	Email          string
	PasswordHash   string
	UpstreamSecret string
	IsActive       bool
	IsVerified     bool
	CreatedAt      time.Time
}

// CreateUserParams carries the fields required to create an identity record.
// Password is hashed by the store; it is never persisted in clear.
type CreateUserParams struct {
	Username       string
	Email          string
	Password       string
	UpstreamSecret string
}

// UserStore is the persistence contract for identity records.
type UserStore interface {
	Create(ctx context.Context, params CreateUserParams) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
	GetByID(ctx context.Context, id int64) (User, error)
	SetVerified(ctx context.Context, id int64) error
	SetPasswordHash(ctx context.Context, id int64, hash string) error
	Close(ctx context.Context) error
}
