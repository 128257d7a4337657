// Package cache provides the expiring key/value substrate shared by upstream
// sessions and one-time codes. TTL enforcement is delegated entirely to the
// backing store; absence of a key means "needs renewal", never proof of
// upstream invalidity.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// KV is the minimal contract against the expiring key/value store. Lookup
// misses are reported via the boolean, distinct from connectivity failures.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

const (
	sessionKeyPrefix = "upstream_session:"
	verifyKeyPrefix  = "verify:"
	resetKeyPrefix   = "reset:"
)

const (
	// DefaultSessionTTL bounds cached upstream sessions, independent of the
	// upstream provider's own expiry semantics.
	DefaultSessionTTL = 7 * 24 * time.Hour
	// DefaultCodeTTL bounds verification and reset codes.
	DefaultCodeTTL = 10 * time.Minute
)

// Sessions associates local user ids with opaque upstream session tokens.
type Sessions struct {
	kv  KV
	ttl time.Duration
}

// NewSessions wraps the key/value store with the session namespace. A zero ttl
// selects DefaultSessionTTL.
func NewSessions(kv KV, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{kv: kv, ttl: ttl}
}

func sessionKey(userID int64) string {
	return sessionKeyPrefix + strconv.FormatInt(userID, 10)
}

// Get returns the cached session for the user, reporting a miss distinctly.
func (s *Sessions) Get(ctx context.Context, userID int64) (string, bool, error) {
	return s.kv.Get(ctx, sessionKey(userID))
}

// Set caches the session under the configured TTL.
func (s *Sessions) Set(ctx context.Context, userID int64, session string) error {
	return s.kv.Set(ctx, sessionKey(userID), session, s.ttl)
}

// Delete invalidates the cached session; used for logout and precautionary
// invalidation after password resets.
func (s *Sessions) Delete(ctx context.Context, userID int64) error {
	return s.kv.Delete(ctx, sessionKey(userID))
}

// Codes stores single-use one-time codes for email verification (keyed by
// user id) and password reset (keyed by email), in key namespaces disjoint
// from each other and from sessions.
type Codes struct {
	kv  KV
	ttl time.Duration
}

// NewCodes wraps the key/value store with the one-time-code namespaces. A zero
// ttl selects DefaultCodeTTL.
func NewCodes(kv KV, ttl time.Duration) *Codes {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return &Codes{kv: kv, ttl: ttl}
}

func verifyKey(userID int64) string {
	return verifyKeyPrefix + strconv.FormatInt(userID, 10)
}

func resetKey(email string) string {
	return resetKeyPrefix + email
}

// SetVerification stores a verification code for the user.
func (c *Codes) SetVerification(ctx context.Context, userID int64, code string) error {
	return c.kv.Set(ctx, verifyKey(userID), code, c.ttl)
}

// GetVerification returns the pending verification code for the user.
func (c *Codes) GetVerification(ctx context.Context, userID int64) (string, bool, error) {
	return c.kv.Get(ctx, verifyKey(userID))
}

// ConsumeVerification deletes the verification code, making it single use.
func (c *Codes) ConsumeVerification(ctx context.Context, userID int64) error {
	return c.kv.Delete(ctx, verifyKey(userID))
}

// SetReset stores a password-reset code for the email address.
func (c *Codes) SetReset(ctx context.Context, email, code string) error {
	return c.kv.Set(ctx, resetKey(email), code, c.ttl)
}

// GetReset returns the pending reset code for the email address.
func (c *Codes) GetReset(ctx context.Context, email string) (string, bool, error) {
	return c.kv.Get(ctx, resetKey(email))
}

// ConsumeReset deletes the reset code, making it single use.
func (c *Codes) ConsumeReset(ctx context.Context, email string) error {
	return c.kv.Delete(ctx, resetKey(email))
}

// Connect opens the key/value store selected by driver ("memory" or "redis").
func Connect(ctx context.Context, driver string, cfg RedisConfig) (KV, error) {
	switch driver {
	case "", "memory":
		return NewMemoryKV(), nil
	case "redis":
		return NewRedisKV(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported cache driver %q", driver)
	}
}
