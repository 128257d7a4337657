package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType tags a token as usable for API access or for refresh only. The
// codec records the tag verbatim; enforcing it is the caller's responsibility.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

const (
	// DefaultAccessTTL bounds the lifetime of access tokens.
	DefaultAccessTTL = 30 * time.Minute
	// DefaultRefreshTTL bounds the lifetime of refresh tokens.
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// Claims is the signed claim set carried by every locally issued token.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"type"`
}

// UserID parses the token subject into the numeric user identifier.
func (c Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("token subject is not a user id")
	}
	return id, nil
}

// CodecOption configures a Codec instance.
type CodecOption func(*Codec)

// WithAccessTTL overrides the default access-token lifetime.
func WithAccessTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) {
		if ttl > 0 {
			c.accessTTL = ttl
		}
	}
}

// WithRefreshTTL overrides the default refresh-token lifetime.
func WithRefreshTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) {
		if ttl > 0 {
			c.refreshTTL = ttl
		}
	}
}

// Codec issues and validates signed local tokens. Tokens are never persisted;
// validity is purely a function of the signature and expiry at verification
// time.
type Codec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewCodec constructs a Codec signing with the provided secret.
func NewCodec(secret []byte, opts ...CodecOption) *Codec {
	codec := &Codec{
		secret:     secret,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(codec)
		}
	}
	return codec
}

// Issue produces a signed token embedding the subject, type tag, and an
// absolute expiry ttl from now.
func (c *Codec) Issue(userID int64, tokenType TokenType, ttl time.Duration) (string, error) {
	if userID <= 0 {
		return "", errors.New("userID is required")
	}
	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType: tokenType,
	})
	return token.SignedString(c.secret)
}

// IssueAccess issues an access token with the configured access TTL.
func (c *Codec) IssueAccess(userID int64) (string, error) {
	return c.Issue(userID, TokenTypeAccess, c.accessTTL)
}

// IssueRefresh issues a refresh token with the configured refresh TTL.
func (c *Codec) IssueRefresh(userID int64) (string, error) {
	return c.Issue(userID, TokenTypeRefresh, c.refreshTTL)
}

// Verify parses and validates the token. It reports ok=false on signature
// mismatch, malformed structure, or expiry in the past; it never panics and
// never returns a partially valid claim set.
func (c *Codec) Verify(tokenString string) (Claims, bool) {
	if tokenString == "" {
		return Claims{}, false
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(c.now))
	if err != nil || !token.Valid {
		return Claims{}, false
	}
	return *claims, true
}
