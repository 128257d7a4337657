// Package account coordinates the credential store, token codec, upstream auth
// client, and session cache into the register/login/refresh/logout/verify/
// reset flows.
package account

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"oasis/internal/auth"
	"oasis/internal/cache"
	"oasis/internal/mail"
	"oasis/internal/secrets"
	"oasis/internal/store"
)

const surrogateCredentialBytes = 32

// UpstreamAuthenticator is the slice of the upstream client the orchestrator
// needs.
type UpstreamAuthenticator interface {
	Register(ctx context.Context, username, email, password string) error
	Login(ctx context.Context, email, password string) (string, error)
}

// TokenPair is returned by flows that (re)authenticate a user. RefreshToken is
// empty when only the access token was reissued.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
}

// Config wires the orchestrator's collaborators. All fields except Logger and
// Mailer are required.
type Config struct {
	Store    store.UserStore
	Sessions *cache.Sessions
	Codes    *cache.Codes
	Upstream UpstreamAuthenticator
	Tokens   *auth.Codec
	Secrets  *secrets.Box
	Mailer   mail.Mailer
	Logger   *slog.Logger
}

// Service implements the auth flows. It holds no per-user state; the session
// cache is the sole coordination point between concurrent requests.
type Service struct {
	store    store.UserStore
	sessions *cache.Sessions
	codes    *cache.Codes
	upstream UpstreamAuthenticator
	tokens   *auth.Codec
	secrets  *secrets.Box
	mailer   mail.Mailer
	logger   *slog.Logger

	// relogin collapses concurrent upstream re-logins for the same user into
	// a single call.
	relogin singleflight.Group

	// syncMail forces dispatches to run inline; tests only.
	syncMail bool
}

// NewService validates the configuration and constructs the orchestrator.
func NewService(cfg Config) (*Service, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("store is required")
	case cfg.Sessions == nil:
		return nil, errors.New("session cache is required")
	case cfg.Codes == nil:
		return nil, errors.New("code cache is required")
	case cfg.Upstream == nil:
		return nil, errors.New("upstream client is required")
	case cfg.Tokens == nil:
		return nil, errors.New("token codec is required")
	case cfg.Secrets == nil:
		return nil, errors.New("secrets box is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mailer := cfg.Mailer
	if mailer == nil {
		mailer = &mail.NoopMailer{Logger: logger}
	}
	return &Service{
		store:    cfg.Store,
		sessions: cfg.Sessions,
		codes:    cfg.Codes,
		upstream: cfg.Upstream,
		tokens:   cfg.Tokens,
		secrets:  cfg.Secrets,
		mailer:   mailer,
		logger:   logger,
	}, nil
}

// Register creates a local identity backed by a fresh upstream account. The
// upstream account is registered under a random surrogate credential, never
// the user's real password; the surrogate is stored encrypted. A verification
// code dispatch is triggered as a side effect.
func (s *Service) Register(ctx context.Context, username, email, password string) (TokenPair, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	email = normalizeEmail(email)

	if _, err := s.store.GetByEmail(ctx, email); err == nil {
		return TokenPair{}, ErrAlreadyExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return TokenPair{}, fmt.Errorf("check email: %w", err)
	}
	if _, err := s.store.GetByUsername(ctx, username); err == nil {
		return TokenPair{}, ErrAlreadyExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return TokenPair{}, fmt.Errorf("check username: %w", err)
	}

	surrogate, err := secrets.GenerateCredential(surrogateCredentialBytes)
	if err != nil {
		return TokenPair{}, fmt.Errorf("generate surrogate credential: %w", err)
	}
	if err := s.upstream.Register(ctx, username, email, surrogate); err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	encrypted, err := s.secrets.Encrypt(surrogate)
	if err != nil {
		return TokenPair{}, fmt.Errorf("encrypt surrogate credential: %w", err)
	}
	user, err := s.store.Create(ctx, store.CreateUserParams{
		Username:       username,
		Email:          email,
		Password:       password,
		UpstreamSecret: encrypted,
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return TokenPair{}, ErrAlreadyExists
		}
		return TokenPair{}, fmt.Errorf("create user: %w", err)
	}

	session, err := s.upstream.Login(ctx, email, surrogate)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if err := s.sessions.Set(ctx, user.ID, session); err != nil {
		return TokenPair{}, fmt.Errorf("cache upstream session: %w", err)
	}

	if err := s.sendVerificationCode(ctx, user); err != nil {
		s.logger.Warn("verification dispatch failed during registration", "user_id", user.ID, "error", err)
	}

	return s.issuePair(user.ID)
}

// Login authenticates the user locally, then always establishes a fresh
// upstream session, replacing any cached one.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, error) {
	email = normalizeEmail(email)
	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, fmt.Errorf("look up user: %w", err)
	}
	if err := store.VerifyPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, store.ErrPasswordMismatch) {
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, fmt.Errorf("verify password: %w", err)
	}
	if !user.IsActive {
		return TokenPair{}, ErrInvalidCredentials
	}

	surrogate, err := s.secrets.Decrypt(user.UpstreamSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("decrypt surrogate credential: %w", err)
	}
	session, err := s.upstream.Login(ctx, user.Email, surrogate)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if err := s.sessions.Set(ctx, user.ID, session); err != nil {
		return TokenPair{}, fmt.Errorf("cache upstream session: %w", err)
	}

	return s.issuePair(user.ID)
}

// RefreshTokens validates a refresh token and reissues an access token. When
// the user's upstream session is absent from cache, a fresh upstream login is
// performed first; its failure surfaces as ErrUpstream since the caller needs
// to know reauthentication failed. The refresh token itself is not rotated.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, ok := s.tokens.Verify(refreshToken)
	if !ok || claims.TokenType != auth.TokenTypeRefresh {
		return TokenPair{}, ErrInvalidToken
	}
	userID, err := claims.UserID()
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}

	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, fmt.Errorf("look up user: %w", err)
	}
	if !user.IsActive {
		return TokenPair{}, ErrInvalidCredentials
	}

	if _, ok, err := s.sessions.Get(ctx, userID); err != nil {
		return TokenPair{}, fmt.Errorf("read session cache: %w", err)
	} else if !ok {
		if _, err := s.renewSession(ctx, userID); err != nil {
			return TokenPair{}, err
		}
	}

	accessToken, err := s.tokens.IssueAccess(userID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	return TokenPair{AccessToken: accessToken, TokenType: "bearer"}, nil
}

// Logout deletes the cached upstream session. Outstanding local tokens simply
// expire on their own schedule; any later operation needing a live upstream
// session forces a lazy re-login.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	return s.sessions.Delete(ctx, userID)
}

// GetActiveUser resolves the user behind a verified access token subject.
func (s *Service) GetActiveUser(ctx context.Context, userID int64) (store.User, error) {
	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, ErrInvalidToken
		}
		return store.User{}, fmt.Errorf("look up user: %w", err)
	}
	if !user.IsActive {
		return store.User{}, ErrInvalidToken
	}
	return user, nil
}

// EnsureSession returns the cached upstream session for the user, minting a
// fresh one on cache miss.
func (s *Service) EnsureSession(ctx context.Context, userID int64) (string, error) {
	session, ok, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("read session cache: %w", err)
	}
	if ok {
		return session, nil
	}
	return s.renewSession(ctx, userID)
}

// InvalidateSession drops the cached upstream session, forcing the next
// EnsureSession call to mint a new one. It is used when the provider rejects
// a cached session and precautionarily after password resets.
func (s *Service) InvalidateSession(ctx context.Context, userID int64) error {
	return s.sessions.Delete(ctx, userID)
}

// renewSession performs an upstream login using the stored surrogate
// credential. Concurrent renewals for one user share a single upstream call;
// the overwrite race with explicit logins stays last-write-wins since upstream
// sessions are idempotently re-derivable.
func (s *Service) renewSession(ctx context.Context, userID int64) (string, error) {
	value, err, _ := s.relogin.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		user, err := s.store.GetByID(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("look up user: %w", err)
		}
		surrogate, err := s.secrets.Decrypt(user.UpstreamSecret)
		if err != nil {
			return nil, fmt.Errorf("decrypt surrogate credential: %w", err)
		}
		session, err := s.upstream.Login(ctx, user.Email, surrogate)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		if err := s.sessions.Set(ctx, userID, session); err != nil {
			return nil, fmt.Errorf("cache upstream session: %w", err)
		}
		return session, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// RequestVerification generates and dispatches a fresh verification code for
// an unverified user.
func (s *Service) RequestVerification(ctx context.Context, userID int64) error {
	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("look up user: %w", err)
	}
	if user.IsVerified {
		return ErrAlreadyVerified
	}
	return s.sendVerificationCode(ctx, user)
}

// VerifyEmail consumes a verification code and flips the verified flag. Codes
// are single use: a second call with the same code fails because the code was
// consumed on success.
func (s *Service) VerifyEmail(ctx context.Context, userID int64, code string) error {
	cached, ok, err := s.codes.GetVerification(ctx, userID)
	if err != nil {
		return fmt.Errorf("read verification code: %w", err)
	}
	if !ok || !codesEqual(cached, code) {
		return ErrInvalidCredentials
	}
	if err := s.store.SetVerified(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("mark verified: %w", err)
	}
	if err := s.codes.ConsumeVerification(ctx, userID); err != nil {
		return fmt.Errorf("consume verification code: %w", err)
	}
	return nil
}

// ForgotPassword generates and dispatches a reset code. Unknown addresses are
// acknowledged silently so the endpoint cannot be used to enumerate accounts.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Info("reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("look up user: %w", err)
	}

	code, err := secrets.GenerateCode()
	if err != nil {
		return fmt.Errorf("generate reset code: %w", err)
	}
	if err := s.codes.SetReset(ctx, email, code); err != nil {
		return fmt.Errorf("store reset code: %w", err)
	}
	s.dispatch(user.Email, "Reset your Oasis password",
		fmt.Sprintf("Your password reset code is %s. It expires in 10 minutes.", code))
	return nil
}

// ResetPassword consumes a reset code and overwrites the local password hash.
// The cached upstream session is invalidated precautionarily; the surrogate
// credential is independent of the local password and unaffected.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	email = normalizeEmail(email)
	cached, ok, err := s.codes.GetReset(ctx, email)
	if err != nil {
		return fmt.Errorf("read reset code: %w", err)
	}
	if !ok || !codesEqual(cached, code) {
		return ErrInvalidCredentials
	}
	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("look up user: %w", err)
	}

	hash, err := store.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.SetPasswordHash(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("set password hash: %w", err)
	}
	if err := s.codes.ConsumeReset(ctx, email); err != nil {
		return fmt.Errorf("consume reset code: %w", err)
	}
	if err := s.sessions.Delete(ctx, user.ID); err != nil {
		s.logger.Warn("session invalidation after reset failed", "user_id", user.ID, "error", err)
	}
	return nil
}

// codesEqual compares one-time codes in constant time.
func codesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Service) sendVerificationCode(ctx context.Context, user store.User) error {
	code, err := secrets.GenerateCode()
	if err != nil {
		return fmt.Errorf("generate verification code: %w", err)
	}
	if err := s.codes.SetVerification(ctx, user.ID, code); err != nil {
		return fmt.Errorf("store verification code: %w", err)
	}
	s.dispatch(user.Email, "Verify your Oasis email",
		fmt.Sprintf("Your verification code is %s. It expires in 10 minutes.", code))
	return nil
}

func (s *Service) issuePair(userID int64) (TokenPair, error) {
	accessToken, err := s.tokens.IssueAccess(userID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	refreshToken, err := s.tokens.IssueRefresh(userID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue refresh token: %w", err)
	}
	return TokenPair{AccessToken: accessToken, RefreshToken: refreshToken, TokenType: "bearer"}, nil
}

// dispatch queues a mail send decoupled from the request/response cycle. The
// HTTP response may return before delivery completes, but the send itself runs
// exactly once per call.
func (s *Service) dispatch(to, subject, body string) {
	send := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.mailer.Dispatch(ctx, to, subject, body); err != nil {
			s.logger.Warn("mail dispatch failed", "to", to, "error", err)
		}
	}
	if s.syncMail {
		send()
		return
	}
	go send()
}
