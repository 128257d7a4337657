package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"oasis/internal/store/migrations"
)

const uniqueViolationCode = "23505"

// PostgresStore persists identity records to Postgres, allowing multiple API
// replicas to share authentication state. Uniqueness of username and email is
// enforced by the schema, so concurrent duplicate registrations resolve to
// ErrAlreadyExists authoritatively.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// PostgresOption configures the Postgres store.
type PostgresOption func(*pgxpool.Config)

// WithPoolLimits bounds the connection pool size.
func WithPoolLimits(maxConns, minConns int32) PostgresOption {
	return func(cfg *pgxpool.Config) {
		if maxConns > 0 {
			cfg.MaxConns = maxConns
		}
		if minConns > 0 {
			cfg.MinConns = minConns
		}
	}
}

// NewPostgresStore opens a Postgres-backed user store using the provided DSN
// and applies any pending schema migrations.
func NewPostgresStore(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	if err := runMigrations(ctx, dsn); err != nil {
		return nil, fmt.Errorf("apply user store migrations: %w", err)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func runMigrations(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// Close releases the connection pool resources.
func (s *PostgresStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Ping verifies connectivity to the database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres pool not configured")
	}
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Create(ctx context.Context, params CreateUserParams) (User, error) {
	hash, err := HashPassword(params.Password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO users (username, email, password_hash, upstream_secret)
VALUES ($1, $2, $3, $4)
RETURNING id, is_active, is_verified, created_at
`, params.Username, params.Email, hash, params.UpstreamSecret)
	user := User{
		Username:       params.Username,
		Email:          params.Email,
		PasswordHash:   hash,
		UpstreamSecret: params.UpstreamSecret,
	}
	if err := row.Scan(&user.ID, &user.IsActive, &user.IsVerified, &user.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrAlreadyExists
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (User, error) {
	return s.getBy(ctx, `lower(email) = lower($1)`, email)
}

func (s *PostgresStore) GetByUsername(ctx context.Context, username string) (User, error) {
	return s.getBy(ctx, `lower(username) = lower($1)`, username)
}

func (s *PostgresStore) GetByID(ctx context.Context, id int64) (User, error) {
	return s.getBy(ctx, `id = $1`, id)
}

func (s *PostgresStore) getBy(ctx context.Context, predicate string, arg any) (User, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, username, email, password_hash, upstream_secret, is_active, is_verified, created_at
FROM users
WHERE `+predicate, arg)
	var user User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.UpstreamSecret, &user.IsActive, &user.IsVerified, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) SetVerified(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET is_verified = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("set verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("set password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
