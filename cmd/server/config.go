package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// appConfig is populated from OASIS_* environment variables; command line
// flags override individual values.
type appConfig struct {
	Addr      string `env:"OASIS_ADDR" envDefault:":8080"`
	LogLevel  string `env:"OASIS_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"OASIS_LOG_FORMAT" envDefault:"json"`

	StorageDriver string `env:"OASIS_STORAGE_DRIVER" envDefault:"memory"`
	PostgresDSN   string `env:"OASIS_POSTGRES_DSN"`
	PostgresMax   int    `env:"OASIS_POSTGRES_MAX_CONNS"`
	PostgresMin   int    `env:"OASIS_POSTGRES_MIN_CONNS"`

	CacheDriver   string        `env:"OASIS_CACHE_DRIVER" envDefault:"memory"`
	RedisAddr     string        `env:"OASIS_REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisUsername string        `env:"OASIS_REDIS_USERNAME"`
	RedisPassword string        `env:"OASIS_REDIS_PASSWORD"`
	RedisDB       int           `env:"OASIS_REDIS_DB"`
	RedisTimeout  time.Duration `env:"OASIS_REDIS_TIMEOUT"`

	JWTSecret  string        `env:"OASIS_JWT_SECRET"`
	MasterKey  string        `env:"OASIS_MASTER_KEY"`
	AccessTTL  time.Duration `env:"OASIS_ACCESS_TOKEN_TTL"`
	RefreshTTL time.Duration `env:"OASIS_REFRESH_TOKEN_TTL"`
	SessionTTL time.Duration `env:"OASIS_SESSION_TTL"`

	UpstreamURL       string        `env:"OASIS_UPSTREAM_URL"`
	UpstreamUserAgent string        `env:"OASIS_UPSTREAM_USER_AGENT"`
	UpstreamTimeout   time.Duration `env:"OASIS_UPSTREAM_TIMEOUT"`

	SMTPHost     string `env:"OASIS_SMTP_HOST"`
	SMTPPort     int    `env:"OASIS_SMTP_PORT"`
	SMTPUsername string `env:"OASIS_SMTP_USERNAME"`
	SMTPPassword string `env:"OASIS_SMTP_PASSWORD"`
	SMTPFrom     string `env:"OASIS_SMTP_FROM"`

	TLSCert     string   `env:"OASIS_TLS_CERT"`
	TLSKey      string   `env:"OASIS_TLS_KEY"`
	CORSOrigins []string `env:"OASIS_CORS_ORIGINS" envSeparator:","`
}

func loadConfig(args []string) (appConfig, error) {
	var cfg appConfig
	if err := env.Parse(&cfg); err != nil {
		return appConfig{}, fmt.Errorf("parse environment: %w", err)
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	addr := fs.String("addr", "", "HTTP listen address")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	storageDriver := fs.String("storage-driver", "", "user store driver (memory or postgres)")
	postgresDSN := fs.String("postgres-dsn", "", "Postgres connection string")
	cacheDriver := fs.String("cache-driver", "", "session cache driver (memory or redis)")
	redisAddr := fs.String("redis-addr", "", "Redis address for the session cache")
	upstreamURL := fs.String("upstream-url", "", "base URL of the upstream music provider")
	tlsCert := fs.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := fs.String("tls-key", "", "path to TLS private key file")
	corsOrigins := fs.String("cors-origins", "", "comma separated origins allowed by CORS")
	if err := fs.Parse(args); err != nil {
		return appConfig{}, err
	}

	applyOverride(&cfg.Addr, *addr)
	applyOverride(&cfg.LogLevel, *logLevel)
	applyOverride(&cfg.StorageDriver, *storageDriver)
	applyOverride(&cfg.PostgresDSN, *postgresDSN)
	applyOverride(&cfg.CacheDriver, *cacheDriver)
	applyOverride(&cfg.RedisAddr, *redisAddr)
	applyOverride(&cfg.UpstreamURL, *upstreamURL)
	applyOverride(&cfg.TLSCert, *tlsCert)
	applyOverride(&cfg.TLSKey, *tlsKey)
	if trimmed := strings.TrimSpace(*corsOrigins); trimmed != "" {
		cfg.CORSOrigins = splitAndTrim(trimmed)
	}

	return cfg, cfg.validate()
}

func (c appConfig) validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("OASIS_JWT_SECRET is required")
	}
	if strings.TrimSpace(c.MasterKey) == "" {
		return fmt.Errorf("OASIS_MASTER_KEY is required")
	}
	if strings.TrimSpace(c.UpstreamURL) == "" {
		return fmt.Errorf("OASIS_UPSTREAM_URL is required")
	}
	switch c.StorageDriver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres storage selected without OASIS_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	switch c.CacheDriver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache driver %q", c.CacheDriver)
	}
	return nil
}

func applyOverride(target *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*target = trimmed
	}
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
