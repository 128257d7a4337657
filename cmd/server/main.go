// Command server starts the Oasis API HTTP service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"oasis/internal/account"
	"oasis/internal/api"
	"oasis/internal/auth"
	"oasis/internal/cache"
	"oasis/internal/catalog"
	"oasis/internal/mail"
	"oasis/internal/observability/logging"
	"oasis/internal/secrets"
	"oasis/internal/server"
	"oasis/internal/store"
	"oasis/internal/upstream"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		logging.Init(logging.Config{}).Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	var users store.UserStore
	switch cfg.StorageDriver {
	case "postgres":
		var opts []store.PostgresOption
		if cfg.PostgresMax > 0 || cfg.PostgresMin > 0 {
			opts = append(opts, store.WithPoolLimits(int32(cfg.PostgresMax), int32(cfg.PostgresMin)))
		}
		users, err = store.NewPostgresStore(bootCtx, cfg.PostgresDSN, opts...)
	default:
		users = store.NewMemoryStore()
	}
	if err != nil {
		logger.Error("failed to open user store", "driver", cfg.StorageDriver, "error", err)
		os.Exit(1)
	}

	kv, err := cache.Connect(bootCtx, cfg.CacheDriver, cache.RedisConfig{
		Addr:         cfg.RedisAddr,
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  cfg.RedisTimeout,
		ReadTimeout:  cfg.RedisTimeout,
		WriteTimeout: cfg.RedisTimeout,
	})
	if err != nil {
		logger.Error("failed to open session cache", "driver", cfg.CacheDriver, "error", err)
		os.Exit(1)
	}

	box, err := secrets.NewBox(cfg.MasterKey)
	if err != nil {
		logger.Error("failed to initialise secret box", "error", err)
		os.Exit(1)
	}

	var codecOpts []auth.CodecOption
	if cfg.AccessTTL > 0 {
		codecOpts = append(codecOpts, auth.WithAccessTTL(cfg.AccessTTL))
	}
	if cfg.RefreshTTL > 0 {
		codecOpts = append(codecOpts, auth.WithRefreshTTL(cfg.RefreshTTL))
	}
	codec := auth.NewCodec([]byte(cfg.JWTSecret), codecOpts...)

	client, err := upstream.New(upstream.Config{
		BaseURL:   cfg.UpstreamURL,
		UserAgent: cfg.UpstreamUserAgent,
		Timeout:   cfg.UpstreamTimeout,
	})
	if err != nil {
		logger.Error("failed to configure upstream client", "error", err)
		os.Exit(1)
	}

	var mailer mail.Mailer
	smtpCfg := mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}
	if smtpCfg.Enabled() {
		mailer, err = mail.NewSMTPMailer(smtpCfg)
		if err != nil {
			logger.Error("failed to configure SMTP mailer", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("SMTP is not configured, verification and reset codes will not be delivered")
		mailer = &mail.NoopMailer{Logger: logging.WithComponent(logger, "mail")}
	}

	accounts, err := account.NewService(account.Config{
		Store:    users,
		Sessions: cache.NewSessions(kv, cfg.SessionTTL),
		Codes:    cache.NewCodes(kv, 0),
		Upstream: client,
		Tokens:   codec,
		Secrets:  box,
		Mailer:   mailer,
		Logger:   logging.WithComponent(logger, "account"),
	})
	if err != nil {
		logger.Error("failed to initialise account service", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(accounts, catalog.NewHTTPServiceFromClient(client), codec, logging.WithComponent(logger, "api"))

	checks := []server.HealthCheck{{Name: "cache", Ping: kv.Ping}}
	if pinger, ok := users.(interface {
		Ping(ctx context.Context) error
	}); ok {
		checks = append(checks, server.HealthCheck{Name: "datastore", Ping: pinger.Ping})
	}

	srv, err := server.New(handler, server.Config{
		Addr:     cfg.Addr,
		TLS:      server.TLSConfig{CertFile: cfg.TLSCert, KeyFile: cfg.TLSKey},
		CORS:     server.CORSConfig{AllowedOrigins: cfg.CORSOrigins},
		Logger:   logger,
		Checks:   checks,
		Security: server.SecurityConfig{},
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("Oasis API listening", "addr", cfg.Addr, "storage", cfg.StorageDriver, "cache", cfg.CacheDriver)
		if cfg.TLSCert != "" && cfg.TLSKey != "" {
			logger.Info("TLS enabled", "cert_file", cfg.TLSCert)
		}
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	if err := users.Close(ctx); err != nil {
		logger.Warn("failed to close user store", "error", err)
	}
	if err := kv.Close(); err != nil {
		logger.Warn("failed to close session cache", "error", err)
	}

	logger.Info("server stopped")
}
