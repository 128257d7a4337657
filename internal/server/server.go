// Package server assembles the router, middleware chain, and HTTP lifecycle.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"oasis/internal/api"
	"oasis/internal/observability/logging"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type Config struct {
	Addr     string
	TLS      TLSConfig
	CORS     CORSConfig
	Security SecurityConfig
	Logger   *slog.Logger
	Checks   []HealthCheck
}

type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	tlsCertFile string
	tlsKeyFile  string
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", healthHandler(cfg.Checks)).Methods(http.MethodGet)

	authRoutes := router.PathPrefix("/api/auth").Subrouter()
	authRoutes.HandleFunc("/register", handler.Register).Methods(http.MethodPost)
	authRoutes.HandleFunc("/login", handler.Login).Methods(http.MethodPost)
	authRoutes.HandleFunc("/refresh", handler.Refresh).Methods(http.MethodPost)
	authRoutes.HandleFunc("/logout", handler.RequireUser(handler.Logout)).Methods(http.MethodPost)
	authRoutes.HandleFunc("/verify/request", handler.RequireUser(handler.RequestVerification)).Methods(http.MethodPost)
	authRoutes.HandleFunc("/verify/confirm", handler.RequireUser(handler.ConfirmVerification)).Methods(http.MethodPost)
	authRoutes.HandleFunc("/password/forgot", handler.ForgotPassword).Methods(http.MethodPost)
	authRoutes.HandleFunc("/password/reset", handler.ResetPassword).Methods(http.MethodPost)

	musicRoutes := router.PathPrefix("/api/music").Subrouter()
	musicRoutes.HandleFunc("/search", handler.RequireUser(handler.SearchTracks)).Methods(http.MethodGet)
	musicRoutes.HandleFunc("/stream/{trackID}", handler.RequireUser(handler.StreamTrack)).Methods(http.MethodGet)

	policy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, fmt.Errorf("configure cors: %w", err)
	}

	handlerChain := http.Handler(router)
	handlerChain = corsMiddleware(policy, logger, handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = logging.RequestLogger(logging.RequestLoggerConfig{Logger: logger})(handlerChain)
	handlerChain = requestIDMiddleware(logger, handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srv := &Server{
		httpServer:  httpServer,
		logger:      logger,
		tlsCertFile: strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
	}

	if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return srv, nil
}

// Handler exposes the assembled middleware chain for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}

	if s.tlsCertFile != "" && s.tlsKeyFile != "" {
		return s.httpServer.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	}

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
