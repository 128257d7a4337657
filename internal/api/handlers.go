// Package api exposes the HTTP surface: auth flows under /api/auth and the
// catalog proxy under /api/music.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"oasis/internal/account"
	"oasis/internal/auth"
	"oasis/internal/catalog"
)

type Handler struct {
	Accounts *account.Service
	Catalog  catalog.Service
	Tokens   *auth.Codec
	Logger   *slog.Logger
}

func NewHandler(accounts *account.Service, cat catalog.Service, tokens *auth.Codec, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Accounts: accounts, Catalog: cat, Tokens: tokens, Logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// writeAccountError maps the account error taxonomy onto HTTP statuses.
// Unclassified errors are logged and returned as a generic 500 so internals
// never leak to clients.
func (h *Handler) writeAccountError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, account.ErrAlreadyExists):
		writeError(w, http.StatusConflict, errors.New("account already exists"))
	case errors.Is(err, account.ErrAlreadyVerified):
		writeError(w, http.StatusConflict, errors.New("email is already verified"))
	case errors.Is(err, account.ErrNotFound):
		writeError(w, http.StatusNotFound, errors.New("account not found"))
	case errors.Is(err, account.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, errors.New("invalid credentials"))
	case errors.Is(err, account.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, errors.New("invalid or expired token"))
	case errors.Is(err, account.ErrUpstream):
		writeError(w, http.StatusBadGateway, errors.New("upstream service unavailable"))
	default:
		h.Logger.Error("unhandled account error", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}
