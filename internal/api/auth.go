package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"oasis/internal/auth"
	"oasis/internal/store"
)

type contextKey string

const userContextKey contextKey = "authenticatedUser"

// ContextWithUser stores the authenticated user in the provided context.
func ContextWithUser(ctx context.Context, user store.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext retrieves the authenticated user from context if present.
func UserFromContext(ctx context.Context) (store.User, bool) {
	user, ok := ctx.Value(userContextKey).(store.User)
	return user, ok
}

// ExtractToken pulls the bearer token from the Authorization header.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// AuthenticateRequest validates the access token on the request and returns
// the active user behind it. Refresh tokens are rejected here; they are only
// accepted by the refresh endpoint.
func (h *Handler) AuthenticateRequest(r *http.Request) (store.User, error) {
	token := ExtractToken(r)
	if token == "" {
		return store.User{}, errors.New("missing bearer token")
	}
	claims, ok := h.Tokens.Verify(token)
	if !ok || claims.TokenType != auth.TokenTypeAccess {
		return store.User{}, errors.New("invalid or expired token")
	}
	userID, err := claims.UserID()
	if err != nil {
		return store.User{}, errors.New("invalid or expired token")
	}
	user, err := h.Accounts.GetActiveUser(r.Context(), userID)
	if err != nil {
		return store.User{}, errors.New("invalid or expired token")
	}
	return user, nil
}

// RequireUser wraps a handler with bearer-token authentication, storing the
// resolved user in the request context.
func (h *Handler) RequireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := h.AuthenticateRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next(w, r.WithContext(ContextWithUser(r.Context(), user)))
	}
}

func (h *Handler) requireAuthenticatedUser(w http.ResponseWriter, r *http.Request) (store.User, bool) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("authentication required"))
		return store.User{}, false
	}
	return user, true
}
