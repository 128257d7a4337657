package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"oasis/internal/catalog"
)

// withSession runs fn with the user's upstream session, retrying once with a
// freshly minted session when the provider reports the cached one expired.
func (h *Handler) withSession(w http.ResponseWriter, r *http.Request, fn func(session string) error) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	session, err := h.Accounts.EnsureSession(r.Context(), user.ID)
	if err != nil {
		h.writeAccountError(w, err)
		return
	}
	err = fn(session)
	if errors.Is(err, catalog.ErrSessionExpired) {
		if err = h.Accounts.InvalidateSession(r.Context(), user.ID); err != nil {
			h.writeAccountError(w, err)
			return
		}
		if session, err = h.Accounts.EnsureSession(r.Context(), user.ID); err != nil {
			h.writeAccountError(w, err)
			return
		}
		err = fn(session)
	}
	if err != nil {
		if errors.Is(err, catalog.ErrSessionExpired) {
			writeError(w, http.StatusBadGateway, errors.New("upstream session could not be established"))
			return
		}
		h.Logger.Error("catalog request failed", "error", err)
		writeError(w, http.StatusBadGateway, errors.New("upstream service unavailable"))
	}
}

func (h *Handler) SearchTracks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, errors.New("query parameter q is required"))
		return
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, errors.New("offset must be a non-negative integer"))
			return
		}
		offset = parsed
	}

	h.withSession(w, r, func(session string) error {
		tracks, err := h.Catalog.SearchTracks(r.Context(), session, query, offset)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"tracks": tracks})
		return nil
	})
}

func (h *Handler) StreamTrack(w http.ResponseWriter, r *http.Request) {
	trackID := mux.Vars(r)["trackID"]
	if trackID == "" {
		writeError(w, http.StatusBadRequest, errors.New("track id is required"))
		return
	}

	h.withSession(w, r, func(session string) error {
		info, err := h.Catalog.StreamTrack(r.Context(), session, trackID)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, info)
		return nil
	})
}
