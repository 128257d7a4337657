// Package catalog exposes the music catalog pass-through. Callers never branch
// on implementation identity; the variant is selected at construction.
package catalog

import (
	"context"
	"errors"
)

// ErrSessionExpired reports that the upstream provider rejected the presented
// session. Callers typically force a lazy re-login and retry once.
var ErrSessionExpired = errors.New("upstream session expired")

// Track is a catalog search result, formatted for API consumers.
type Track struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	AlbumCover  string `json:"album_cover"`
	ReleaseDate string `json:"release_date"`
	Genre       string `json:"genre"`
	Duration    int    `json:"duration"`
}

// StreamInfo carries the playback payload returned by the provider.
type StreamInfo struct {
	URL string `json:"url"`
}

// Service is the catalog capability: search, stream, close. The session
// argument is the opaque upstream token attributed to the requesting user.
type Service interface {
	SearchTracks(ctx context.Context, session, query string, offset int) ([]Track, error)
	StreamTrack(ctx context.Context, session, trackID string) (StreamInfo, error)
	Close() error
}
