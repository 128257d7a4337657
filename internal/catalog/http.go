package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"oasis/internal/upstream"
)

// HTTPConfig configures the provider-backed catalog service.
type HTTPConfig struct {
	BaseURL    string
	UserAgent  string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// HTTPService talks to the upstream provider's catalog endpoints, presenting
// the caller's cached session cookie on every request.
type HTTPService struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// NewHTTPService constructs the provider-backed catalog variant.
func NewHTTPService(cfg HTTPConfig) (*HTTPService, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("catalog base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPService{
		baseURL:    base,
		userAgent:  strings.TrimSpace(cfg.UserAgent),
		httpClient: httpClient,
	}, nil
}

// NewHTTPServiceFromClient shares the transport and identity of an existing
// upstream auth client.
func NewHTTPServiceFromClient(client *upstream.Client) *HTTPService {
	return &HTTPService{
		baseURL:    client.BaseURL(),
		userAgent:  client.UserAgent(),
		httpClient: client.HTTPClient(),
	}
}

type searchResponse struct {
	Tracks []searchTrack `json:"tracks"`
}

type searchTrack struct {
	ID          json.Number `json:"id"`
	Title       string      `json:"title"`
	Artist      string      `json:"artist"`
	AlbumTitle  string      `json:"albumTitle"`
	AlbumCover  string      `json:"albumCover"`
	ReleaseDate string      `json:"releaseDate"`
	Genre       string      `json:"genre"`
	Duration    int         `json:"duration"`
}

func (s *HTTPService) SearchTracks(ctx context.Context, session, query string, offset int) ([]Track, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("offset", strconv.Itoa(offset))

	resp, err := s.get(ctx, "/search", params, session)
	if err != nil {
		return nil, &upstream.Error{Op: "search", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrSessionExpired
	case resp.StatusCode != http.StatusOK:
		// Provider treats malformed queries as empty result sets.
		return []Track{}, nil
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &upstream.Error{Op: "search", Err: fmt.Errorf("decode response: %w", err)}
	}
	tracks := make([]Track, 0, len(payload.Tracks))
	for _, item := range payload.Tracks {
		track := Track{
			ID:          item.ID.String(),
			Title:       item.Title,
			Artist:      item.Artist,
			Album:       item.AlbumTitle,
			AlbumCover:  item.AlbumCover,
			ReleaseDate: item.ReleaseDate,
			Genre:       item.Genre,
			Duration:    item.Duration,
		}
		if track.Title == "" {
			track.Title = "Untitled"
		}
		if track.Artist == "" {
			track.Artist = "Unknown"
		}
		if track.Album == "" {
			track.Album = "Unknown"
		}
		tracks = append(tracks, track)
	}
	return tracks, nil
}

func (s *HTTPService) StreamTrack(ctx context.Context, session, trackID string) (StreamInfo, error) {
	params := url.Values{}
	params.Set("trackId", trackID)

	resp, err := s.get(ctx, "/stream", params, session)
	if err != nil {
		return StreamInfo{}, &upstream.Error{Op: "stream", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return StreamInfo{}, ErrSessionExpired
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return StreamInfo{}, &upstream.Error{Op: "stream", Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var info StreamInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return StreamInfo{}, &upstream.Error{Op: "stream", Err: fmt.Errorf("decode response: %w", err)}
	}
	return info, nil
}

func (s *HTTPService) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

func (s *HTTPService) get(ctx context.Context, path string, params url.Values, session string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.AddCookie(&http.Cookie{Name: "session", Value: session})
	return s.httpClient.Do(req)
}
