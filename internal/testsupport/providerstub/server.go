package providerstub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Track is a catalog entry served by the stub's search endpoint.
type Track struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	AlbumTitle  string `json:"albumTitle"`
	AlbumCover  string `json:"albumCover"`
	ReleaseDate string `json:"releaseDate"`
	Genre       string `json:"genre"`
	Duration    int    `json:"duration"`
}

// Options describes how the fake provider should behave.
type Options struct {
	// Tracks are matched by substring against title and artist.
	Tracks []Track

	// StreamURLs maps track ids to the URL returned by the stream endpoint.
	StreamURLs map[string]string

	// RequiredUserAgent, when set, causes requests carrying a different
	// User-Agent to be rejected with HTTP 403.
	RequiredUserAgent string

	// FailLogins causes the first N login requests to return HTTP 503.
	FailLogins int
}

// Operation records a provider interaction in the order it occurred.
type Operation struct {
	Kind      string
	Email     string
	Session   string
	Status    int
	Timestamp time.Time
}

type account struct {
	username string
	password string
}

// Provider hosts a single httptest.Server serving all provider endpoints.
type Provider struct {
	server *httptest.Server
	opts   Options

	mu         sync.Mutex
	accounts   map[string]account
	sessions   map[string]string
	operations []Operation
	loginErr   int
	nextID     int
}

// Start spins up a new provider stub using the provided options.
func Start(opts Options) *Provider {
	p := &Provider{
		opts:     opts,
		accounts: make(map[string]account),
		sessions: make(map[string]string),
		loginErr: opts.FailLogins,
	}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	return p
}

// Close shuts down the underlying HTTP server.
func (p *Provider) Close() {
	if p.server != nil {
		p.server.Close()
	}
}

// BaseURL returns the HTTP base URL for all provider endpoints.
func (p *Provider) BaseURL() string {
	return p.server.URL
}

// Operations returns a copy of all recorded interactions.
func (p *Provider) Operations() []Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Operation, len(p.operations))
	copy(out, p.operations)
	return out
}

// LoginCount reports how many successful logins the stub has served.
func (p *Provider) LoginCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, op := range p.operations {
		if op.Kind == "login" && op.Status == http.StatusOK {
			count++
		}
	}
	return count
}

// ExpireSessions invalidates every outstanding session, so subsequent catalog
// requests return HTTP 401 until the client logs in again.
func (p *Provider) ExpireSessions() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = make(map[string]string)
}

func (p *Provider) handle(w http.ResponseWriter, r *http.Request) {
	if p.opts.RequiredUserAgent != "" && r.Header.Get("User-Agent") != p.opts.RequiredUserAgent {
		http.Error(w, "unrecognised client", http.StatusForbidden)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/auth/register":
		p.handleRegister(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/auth/login":
		p.handleLogin(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/search":
		p.handleSearch(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/stream":
		p.handleStream(w, r)
	default:
		http.Error(w, "unexpected request", http.StatusNotFound)
	}
}

func (p *Provider) record(kind, email, session string, status int) {
	p.operations = append(p.operations, Operation{
		Kind:      kind,
		Email:     email,
		Session:   session,
		Status:    status,
		Timestamp: time.Now(),
	})
}

func (p *Provider) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.accounts[req.Email]; exists {
		p.record("register", req.Email, "", http.StatusConflict)
		http.Error(w, "account exists", http.StatusConflict)
		return
	}
	p.accounts[req.Email] = account{username: req.Username, password: req.Password}
	p.record("register", req.Email, "", http.StatusCreated)
	w.WriteHeader(http.StatusCreated)
}

func (p *Provider) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loginErr > 0 {
		p.loginErr--
		p.record("login", req.Email, "", http.StatusServiceUnavailable)
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	acct, exists := p.accounts[req.Email]
	if !exists || acct.password != req.Password {
		p.record("login", req.Email, "", http.StatusUnauthorized)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	p.nextID++
	session := fmt.Sprintf("stub-session-%d", p.nextID)
	p.sessions[session] = req.Email
	p.record("login", req.Email, session, http.StatusOK)
	http.SetCookie(w, &http.Cookie{Name: "session", Value: session, Path: "/"})
	w.WriteHeader(http.StatusOK)
}

func (p *Provider) sessionFromRequest(r *http.Request) (string, bool) {
	cookie, err := r.Cookie("session")
	if err != nil || cookie.Value == "" {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, live := p.sessions[cookie.Value]
	return cookie.Value, live
}

func (p *Provider) handleSearch(w http.ResponseWriter, r *http.Request) {
	session, live := p.sessionFromRequest(r)
	if !live {
		p.mu.Lock()
		p.record("search", "", session, http.StatusUnauthorized)
		p.mu.Unlock()
		http.Error(w, "session expired", http.StatusUnauthorized)
		return
	}

	query := strings.ToLower(r.URL.Query().Get("q"))
	matches := make([]Track, 0)
	for _, track := range p.opts.Tracks {
		if strings.Contains(strings.ToLower(track.Title), query) ||
			strings.Contains(strings.ToLower(track.Artist), query) {
			matches = append(matches, track)
		}
	}

	p.mu.Lock()
	p.record("search", "", session, http.StatusOK)
	p.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"tracks": matches})
}

func (p *Provider) handleStream(w http.ResponseWriter, r *http.Request) {
	session, live := p.sessionFromRequest(r)
	if !live {
		p.mu.Lock()
		p.record("stream", "", session, http.StatusUnauthorized)
		p.mu.Unlock()
		http.Error(w, "session expired", http.StatusUnauthorized)
		return
	}

	trackID := r.URL.Query().Get("trackId")
	streamURL, ok := p.opts.StreamURLs[trackID]
	if !ok {
		p.mu.Lock()
		p.record("stream", "", session, http.StatusNotFound)
		p.mu.Unlock()
		http.Error(w, "track not found", http.StatusNotFound)
		return
	}

	p.mu.Lock()
	p.record("stream", "", session, http.StatusOK)
	p.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"url": streamURL})
}
