package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"oasis/internal/auth"
	"oasis/internal/cache"
	"oasis/internal/secrets"
	"oasis/internal/store"
)

type fakeUpstream struct {
	mu            sync.Mutex
	registered    map[string]string
	logins        int
	registerErr   error
	loginErr      error
	loginDelay    time.Duration
	sessionByMail map[string]string
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		registered:    make(map[string]string),
		sessionByMail: make(map[string]string),
	}
}

func (f *fakeUpstream) Register(_ context.Context, _, email, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return f.registerErr
	}
	f.registered[email] = password
	return nil
}

func (f *fakeUpstream) Login(_ context.Context, email, password string) (string, error) {
	if f.loginDelay > 0 {
		time.Sleep(f.loginDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loginErr != nil {
		return "", f.loginErr
	}
	if stored, ok := f.registered[email]; ok && stored != password {
		return "", errors.New("upstream rejected credentials")
	}
	f.logins++
	session := fmt.Sprintf("session-%s-%d", email, f.logins)
	f.sessionByMail[email] = session
	return session, nil
}

func (f *fakeUpstream) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

type capturingMailer struct {
	mu    sync.Mutex
	sent  []string
	codes []string
}

func (m *capturingMailer) Dispatch(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to+": "+subject)
	for _, word := range strings.Fields(body) {
		trimmed := strings.TrimSuffix(word, ".")
		if len(trimmed) == 6 && strings.IndexFunc(trimmed, func(r rune) bool { return r < '0' || r > '9' }) == -1 {
			m.codes = append(m.codes, trimmed)
		}
	}
	return nil
}

func (m *capturingMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.codes) == 0 {
		t.Fatal("no code was dispatched")
	}
	return m.codes[len(m.codes)-1]
}

type testEnv struct {
	svc      *Service
	store    *store.MemoryStore
	upstream *fakeUpstream
	mailer   *capturingMailer
	sessions *cache.Sessions
	secrets  *secrets.Box
	codec    *auth.Codec
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	kv := cache.NewMemoryKV()
	users := store.NewMemoryStore()
	up := newFakeUpstream()
	mailer := &capturingMailer{}
	box, err := secrets.NewBox("test-master-key")
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	codec := auth.NewCodec([]byte("test-signing-secret"))
	sessions := cache.NewSessions(kv, 0)
	svc, err := NewService(Config{
		Store:    users,
		Sessions: sessions,
		Codes:    cache.NewCodes(kv, 0),
		Upstream: up,
		Tokens:   codec,
		Secrets:  box,
		Mailer:   mailer,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.syncMail = true
	return &testEnv{svc: svc, store: users, upstream: up, mailer: mailer, sessions: sessions, secrets: box, codec: codec}
}

func (e *testEnv) register(t *testing.T) (TokenPair, store.User) {
	t.Helper()
	pair, err := e.svc.Register(context.Background(), "alice", "alice@example.com", "hunter2pass")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	user, err := e.store.GetByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("fetch registered user: %v", err)
	}
	return pair, user
}

func TestRegisterIssuesTokensAndCachesSession(t *testing.T) {
	env := newTestEnv(t)
	pair, user := env.register(t)

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens to be issued")
	}
	if pair.TokenType != "bearer" {
		t.Fatalf("token type = %q, want bearer", pair.TokenType)
	}
	if _, ok, err := env.sessions.Get(context.Background(), user.ID); err != nil || !ok {
		t.Fatalf("expected cached session, ok=%v err=%v", ok, err)
	}
	if len(env.mailer.sent) == 0 {
		t.Fatal("expected a verification dispatch")
	}
}

func TestRegisterUsesSurrogateUpstreamCredential(t *testing.T) {
	env := newTestEnv(t)
	_, user := env.register(t)

	surrogate := env.upstream.registered[user.Email]
	if surrogate == "" {
		t.Fatal("upstream account was not registered")
	}
	if surrogate == "hunter2pass" {
		t.Fatal("upstream credential must not be the user's password")
	}
	decrypted, err := env.secrets.Decrypt(user.UpstreamSecret)
	if err != nil {
		t.Fatalf("decrypt stored credential: %v", err)
	}
	if decrypted != surrogate {
		t.Fatal("stored credential does not round-trip to the upstream one")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	if _, err := env.svc.Register(context.Background(), "alice", "other@example.com", "password1"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate username: got %v, want ErrAlreadyExists", err)
	}
	if _, err := env.svc.Register(context.Background(), "bob", "ALICE@example.com", "password1"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate email: got %v, want ErrAlreadyExists", err)
	}
}

func TestRegisterUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.registerErr = errors.New("service down")

	_, err := env.svc.Register(context.Background(), "alice", "alice@example.com", "hunter2pass")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("got %v, want ErrUpstream", err)
	}
	if _, err := env.store.GetByEmail(context.Background(), "alice@example.com"); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("no local user should exist after an upstream failure")
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	_, user := env.register(t)
	before := env.upstream.loginCount()

	pair, err := env.svc.Login(context.Background(), "Alice@Example.com", "hunter2pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if env.upstream.loginCount() != before+1 {
		t.Fatal("login must always establish a fresh upstream session")
	}
	if _, ok, _ := env.sessions.Get(context.Background(), user.ID); !ok {
		t.Fatal("expected refreshed cached session")
	}
}

func TestLoginRejections(t *testing.T) {
	env := newTestEnv(t)
	_, user := env.register(t)

	if _, err := env.svc.Login(context.Background(), "alice@example.com", "wrongpass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v", err)
	}
	if _, err := env.svc.Login(context.Background(), "nobody@example.com", "hunter2pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: got %v", err)
	}
	if err := env.store.SetActive(context.Background(), user.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := env.svc.Login(context.Background(), "alice@example.com", "hunter2pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("inactive account: got %v", err)
	}
}

func TestRefreshTokens(t *testing.T) {
	env := newTestEnv(t)
	pair, _ := env.register(t)

	got, err := env.svc.RefreshTokens(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got.AccessToken == "" {
		t.Fatal("expected a new access token")
	}
	if got.RefreshToken != "" {
		t.Fatal("refresh token must not be rotated")
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	env := newTestEnv(t)
	pair, _ := env.register(t)

	if _, err := env.svc.RefreshTokens(context.Background(), pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token passed as refresh: got %v, want ErrInvalidToken", err)
	}
	if _, err := env.svc.RefreshTokens(context.Background(), "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token: got %v, want ErrInvalidToken", err)
	}
}

func TestRefreshRenewsMissingSession(t *testing.T) {
	env := newTestEnv(t)
	pair, user := env.register(t)
	if err := env.svc.Logout(context.Background(), user.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	before := env.upstream.loginCount()

	if _, err := env.svc.RefreshTokens(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("refresh after logout: %v", err)
	}
	if env.upstream.loginCount() != before+1 {
		t.Fatal("expected a lazy upstream re-login")
	}
	if _, ok, _ := env.sessions.Get(context.Background(), user.ID); !ok {
		t.Fatal("renewed session should be cached")
	}
}

func TestRefreshSurfacesUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	pair, user := env.register(t)
	if err := env.svc.Logout(context.Background(), user.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	env.upstream.loginErr = errors.New("service down")

	if _, err := env.svc.RefreshTokens(context.Background(), pair.RefreshToken); !errors.Is(err, ErrUpstream) {
		t.Fatalf("got %v, want ErrUpstream", err)
	}
}

func TestRefreshRejectsDeletedAndInactiveUsers(t *testing.T) {
	env := newTestEnv(t)
	pair, user := env.register(t)

	orphan := auth.NewCodec([]byte("test-signing-secret"))
	token, err := orphan.IssueRefresh(user.ID + 100)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := env.svc.RefreshTokens(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("deleted user: got %v, want ErrInvalidToken", err)
	}

	if err := env.store.SetActive(context.Background(), user.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := env.svc.RefreshTokens(context.Background(), pair.RefreshToken); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("inactive user: got %v, want ErrInvalidCredentials", err)
	}
}

func TestEnsureSessionCollapsesConcurrentRenewals(t *testing.T) {
	env := newTestEnv(t)
	_, user := env.register(t)
	if err := env.svc.Logout(context.Background(), user.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	env.upstream.loginDelay = 20 * time.Millisecond
	before := env.upstream.loginCount()

	const workers = 8
	results := make(chan string, workers)
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		go func() {
			session, err := env.svc.EnsureSession(context.Background(), user.ID)
			results <- session
			errs <- err
		}()
	}
	var first string
	for i := 0; i < workers; i++ {
		session := <-results
		if err := <-errs; err != nil {
			t.Fatalf("ensure session: %v", err)
		}
		if first == "" {
			first = session
		} else if session != first {
			t.Fatal("concurrent renewals returned different sessions")
		}
	}
	if got := env.upstream.loginCount() - before; got != 1 {
		t.Fatalf("upstream logins during concurrent renewal = %d, want 1", got)
	}
}

func TestCodesEqual(t *testing.T) {
	if !codesEqual("123456", "123456") {
		t.Fatal("equal codes must match")
	}
	if codesEqual("123456", "123457") {
		t.Fatal("different codes must not match")
	}
	if codesEqual("123456", "12345") {
		t.Fatal("codes of different length must not match")
	}
}

func TestVerifyEmail(t *testing.T) {
	env := newTestEnv(t)
	_, user := env.register(t)
	code := env.mailer.lastCode(t)

	if err := env.svc.VerifyEmail(context.Background(), user.ID, "000000"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong code: got %v", err)
	}
	if err := env.svc.VerifyEmail(context.Background(), user.ID, code); err != nil {
		t.Fatalf("verify: %v", err)
	}
	got, err := env.store.GetByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if !got.IsVerified {
		t.Fatal("user should be verified")
	}
	if err := env.svc.VerifyEmail(context.Background(), user.ID, code); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("codes are single use: got %v", err)
	}
}

func TestRequestVerification(t *testing.T) {
	env := newTestEnv(t)
	_, user := env.register(t)

	if err := env.svc.RequestVerification(context.Background(), user.ID); err != nil {
		t.Fatalf("request verification: %v", err)
	}
	code := env.mailer.lastCode(t)
	if err := env.svc.VerifyEmail(context.Background(), user.ID, code); err != nil {
		t.Fatalf("verify with reissued code: %v", err)
	}
	if err := env.svc.RequestVerification(context.Background(), user.ID); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("already verified: got %v, want ErrAlreadyVerified", err)
	}
	if err := env.svc.RequestVerification(context.Background(), user.ID+100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown user: got %v, want ErrNotFound", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	_, user := env.register(t)

	if err := env.svc.ForgotPassword(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	code := env.mailer.lastCode(t)

	if err := env.svc.ResetPassword(context.Background(), "alice@example.com", "000000", "newpassword1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong code: got %v", err)
	}
	if err := env.svc.ResetPassword(context.Background(), "alice@example.com", code, "newpassword1"); err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if err := env.svc.ResetPassword(context.Background(), "alice@example.com", code, "anotherpass1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("codes are single use: got %v", err)
	}

	if _, err := env.svc.Login(context.Background(), "alice@example.com", "hunter2pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("old password should no longer work")
	}
	if _, err := env.svc.Login(context.Background(), "alice@example.com", "newpassword1"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if _, ok, _ := env.sessions.Get(context.Background(), user.ID); !ok {
		t.Fatal("login after reset should have re-established the session")
	}
}

func TestForgotPasswordUnknownEmailIsSilent(t *testing.T) {
	env := newTestEnv(t)
	if err := env.svc.ForgotPassword(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("unknown email must not surface an error: %v", err)
	}
	if len(env.mailer.sent) != 0 {
		t.Fatal("no mail should be dispatched for an unknown email")
	}
}

func TestLogoutDropsSession(t *testing.T) {
	env := newTestEnv(t)
	_, user := env.register(t)

	if err := env.svc.Logout(context.Background(), user.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, ok, _ := env.sessions.Get(context.Background(), user.ID); ok {
		t.Fatal("session should be gone after logout")
	}
}

func TestGetActiveUser(t *testing.T) {
	env := newTestEnv(t)
	_, user := env.register(t)

	got, err := env.svc.GetActiveUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("get active user: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("got user %d, want %d", got.ID, user.ID)
	}
	if _, err := env.svc.GetActiveUser(context.Background(), user.ID+100); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unknown user: got %v, want ErrInvalidToken", err)
	}
	if err := env.store.SetActive(context.Background(), user.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := env.svc.GetActiveUser(context.Background(), user.ID); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("inactive user: got %v, want ErrInvalidToken", err)
	}
}
