package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// refreshWindow forces a refresh shortly before the tracked expiry so a token
// never goes stale mid-request.
const refreshWindow = 5 * time.Minute

// Session owns the authenticated WeKan session: login, token and expiry.
// WeKan's login response carries tokenExpires; when it is absent the session
// falls back to a conservative client-side TTL. Safe for concurrent use by
// gin handler goroutines.
type Session struct {
	baseURL  string
	username string
	password string
	ttl      time.Duration
	http     *http.Client
	log      *zap.Logger

	mu      sync.Mutex
	token   string
	userID  string
	expires time.Time
}

func NewSession(baseURL, username, password string, ttl time.Duration, httpClient *http.Client, log *zap.Logger) *Session {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Session{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		ttl:      ttl,
		http:     httpClient,
		log:      log,
	}
}

// Authenticate logs in against /users/login and stores the token and expiry.
func (s *Session) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticateLocked(ctx)
}

func (s *Session) authenticateLocked(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", s.username)
	form.Set("password", s.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/users/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return &TransientError{Err: fmt.Errorf("wekan login: %w", err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &AuthError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var login struct {
		Token        string `json:"token"`
		ID           string `json:"id"`
		TokenExpires string `json:"tokenExpires"`
	}
	if err := json.Unmarshal(body, &login); err != nil {
		return fmt.Errorf("decoding login response: %w", err)
	}
	if login.Token == "" || login.ID == "" {
		return &AuthError{Status: resp.StatusCode, Body: "login response missing token or id"}
	}

	s.token = login.Token
	s.userID = login.ID
	s.expires = time.Now().Add(s.ttl)
	if login.TokenExpires != "" {
		if exp, err := time.Parse(time.RFC3339, login.TokenExpires); err == nil {
			s.expires = exp
		}
	}

	s.log.Info("authenticated with wekan",
		zap.String("user_id", s.userID),
		zap.Time("token_expires", s.expires))
	return nil
}

// Token returns a valid token, re-authenticating transparently when the
// current one is absent or within the refresh window of its expiry.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || time.Now().Add(refreshWindow).After(s.expires) {
		if err := s.authenticateLocked(ctx); err != nil {
			return "", err
		}
	}
	return s.token, nil
}

// UserID returns the authenticated user's id, logging in first if needed.
// WeKan wants it as board owner and card author.
func (s *Session) UserID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID == "" {
		if err := s.authenticateLocked(ctx); err != nil {
			return "", err
		}
	}
	return s.userID, nil
}

// Invalidate drops the cached token so the next Token call re-authenticates.
// Called by the client after a 401.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}

// Valid reports whether a non-expired token is currently held. Never triggers
// a login; the health endpoint depends on that.
func (s *Session) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != "" && time.Now().Before(s.expires)
}
