// Package auth keeps the signed-in member for the calendar host: a client
// for the upstream login endpoint and a fixed local identity for stand-alone
// use.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/afero"

	appLog "sharedcal/internal/log"
)

var (
	ErrNotSignedIn        = errors.New("auth: not signed in")
	ErrInvalidCredentials = errors.New("auth: invalid member id or password")
)

// Session is the signed-in member.
type Session struct {
	MemberID  string    `json:"memberId"`
	Name      string    `json:"name"`
	Token     string    `json:"accessToken,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// Expired reports whether the token is past its expiry. Sessions without an
// expiry never expire.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Identity is what the host needs from authentication: the display name and
// a way to sign out.
type Identity interface {
	Login(ctx context.Context, memberID, password string) (Session, error)
	Logout()
	Current() (Session, bool)
}

// Local is a fixed identity used when no upstream is configured.
type Local struct {
	mu      sync.Mutex
	session Session
	active  bool
}

func NewLocal(name string) *Local {
	return &Local{session: Session{MemberID: name, Name: name}, active: true}
}

// Login accepts any credentials and signs the member in under their id.
func (l *Local) Login(ctx context.Context, memberID, password string) (Session, error) {
	if strings.TrimSpace(memberID) == "" {
		return Session{}, ErrInvalidCredentials
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session = Session{MemberID: memberID, Name: memberID}
	l.active = true
	return l.session, nil
}

func (l *Local) Logout() {
	l.mu.Lock()
	l.active = false
	l.mu.Unlock()
}

func (l *Local) Current() (Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session, l.active
}

// Token is empty; the local identity never talks to an upstream.
func (l *Local) Token() string { return "" }

// Client signs in against the upstream /auth/login endpoint and persists the
// session to a file so restarts stay signed in.
type Client struct {
	base string
	http *http.Client
	fs   afero.Fs
	path string
	now  func() time.Time

	mu      sync.RWMutex
	session *Session
}

type ClientOptions struct {
	HTTP *http.Client
	// Fs and SessionPath select where the session is persisted. An empty
	// path disables persistence.
	Fs          afero.Fs
	SessionPath string
	Now         func() time.Time
}

func NewClient(base string, opts ClientOptions) *Client {
	c := &Client{
		base: strings.TrimRight(base, "/"),
		http: opts.HTTP,
		fs:   opts.Fs,
		path: opts.SessionPath,
		now:  opts.Now,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	if c.fs == nil {
		c.fs = afero.NewOsFs()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.restore()
	return c
}

type loginRequest struct {
	MemberID string `json:"memberId"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
	MemberID    string `json:"memberId"`
	Name        string `json:"name"`
	Message     string `json:"message"`
}

func (c *Client) Login(ctx context.Context, memberID, password string) (Session, error) {
	body, err := json.Marshal(loginRequest{MemberID: memberID, Password: password})
	if err != nil {
		return Session{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("auth: login: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("auth: login: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest:
		_, _ = io.Copy(io.Discard, resp.Body)
		return Session{}, ErrInvalidCredentials
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Session{}, fmt.Errorf("auth: login: unexpected status %d", resp.StatusCode)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return Session{}, fmt.Errorf("auth: login: decode: %w", err)
	}
	if lr.AccessToken == "" {
		return Session{}, errors.New("auth: login: empty access token")
	}

	s := Session{
		MemberID:  lr.MemberID,
		Name:      lr.Name,
		Token:     lr.AccessToken,
		ExpiresAt: c.expiry(lr),
	}
	c.mu.Lock()
	c.session = &s
	c.mu.Unlock()
	c.persist(s)

	appLog.Info("auth: signed in", "member", s.MemberID, "expires", s.ExpiresAt)
	return s, nil
}

// expiry prefers the token's exp claim and falls back to expiresIn. The
// signature is not checked here; the upstream verifies it on every call.
func (c *Client) expiry(lr loginResponse) time.Time {
	tok, _, err := jwt.NewParser().ParseUnverified(lr.AccessToken, jwt.MapClaims{})
	if err == nil {
		if exp, err := tok.Claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	if lr.ExpiresIn > 0 {
		return c.now().Add(time.Duration(lr.ExpiresIn) * time.Second)
	}
	return time.Time{}
}

func (c *Client) Logout() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	if c.path != "" {
		if err := c.fs.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			appLog.Error("auth: remove session", err, "path", c.path)
		}
	}
}

// Current returns the session unless it is missing or expired.
func (c *Client) Current() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil || c.session.Expired(c.now()) {
		return Session{}, false
	}
	return *c.session, true
}

// Token returns the bearer token of the current session, or "".
func (c *Client) Token() string {
	s, ok := c.Current()
	if !ok {
		return ""
	}
	return s.Token
}

func (c *Client) persist(s Session) {
	if c.path == "" {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		appLog.Error("auth: persist session", err, "path", c.path)
		return
	}
	if err := afero.WriteFile(c.fs, c.path, data, 0o600); err != nil {
		appLog.Error("auth: persist session", err, "path", c.path)
	}
}

func (c *Client) restore() {
	if c.path == "" {
		return
	}
	data, err := afero.ReadFile(c.fs, c.path)
	if err != nil {
		return
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil || s.Token == "" {
		return
	}
	if s.Expired(c.now()) {
		appLog.Info("auth: stored session expired", "member", s.MemberID)
		return
	}
	c.session = &s
}
