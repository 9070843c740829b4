package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-authguard"
)

// SessionStorage persists the current session between process runs.
type SessionStorage interface {
	Load(ctx context.Context) (*authguard.Session, error)
	Save(ctx context.Context, session *authguard.Session) error
	Clear(ctx context.Context) error
}

type userResponse struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	CreatedAt    *time.Time     `json:"created_at,omitempty"`
}

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`
}

// signUpResponse is a token response when the project auto confirms users
// and a bare user otherwise.
type signUpResponse struct {
	tokenResponse
	userResponse
}

func (u *userResponse) toUser() *authguard.User {
	if u == nil || u.ID == "" {
		return nil
	}
	return &authguard.User{
		ID:        u.ID,
		Email:     u.Email,
		Metadata:  authguard.ProfileMetadataFromMap(u.UserMetadata),
		CreatedAt: u.CreatedAt,
	}
}

func (t tokenResponse) toSession(now time.Time) *authguard.Session {
	if t.AccessToken == "" {
		return nil
	}

	session := &authguard.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
	}

	switch {
	case t.ExpiresAt > 0:
		session.ExpiresAt = time.Unix(t.ExpiresAt, 0).UTC()
	case t.ExpiresIn > 0:
		session.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
	}

	if user := t.User.toUser(); user != nil {
		session.User = *user
	}

	return session
}

// Client talks to the GoTrue REST API and implements authguard.IdentityProvider.
type Client struct {
	config Config
	logger authguard.Logger

	mu      sync.Mutex
	session *authguard.Session
	loaded  bool
	timer   *time.Timer
	closed  bool

	handlersMu sync.Mutex
	handlers   map[uint64]authguard.SessionChangeHandler
	nextID     uint64

	// emitMu keeps events in emission order across goroutines
	emitMu sync.Mutex
}

var _ authguard.IdentityProvider = (*Client)(nil)

// NewClient validates cfg and creates a client.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("gotrue: invalid config: %w", err)
	}

	cfg = cfg.withDefaults()

	return &Client{
		config:   cfg,
		logger:   cfg.Logger,
		handlers: make(map[uint64]authguard.SessionChangeHandler),
	}, nil
}

// Close stops the refresh timer. Handlers stay registered.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Session returns a copy of the session currently held in memory.
func (c *Client) Session() *authguard.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	out := *c.session
	return &out
}

// OnSessionChange implements authguard.IdentityProvider.
func (c *Client) OnSessionChange(handler authguard.SessionChangeHandler) authguard.UnsubscribeFunc {
	if handler == nil {
		return func() {}
	}

	c.handlersMu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = handler
	c.handlersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.handlersMu.Lock()
			delete(c.handlers, id)
			c.handlersMu.Unlock()
		})
	}
}

// GetCurrentSession implements authguard.IdentityProvider. It restores the
// persisted session on first use and refreshes it when it already expired.
func (c *Client) GetCurrentSession(ctx context.Context) (*authguard.Session, error) {
	c.restore(ctx)

	session := c.Session()
	if session == nil {
		return nil, nil
	}

	if !session.Expired(c.config.Clock().Add(c.config.RefreshMargin)) {
		c.scheduleRefresh(session)
		return session, nil
	}

	if session.RefreshToken == "" {
		c.dropSession(ctx)
		return nil, nil
	}

	refreshed, err := c.RefreshSession(ctx)
	if err != nil {
		if authguard.IsTransientError(err) && !session.Expired(c.config.Clock()) {
			return session, nil
		}
		return nil, err
	}
	return refreshed, nil
}

func (c *Client) restore(ctx context.Context) {
	c.mu.Lock()
	if c.loaded || c.config.Storage == nil {
		c.loaded = true
		c.mu.Unlock()
		return
	}
	c.loaded = true
	c.mu.Unlock()

	session, err := c.config.Storage.Load(ctx)
	if err != nil {
		c.logger.Warn("gotrue: failed to load persisted session: %v", err)
		return
	}
	if session == nil {
		return
	}

	c.mu.Lock()
	if c.session == nil {
		c.session = session
	}
	c.mu.Unlock()
}

// SignInWithPassword implements authguard.IdentityProvider.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*authguard.Session, error) {
	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"password"}}, "", map[string]any{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}

	session := resp.toSession(c.config.Clock())
	if session == nil {
		return nil, authguard.NewAuthError(authguard.ErrUnexpected, "", fmt.Errorf("gotrue: token response without access token"))
	}

	c.setSession(ctx, session)
	c.emit(authguard.EventSignedIn, session)
	return session, nil
}

// SignUp implements authguard.IdentityProvider. The result carries no
// session when the project requires email confirmation.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata authguard.ProfileMetadata) (*authguard.SignUpResult, error) {
	var resp signUpResponse
	err := c.do(ctx, http.MethodPost, "/signup", nil, "", map[string]any{
		"email":    email,
		"password": password,
		"data":     metadata.ToMap(),
	}, &resp)
	if err != nil {
		return nil, err
	}

	result := &authguard.SignUpResult{}

	if session := resp.tokenResponse.toSession(c.config.Clock()); session != nil {
		result.Session = session
		user := session.User
		result.User = &user
		c.setSession(ctx, session)
		c.emit(authguard.EventSignedIn, session)
		return result, nil
	}

	result.User = resp.userResponse.toUser()
	return result, nil
}

// SignOut implements authguard.IdentityProvider. The local session is always
// dropped; the returned error only reports the remote call.
func (c *Client) SignOut(ctx context.Context) error {
	session := c.Session()

	var remoteErr error
	if session != nil && session.AccessToken != "" {
		remoteErr = c.do(ctx, http.MethodPost, "/logout", nil, session.AccessToken, nil, nil)
	}

	c.dropSession(ctx)
	return remoteErr
}

// SendPasswordResetEmail implements authguard.IdentityProvider.
func (c *Client) SendPasswordResetEmail(ctx context.Context, email, redirectTo string) error {
	var query url.Values
	if redirectTo != "" {
		query = url.Values{"redirect_to": {redirectTo}}
	}
	return c.do(ctx, http.MethodPost, "/recover", query, "", map[string]any{"email": email}, nil)
}

// UpdateCurrentUserPassword implements authguard.IdentityProvider.
func (c *Client) UpdateCurrentUserPassword(ctx context.Context, newPassword string) (*authguard.User, error) {
	session := c.Session()
	if session == nil {
		return nil, authguard.ErrNotAuthenticated.Clone()
	}

	var resp userResponse
	err := c.do(ctx, http.MethodPut, "/user", nil, session.AccessToken, map[string]any{
		"password": newPassword,
	}, &resp)
	if err != nil {
		return nil, err
	}

	user := resp.toUser()
	if user == nil {
		return nil, authguard.NewAuthError(authguard.ErrUnexpected, "", fmt.Errorf("gotrue: user response without id"))
	}

	var updated *authguard.Session
	c.mu.Lock()
	if c.session != nil {
		c.session.User = *user
		cp := *c.session
		updated = &cp
	}
	c.mu.Unlock()

	if updated != nil {
		c.persist(ctx, updated)
		c.emit(authguard.EventUserUpdated, updated)
	}

	return user, nil
}

// SetSession installs a session obtained elsewhere, such as a verified
// cookie, without emitting an event. A nil session drops the current one.
func (c *Client) SetSession(ctx context.Context, session *authguard.Session) {
	if session == nil {
		c.dropSession(ctx)
		return
	}
	c.setSession(ctx, session)
}

// RefreshSession exchanges the refresh token for a new session. An auth
// failure drops the session and emits SIGNED_OUT.
func (c *Client) RefreshSession(ctx context.Context) (*authguard.Session, error) {
	current := c.Session()
	if current == nil || current.RefreshToken == "" {
		return nil, authguard.ErrNotAuthenticated.Clone()
	}

	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"refresh_token"}}, "", map[string]any{
		"refresh_token": current.RefreshToken,
	}, &resp)
	if err != nil {
		if authguard.IsAuthError(err) {
			c.logger.Info("gotrue: refresh rejected, signing out: %v", err)
			c.dropSession(ctx)
		}
		return nil, err
	}

	session := resp.toSession(c.config.Clock())
	if session == nil {
		return nil, authguard.NewAuthError(authguard.ErrUnexpected, "", fmt.Errorf("gotrue: refresh response without access token"))
	}
	if session.User.ID == "" {
		session.User = current.User
	}

	c.setSession(ctx, session)
	c.emit(authguard.EventTokenRefreshed, session)
	return session, nil
}

func (c *Client) setSession(ctx context.Context, session *authguard.Session) {
	c.mu.Lock()
	stored := *session
	c.session = &stored
	c.loaded = true
	c.mu.Unlock()

	c.persist(ctx, session)
	c.scheduleRefresh(session)
}

func (c *Client) dropSession(ctx context.Context) {
	c.mu.Lock()
	had := c.session != nil
	c.session = nil
	c.loaded = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	if c.config.Storage != nil {
		if err := c.config.Storage.Clear(ctx); err != nil {
			c.logger.Warn("gotrue: failed to clear persisted session: %v", err)
		}
	}

	if had {
		c.emit(authguard.EventSignedOut, nil)
	}
}

func (c *Client) persist(ctx context.Context, session *authguard.Session) {
	if c.config.Storage == nil || session == nil {
		return
	}
	if err := c.config.Storage.Save(ctx, session); err != nil {
		c.logger.Warn("gotrue: failed to persist session: %v", err)
	}
}

func (c *Client) scheduleRefresh(session *authguard.Session) {
	if !c.config.AutoRefresh || session == nil || session.RefreshToken == "" || session.ExpiresAt.IsZero() {
		return
	}

	delay := session.ExpiresAt.Sub(c.config.Clock()) - c.config.RefreshMargin
	if delay < 0 {
		delay = 0
	}
	c.armTimer(delay)
}

func (c *Client) armTimer(delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, c.autoRefresh)
}

func (c *Client) autoRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	_, err := c.RefreshSession(ctx)
	if err == nil {
		return
	}

	if authguard.IsTransientError(err) {
		c.logger.Warn("gotrue: background refresh failed, retrying in %s: %v", c.config.RetryDelay, err)
		c.armTimer(c.config.RetryDelay)
		return
	}

	c.logger.Info("gotrue: background refresh stopped: %v", err)
}

func (c *Client) emit(kind authguard.SessionEventKind, session *authguard.Session) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.handlersMu.Lock()
	ids := make([]uint64, 0, len(c.handlers))
	for id := range c.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]authguard.SessionChangeHandler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, c.handlers[id])
	}
	c.handlersMu.Unlock()

	for _, handler := range handlers {
		var payload *authguard.Session
		if session != nil {
			cp := *session
			payload = &cp
		}
		handler(kind, payload)
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, bearer string, body any, out any) error {
	endpoint := c.config.endpoint(path)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return authguard.NewAuthError(authguard.ErrUnexpected, "", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return authguard.NewAuthError(authguard.ErrUnexpected, "", err)
	}

	req.Header.Set("apikey", c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	c.logger.Debug("gotrue: %s %s", method, path)

	res, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return transportError(path, err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return transportError(path, err)
	}

	if res.StatusCode >= http.StatusBadRequest {
		return mapError(res.StatusCode, payload)
	}

	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return authguard.NewAuthError(authguard.ErrUnexpected, "", fmt.Errorf("gotrue: decode %s: %w", path, err))
	}
	return nil
}
