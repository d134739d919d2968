package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/huddle-client/internal/events"
	"github.com/rickgao/huddle-client/internal/metrics"
	"github.com/rickgao/huddle-client/internal/ratelimit"
	"github.com/rickgao/huddle-client/internal/store"
)

// Store keys.
const (
	KeyAccessToken  = "auth_access_token"
	KeyRefreshToken = "auth_refresh_token"
	KeyTokenExpiry  = "auth_token_expiry" // unix ms
	KeyUser         = "auth_user"         // JSON User
	KeySession      = "auth_session"      // Last activity, unix ms
)

var credentialKeys = []string{KeyAccessToken, KeyRefreshToken, KeyTokenExpiry, KeyUser, KeySession}

const (
	// DefaultSessionTimeout is the idle period after which a session ends.
	DefaultSessionTimeout = 30 * time.Minute

	storeTimeout   = 5 * time.Second
	refreshTimeout = 30 * time.Second
	minRearm       = time.Second
)

// SessionEventType identifies a session lifecycle event.
type SessionEventType string

const (
	SessionExpired   SessionEventType = "session_expired"
	SessionRecovered SessionEventType = "session_recovered"
)

// SessionEvent is delivered to OnSessionEvent subscribers.
type SessionEvent struct {
	Type SessionEventType
	At   time.Time
}

// Manager owns the credential lifecycle: login, refresh, logout and the
// inactivity timeout.
type Manager struct {
	endpoint Endpoint
	store    store.Store
	timeout  time.Duration
	clock    ratelimit.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics

	events  *events.Registry[SessionEvent]
	refresh singleflight.Group
	unwatch func()

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source used for expiry and activity checks.
func WithClock(c ratelimit.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records refreshes and session events.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates a Manager over kv. A stored session is resumed: its
// inactivity timer is armed for the remaining idle allowance.
func NewManager(endpoint Endpoint, kv store.Store, timeout time.Duration, opts ...Option) *Manager {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}

	m := &Manager{
		endpoint: endpoint,
		store:    kv,
		timeout:  timeout,
		clock:    ratelimit.SystemClock{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "auth")
	m.events = events.NewRegistry[SessionEvent]("session_events", m.logger)
	m.unwatch = kv.Watch(m.handleChange)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if m.isAuthenticated(ctx) {
		m.armTimer(m.remaining(ctx))
	}

	return m
}

// Login authenticates and stores the resulting credentials.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	tokens, err := m.endpoint.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return m.startSession(ctx, tokens)
}

// Register creates an account and stores its credentials.
func (m *Manager) Register(ctx context.Context, email, password, name string) error {
	tokens, err := m.endpoint.Register(ctx, email, password, name)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return m.startSession(ctx, tokens)
}

// Logout revokes the refresh token and erases all credential state. The
// revoke call is best effort; only store failures are returned.
func (m *Manager) Logout(ctx context.Context) error {
	refreshToken, ok, err := m.store.Get(ctx, KeyRefreshToken)
	if err != nil {
		m.logger.Warn("failed to read refresh token for logout", "error", err)
	}
	if ok {
		if err := m.endpoint.Logout(ctx, refreshToken); err != nil {
			m.logger.Warn("logout request failed", "error", err)
		}
	}
	return m.clearSession(ctx)
}

// IsAuthenticated reports whether a refresh token is stored.
func (m *Manager) IsAuthenticated() bool {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return m.isAuthenticated(ctx)
}

// AccessToken returns a usable access token, refreshing it when expired.
// Concurrent callers share a single refresh. It returns ErrNotAuthenticated
// when no credentials exist and an error wrapping ErrReauthenticate when a
// refresh failed and credentials were erased.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	token, valid, err := m.storedToken(ctx)
	if err != nil {
		return "", err
	}

	if token == "" && !m.isAuthenticated(ctx) {
		return "", ErrNotAuthenticated
	}

	m.touch(ctx)

	if valid {
		return token, nil
	}
	return m.refreshAccessToken(ctx)
}

// AuthHeaders returns the Authorization header for API requests. The map is
// empty when no token is available.
func (m *Manager) AuthHeaders(ctx context.Context) (map[string]string, error) {
	token, err := m.AccessToken(ctx)
	if err != nil {
		return map[string]string{}, err
	}
	return map[string]string{
		"Authorization": "Bearer " + token,
	}, nil
}

// User returns the cached user, if any.
func (m *Manager) User(ctx context.Context) (User, bool) {
	raw, ok, err := m.store.Get(ctx, KeyUser)
	if err != nil || !ok {
		return User{}, false
	}

	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		m.logger.Debug("discarding malformed cached user", "error", err)
		return User{}, false
	}
	return u, true
}

// OnSessionEvent subscribes fn to session events.
func (m *Manager) OnSessionEvent(fn func(SessionEvent)) (unsubscribe func()) {
	return m.events.Subscribe(fn)
}

// Close stops the timer and change watch. Stored credentials are kept.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()

	m.unwatch()
	m.events.Close()
}

func (m *Manager) isAuthenticated(ctx context.Context) bool {
	_, ok, err := m.store.Get(ctx, KeyRefreshToken)
	if err != nil {
		m.logger.Warn("failed to read refresh token", "error", err)
		return false
	}
	return ok
}

// storedToken returns the stored access token and whether it is unexpired.
func (m *Manager) storedToken(ctx context.Context) (string, bool, error) {
	token, ok, err := m.store.Get(ctx, KeyAccessToken)
	if err != nil {
		return "", false, fmt.Errorf("read access token: %w", err)
	}
	if !ok {
		return "", false, nil
	}

	raw, ok, err := m.store.Get(ctx, KeyTokenExpiry)
	if err != nil {
		return "", false, fmt.Errorf("read token expiry: %w", err)
	}
	if !ok {
		return token, false, nil
	}

	expiry, err := parseMillis(raw)
	if err != nil {
		return token, false, nil
	}
	return token, m.clock.Now().Before(expiry), nil
}

func (m *Manager) refreshAccessToken(ctx context.Context) (string, error) {
	ch := m.refresh.DoChan("refresh", func() (any, error) {
		// Detached so one caller's cancellation does not fail the others.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.doRefresh(rctx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	// A refresh that finished just before this one started already
	// rotated the tokens.
	if token, valid, err := m.storedToken(ctx); err == nil && valid {
		return token, nil
	}

	refreshToken, ok, err := m.store.Get(ctx, KeyRefreshToken)
	if err != nil {
		return "", fmt.Errorf("read refresh token: %w", err)
	}
	if !ok {
		m.clearSession(ctx)
		return "", ErrReauthenticate
	}

	tokens, err := m.endpoint.Refresh(ctx, refreshToken)
	if err != nil {
		m.metrics.Refresh("failure")
		m.logger.Warn("token refresh failed, clearing session", "error", err)
		if cerr := m.clearSession(ctx); cerr != nil {
			m.logger.Error("failed to clear session", "error", cerr)
		}
		return "", fmt.Errorf("%w: %w", ErrReauthenticate, err)
	}

	if err := m.setTokens(ctx, tokens); err != nil {
		return "", err
	}
	m.metrics.Refresh("success")
	m.logger.Debug("access token refreshed")

	m.touch(ctx)
	return tokens.AccessToken, nil
}

func (m *Manager) startSession(ctx context.Context, tokens *Tokens) error {
	if err := m.setTokens(ctx, tokens); err != nil {
		return err
	}
	m.touch(ctx)
	return nil
}

// setTokens stores a credential pair. The expiry is the earlier of
// expiresIn and the token's exp claim. The refresh token is written last so
// siblings observing its creation see a complete session.
func (m *Manager) setTokens(ctx context.Context, tokens *Tokens) error {
	now := m.clock.Now()
	expiry := now.Add(time.Duration(tokens.ExpiresIn) * time.Second)

	user, exp, err := parseAccessToken(tokens.AccessToken)
	if !exp.IsZero() && exp.Before(expiry) {
		expiry = exp
	}

	if err := m.store.Set(ctx, KeyAccessToken, tokens.AccessToken); err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	if err := m.store.Set(ctx, KeyTokenExpiry, strconv.FormatInt(expiry.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("store token expiry: %w", err)
	}

	if err == nil {
		data, _ := json.Marshal(user)
		if err := m.store.Set(ctx, KeyUser, string(data)); err != nil {
			return fmt.Errorf("store user: %w", err)
		}
	} else if err := m.store.Delete(ctx, KeyUser); err != nil {
		return fmt.Errorf("clear user: %w", err)
	}

	if err := m.store.Set(ctx, KeyRefreshToken, tokens.RefreshToken); err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

func (m *Manager) clearSession(ctx context.Context) error {
	m.stopTimer()
	if err := m.store.Delete(ctx, credentialKeys...); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// touch records activity and rearms the inactivity timer.
func (m *Manager) touch(ctx context.Context) {
	now := m.clock.Now()
	if err := m.store.Set(ctx, KeySession, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		m.logger.Debug("failed to record activity", "error", err)
	}
	m.armTimer(m.timeout)
}

func (m *Manager) lastActivity(ctx context.Context) (time.Time, bool) {
	raw, ok, err := m.store.Get(ctx, KeySession)
	if err != nil || !ok {
		return time.Time{}, false
	}
	t, err := parseMillis(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// remaining returns the idle allowance left before the session expires.
func (m *Manager) remaining(ctx context.Context) time.Duration {
	last, ok := m.lastActivity(ctx)
	if !ok {
		return m.timeout
	}
	return max(0, m.timeout-m.clock.Now().Sub(last))
}

func (m *Manager) armTimer(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(d, m.checkSession)
}

func (m *Manager) stopTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) timerArmed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

// checkSession runs when the inactivity timer fires. Timers can fire late
// or early relative to wall time (suspended hosts, activity recorded by a
// sibling), so the stored activity marker decides.
func (m *Manager) checkSession() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if !m.isAuthenticated(ctx) {
		m.stopTimer()
		return
	}

	last, ok := m.lastActivity(ctx)
	now := m.clock.Now()
	if ok && now.Sub(last) > m.timeout {
		m.logger.Info("session expired", "idle", now.Sub(last).Round(time.Second))
		if err := m.Logout(ctx); err != nil {
			m.logger.Error("failed to clear expired session", "error", err)
		}
		m.emit(SessionExpired)
		return
	}

	next := m.timeout
	if ok {
		next = max(minRearm, m.timeout-now.Sub(last))
	}
	m.armTimer(next)
}

// handleChange reacts to credential changes made by sibling instances.
func (m *Manager) handleChange(c store.Change) {
	if c.Key != KeyAccessToken && c.Key != KeyRefreshToken {
		return
	}

	switch c.Op {
	case store.OpDelete:
		m.logger.Info("credentials removed by another instance", "key", c.Key)
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := m.clearSession(ctx); err != nil {
			m.logger.Warn("failed to clear session", "error", err)
		}

	case store.OpSet:
		if !c.Created {
			return
		}
		m.armTimer(m.timeout)
		if c.Key == KeyRefreshToken {
			m.logger.Info("session started by another instance")
			m.emit(SessionRecovered)
		}
	}
}

func (m *Manager) emit(t SessionEventType) {
	m.metrics.SessionEvent(string(t))
	m.events.Publish(SessionEvent{Type: t, At: m.clock.Now()})
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, errors.New("invalid timestamp " + strconv.Quote(s))
	}
	return time.UnixMilli(ms), nil
}
