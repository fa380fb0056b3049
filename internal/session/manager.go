package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"Mansoor88-6/driver-agent/internal/models"
	"Mansoor88-6/driver-agent/internal/storage"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Logout reasons
const (
	ReasonUser         = "user"
	ReasonIdle         = "idle"
	ReasonUnauthorized = "unauthorized"
	ReasonExpiredToken = "token_expired"
)

var ErrLoginFailed = errors.New("login failed")

const (
	revokeTimeout = 5 * time.Second
	loginTimeout  = 30 * time.Second
)

// AuthBackend is the part of the backend client the session needs
type AuthBackend interface {
	Login(ctx context.Context, username, password string) (*models.LoginResponse, error)
	RevokeToken(ctx context.Context, token string) error
}

// Manager owns the bearer token. It is the only writer; everything else reads
// through Token on every request.
type Manager struct {
	backend AuthBackend
	store   storage.Store
	timer   *IdleTimer
	persist bool
	clock   clockwork.Clock
	logger  *zap.Logger

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	login singleflight.Group

	listenersMu sync.Mutex
	onLogin     []func()
	onLogout    []func(reason string)
}

func NewManager(backend AuthBackend, store storage.Store, timer *IdleTimer, persistToken bool, clock clockwork.Clock, logger *zap.Logger) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	m := &Manager{
		backend: backend,
		store:   store,
		timer:   timer,
		persist: persistToken,
		clock:   clock,
		logger:  logger,
	}
	timer.OnExpire(func() {
		m.Logout(context.Background(), ReasonIdle)
	})
	return m
}

// Init restores a persisted token when persistence is on, and purges any
// leftover token when it is off.
func (m *Manager) Init(ctx context.Context) error {
	if !m.persist {
		if err := m.store.Remove(ctx, storage.KeyToken); err != nil {
			return fmt.Errorf("failed to purge stored token: %w", err)
		}
		return nil
	}

	token, ok, err := m.store.Get(ctx, storage.KeyToken)
	if err != nil {
		return fmt.Errorf("failed to read stored token: %w", err)
	}
	if !ok || token == "" {
		return nil
	}

	exp := tokenExpiry(token)
	if !exp.IsZero() && !m.clock.Now().Before(exp) {
		m.logger.Info("Stored token expired, discarding", zap.Time("expired_at", exp))
		return m.store.Remove(ctx, storage.KeyToken)
	}

	m.setToken(token, exp)
	m.timer.Start()
	m.logger.Info("Session restored from stored token")
	m.emitLogin()
	return nil
}

// Login authenticates once even if called concurrently; all callers share the result.
// The shared request does not inherit the first caller's cancellation.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	_, err, _ := m.login.Do("login", func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loginTimeout)
		defer cancel()

		res, err := m.backend.Login(ctx, username, password)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
		}

		exp := tokenExpiry(res.Token)
		m.setToken(res.Token, exp)
		if m.persist {
			if err := m.store.Set(ctx, storage.KeyToken, res.Token); err != nil {
				m.logger.Warn("Failed to persist token", zap.Error(err))
			}
		}
		m.timer.Start()

		m.logger.Info("Driver logged in", zap.String("username", username))
		m.emitLogin()
		return nil, nil
	})
	return err
}

// Logout ends the session: timers stop, the token is revoked best effort, and
// the local token is always cleared.
func (m *Manager) Logout(ctx context.Context, reason string) {
	m.timer.Stop()

	token := m.clearToken()
	if token == "" {
		return
	}

	revokeCtx, cancel := context.WithTimeout(ctx, revokeTimeout)
	defer cancel()
	if err := m.backend.RevokeToken(revokeCtx, token); err != nil {
		m.logger.Warn("Token revoke failed, continuing logout", zap.Error(err))
	}

	m.finishLogout(ctx, reason)
}

// HandleUnauthorized drops a token the backend rejected. Nothing is revoked.
func (m *Manager) HandleUnauthorized() {
	m.timer.Stop()
	if m.clearToken() == "" {
		return
	}
	m.finishLogout(context.Background(), ReasonUnauthorized)
}

func (m *Manager) finishLogout(ctx context.Context, reason string) {
	if err := m.store.Remove(ctx, storage.KeyToken); err != nil {
		m.logger.Warn("Failed to remove stored token", zap.Error(err))
	}
	m.logger.Info("Driver logged out", zap.String("reason", reason))
	m.emitLogout(reason)
}

// Token returns the current bearer token, or "" when logged out or the token expired
func (m *Manager) Token() string {
	m.mu.RLock()
	token, exp := m.token, m.expiresAt
	m.mu.RUnlock()

	if token != "" && !exp.IsZero() && !m.clock.Now().Before(exp) {
		return ""
	}
	return token
}

func (m *Manager) Authenticated() bool {
	return m.Token() != ""
}

// ExpiresAt is the token's exp claim, zero when unknown
func (m *Manager) ExpiresAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expiresAt
}

// TouchActivity forwards driver activity to the idle timer
func (m *Manager) TouchActivity() {
	m.timer.TouchActivity()
}

func (m *Manager) DismissWarning() {
	m.timer.DismissWarning()
}

func (m *Manager) Timer() *IdleTimer {
	return m.timer
}

func (m *Manager) OnLogin(fn func()) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.onLogin = append(m.onLogin, fn)
}

func (m *Manager) OnLogout(fn func(reason string)) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.onLogout = append(m.onLogout, fn)
}

func (m *Manager) emitLogin() {
	m.listenersMu.Lock()
	fns := append([]func(){}, m.onLogin...)
	m.listenersMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (m *Manager) emitLogout(reason string) {
	m.listenersMu.Lock()
	fns := append([]func(string){}, m.onLogout...)
	m.listenersMu.Unlock()
	for _, fn := range fns {
		fn(reason)
	}
}

func (m *Manager) setToken(token string, exp time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.expiresAt = exp
}

func (m *Manager) clearToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := m.token
	m.token = ""
	m.expiresAt = time.Time{}
	return token
}

// tokenExpiry reads the exp claim without verifying the signature; the backend
// is the one that verifies. Opaque tokens have no known expiry.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
