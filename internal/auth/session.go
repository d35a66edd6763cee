package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	apierrors "github.com/eternisai/marketplace-sync/internal/errors"
	"github.com/eternisai/marketplace-sync/internal/logger"
)

// EndReason explains why a session ended.
type EndReason string

const (
	EndReasonLogout       EndReason = "logout"
	EndReasonUnauthorized EndReason = "unauthorized"
	EndReasonReplaced     EndReason = "replaced"
)

// Verifier confirms a token with the server (the connect-time auth check).
type Verifier interface {
	VerifyToken(ctx context.Context, token string) error
}

// StartHook runs after a session becomes current.
type StartHook func(ctx context.Context, s *Session)

// EndHook runs synchronously when a session ends, before Logout returns.
type EndHook func(s *Session, reason EndReason)

// SessionManager owns the current Session and notifies hooks on transitions.
//
// Transitions are serialized: a Login that replaces a session runs every end hook
// for the old session before any start hook for the new one.
type SessionManager struct {
	validator TokenValidator
	verifier  Verifier
	logger    *logger.Logger

	transition sync.Mutex // serializes Login/Logout/Invalidate

	mu         sync.RWMutex
	current    *Session
	startHooks []StartHook
	endHooks   []EndHook
}

// NewSessionManager creates a session manager. verifier may be nil.
func NewSessionManager(validator TokenValidator, verifier Verifier, log *logger.Logger) *SessionManager {
	return &SessionManager{
		validator: validator,
		verifier:  verifier,
		logger:    log.WithComponent("session"),
	}
}

// OnSessionStart registers a hook run after every successful login.
func (m *SessionManager) OnSessionStart(hook StartHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startHooks = append(m.startHooks, hook)
}

// OnSessionEnd registers a hook run when a session ends. Hooks run in registration order.
func (m *SessionManager) OnSessionEnd(hook EndHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endHooks = append(m.endHooks, hook)
}

// Current returns the current session or nil.
func (m *SessionManager) Current() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Login validates token, confirms it with the server and makes it the current session.
// Logging in again with the same token is a no-op.
func (m *SessionManager) Login(ctx context.Context, token string) (*Session, error) {
	m.transition.Lock()
	defer m.transition.Unlock()

	session, err := m.validator.Validate(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierrors.ErrUnauthorized, err)
	}

	if m.verifier != nil {
		if err := m.verifier.VerifyToken(ctx, token); err != nil {
			if apierrors.IsUnauthorized(err) {
				return nil, fmt.Errorf("token rejected by server: %w", err)
			}
			return nil, fmt.Errorf("failed to verify token: %w", err)
		}
	}

	if prev := m.Current(); prev != nil {
		if prev.Same(session) {
			return prev, nil
		}
		m.end(prev, EndReasonReplaced)
	}

	m.mu.Lock()
	m.current = session
	hooks := append([]StartHook(nil), m.startHooks...)
	m.mu.Unlock()

	ctx = logger.WithUserID(ctx, session.UserID)
	m.logger.WithContext(ctx).Info("session started", slog.String("role", string(session.Role)))

	for _, hook := range hooks {
		hook(ctx, session)
	}

	return session, nil
}

// Logout ends the current session. Safe to call without a session.
func (m *SessionManager) Logout() {
	m.transition.Lock()
	defer m.transition.Unlock()

	if prev := m.Current(); prev != nil {
		m.end(prev, EndReasonLogout)
	}
}

// Invalidate ends the session holding token after the server rejected it.
// A stale rejection for an older token leaves the current session alone.
func (m *SessionManager) Invalidate(token string, cause error) {
	m.transition.Lock()
	defer m.transition.Unlock()

	prev := m.Current()
	if prev == nil || prev.Token != token {
		return
	}

	m.logger.Warn("session invalidated",
		slog.String("user_id", prev.UserID),
		slog.String("error", fmt.Sprint(cause)))
	m.end(prev, EndReasonUnauthorized)
}

func (m *SessionManager) end(s *Session, reason EndReason) {
	m.mu.Lock()
	m.current = nil
	hooks := append([]EndHook(nil), m.endHooks...)
	m.mu.Unlock()

	for _, hook := range hooks {
		hook(s, reason)
	}

	m.logger.Info("session ended",
		slog.String("user_id", s.UserID),
		slog.String("reason", string(reason)))
}
