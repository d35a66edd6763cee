// Package realtime owns the single websocket connection of a session and the
// fire-and-forget emitter that writes to it.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eternisai/marketplace-sync/internal/auth"
	apierrors "github.com/eternisai/marketplace-sync/internal/errors"
	"github.com/eternisai/marketplace-sync/internal/events"
	"github.com/eternisai/marketplace-sync/internal/logger"
	"github.com/eternisai/marketplace-sync/internal/metrics"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

var allStates = []string{
	string(StateDisconnected), string(StateConnecting),
	string(StateConnected), string(StateReconnecting),
}

const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = time.Second
	DefaultConnectTimeout    = 20 * time.Second
	DefaultPingInterval      = 25 * time.Second

	writeTimeout = 10 * time.Second
	maxFrameSize = 1 << 20
)

var errNotConnected = errors.New("not connected")

// FrameHandler receives every inbound message, in arrival order, on the
// connection's read goroutine.
type FrameHandler interface {
	HandleFrame(ctx context.Context, raw []byte)
}

// StateListener observes state transitions.
type StateListener func(from, to State, epoch uint64)

// AuthFailureFunc is called on its own goroutine when the server rejects the
// session's credential during the handshake.
type AuthFailureFunc func(s *auth.Session, err error)

// Options configures a Manager. Zero values take the defaults above.
type Options struct {
	URL string

	// ReconnectAttempts counts reconnections after the first dial fails, so a
	// manager that never connects makes 1+ReconnectAttempts handshakes before
	// settling in StateDisconnected. A negative value disables reconnection.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ConnectTimeout    time.Duration
	PingInterval      time.Duration
	Handler           FrameHandler
	OnAuthFailure     AuthFailureFunc
	Metrics           *metrics.Metrics
	Logger            *logger.Logger
}

// Manager owns at most one live connection, bound to one session.
//
// Connect and Disconnect are serialized. The connection itself is driven by a
// single goroutine per Connect call that dials, reads frames in order, and
// retries with a fixed delay until the attempts run out.
type Manager struct {
	url           *url.URL
	attempts      int
	delay         time.Duration
	pingInterval  time.Duration
	dialer        *websocket.Dialer
	handler       FrameHandler
	onAuthFailure AuthFailureFunc
	metrics       *metrics.Metrics
	logger        *logger.Logger

	lifecycle sync.Mutex // serializes Connect and Disconnect
	writeMu   sync.Mutex // one writer at a time on the socket

	mu        sync.Mutex
	state     State
	session   *auth.Session
	epoch     uint64
	conn      *websocket.Conn
	cancel    context.CancelFunc
	done      chan struct{}
	listeners []StateListener
}

// NewManager validates opts and returns a disconnected manager.
func NewManager(opts Options) (*Manager, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid realtime url %q: scheme must be ws or wss", opts.URL)
	}

	if opts.ReconnectAttempts == 0 {
		opts.ReconnectAttempts = DefaultReconnectAttempts
	}
	if opts.ReconnectAttempts < 0 {
		opts.ReconnectAttempts = 0
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	m := &Manager{
		url:          u,
		attempts:     opts.ReconnectAttempts,
		delay:        opts.ReconnectDelay,
		pingInterval: opts.PingInterval,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.ConnectTimeout,
		},
		handler:       opts.Handler,
		onAuthFailure: opts.OnAuthFailure,
		metrics:       opts.Metrics,
		logger:        opts.Logger.WithComponent("realtime"),
		state:         StateDisconnected,
	}
	m.metrics.SetConnectionState(string(StateDisconnected), allStates)
	return m, nil
}

// OnStateChange registers a listener for state transitions.
func (m *Manager) OnStateChange(l StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the connection is up.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Epoch returns the number of connections established so far.
func (m *Manager) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// Session returns the session the manager is bound to, or nil.
func (m *Manager) Session() *auth.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Connect starts connecting for s and returns immediately. It is a no-op when
// already connecting or connected for the same session, and tears down any
// connection of a different session first. A nil session is ignored.
func (m *Manager) Connect(s *auth.Session) {
	if s == nil {
		return
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	active := m.cancel != nil && m.state != StateDisconnected
	same := m.session.Same(s)
	m.mu.Unlock()

	if active && same {
		return
	}
	m.teardown()

	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithUserID(ctx, s.UserID)
	done := make(chan struct{})

	m.mu.Lock()
	m.session = s
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	m.setState(StateConnecting)
	go m.run(ctx, s, done)
}

// Disconnect closes the connection, cancels pending reconnects and waits for the
// connection goroutine to exit. Safe to call at any time.
func (m *Manager) Disconnect() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.teardown()
}

// teardown must be called with m.lifecycle held.
func (m *Manager) teardown() {
	m.mu.Lock()
	cancel, done, conn := m.cancel, m.done, m.conn
	m.cancel, m.done, m.session = nil, nil, nil
	m.mu.Unlock()

	if cancel == nil {
		m.setState(StateDisconnected)
		return
	}

	if conn != nil {
		m.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		if err := conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"), deadline); err != nil {
			m.logger.Debug("failed to send close frame", slog.String("error", err.Error()))
		}
		m.writeMu.Unlock()
	}

	cancel()
	<-done
	m.setState(StateDisconnected)
	m.logger.Info("realtime connection closed")
}

func (m *Manager) run(ctx context.Context, s *auth.Session, done chan struct{}) {
	defer close(done)
	log := m.logger.WithContext(ctx)

	retries := 0
	reconnecting := false
	for {
		if reconnecting {
			if retries >= m.attempts {
				log.Warn("reconnection attempts exhausted, giving up",
					slog.Int("attempts", retries))
				m.setStateIf(ctx, StateDisconnected)
				return
			}
			retries++
			m.setStateIf(ctx, StateReconnecting)
			if !sleep(ctx, m.delay) {
				return
			}
		}

		conn, err := m.dial(ctx, s)
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil {
			if apierrors.IsUnauthorized(err) {
				m.metrics.ConnectAttempt("unauthorized")
				log.Warn("realtime handshake rejected", slog.String("error", err.Error()))
				m.setStateIf(ctx, StateDisconnected)
				if m.onAuthFailure != nil {
					go m.onAuthFailure(s, err)
				}
				return
			}
			m.metrics.ConnectAttempt("error")
			log.Warn("realtime connect failed",
				slog.String("error", err.Error()),
				slog.Int("retry", retries))
			reconnecting = true
			continue
		}

		m.metrics.ConnectAttempt("ok")
		epoch, ok := m.establish(ctx, conn, s)
		if !ok {
			conn.Close()
			return
		}
		retries = 0

		err = m.serve(ctx, conn, epoch)
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		log.Warn("realtime connection lost",
			slog.Uint64("epoch", epoch),
			slog.String("error", err.Error()))
		reconnecting = true
	}
}

func (m *Manager) dial(ctx context.Context, s *auth.Session) (*websocket.Conn, error) {
	u := *m.url
	q := u.Query()
	q.Set("token", s.Token)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.Token)

	dialCtx, cancel := context.WithTimeout(ctx, m.dialer.HandshakeTimeout)
	defer cancel()

	conn, resp, err := m.dialer.DialContext(dialCtx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake rejected with HTTP %d", apierrors.ErrUnauthorized, resp.StatusCode)
		}
		if resp != nil {
			return nil, fmt.Errorf("%w: handshake failed with HTTP %d", apierrors.ErrConnection, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %v", apierrors.ErrConnection, err)
	}
	return conn, nil
}

// establish publishes conn, starts a new epoch and sends join-user-room before
// any other writer can use the socket.
func (m *Manager) establish(ctx context.Context, conn *websocket.Conn, s *auth.Session) (uint64, bool) {
	join, err := events.Encode(events.JoinUserRoom{UserID: s.UserID})
	if err != nil {
		return 0, false
	}

	m.writeMu.Lock()
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		m.writeMu.Unlock()
		return 0, false
	}
	m.conn = conn
	m.epoch++
	epoch := m.epoch
	from := m.state
	m.state = StateConnected
	listeners := append([]StateListener(nil), m.listeners...)
	m.mu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		m.logger.Warn("failed to join user room", slog.String("error", err.Error()))
	}
	m.writeMu.Unlock()

	m.metrics.SetConnectionState(string(StateConnected), allStates)
	m.logger.WithContext(ctx).Info("realtime connected", slog.Uint64("epoch", epoch))
	for _, l := range listeners {
		l(from, StateConnected, epoch)
	}
	return epoch, true
}

// serve reads frames until the connection fails or ctx is cancelled.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn, epoch uint64) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	epochCtx, cancel := context.WithCancel(logger.WithEpoch(ctx, epoch))
	defer cancel()
	go m.keepalive(epochCtx, conn)

	conn.SetReadLimit(maxFrameSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if m.handler != nil {
			m.handler.HandleFrame(epochCtx, data)
		}
	}
}

func (m *Manager) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				m.logger.Debug("failed to send ping", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// send writes one text frame on the current connection.
func (m *Manager) send(data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()
	if conn == nil || state != StateConnected {
		return errNotConnected
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// setStateIf changes the state unless ctx was cancelled, so a connection
// goroutine that lost the race with Disconnect cannot overwrite its result.
func (m *Manager) setStateIf(ctx context.Context, to State) {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.setState(to)
}

func (m *Manager) setState(to State) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	epoch := m.epoch
	listeners := append([]StateListener(nil), m.listeners...)
	m.mu.Unlock()

	m.metrics.SetConnectionState(string(to), allStates)
	m.logger.Debug("connection state changed",
		slog.String("from", string(from)),
		slog.String("to", string(to)))
	for _, l := range listeners {
		l(from, to, epoch)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
