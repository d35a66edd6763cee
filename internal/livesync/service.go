// Package livesync wires the realtime sync layer together for one process: the
// session lifecycle drives the connection, pushed frames flow through the router
// into the notification store and the application cache, and the activity feed
// follows both.
package livesync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eternisai/marketplace-sync/internal/activity"
	"github.com/eternisai/marketplace-sync/internal/api"
	"github.com/eternisai/marketplace-sync/internal/applications"
	"github.com/eternisai/marketplace-sync/internal/auth"
	"github.com/eternisai/marketplace-sync/internal/config"
	apierrors "github.com/eternisai/marketplace-sync/internal/errors"
	"github.com/eternisai/marketplace-sync/internal/events"
	"github.com/eternisai/marketplace-sync/internal/logger"
	"github.com/eternisai/marketplace-sync/internal/metrics"
	"github.com/eternisai/marketplace-sync/internal/notifications"
	"github.com/eternisai/marketplace-sync/internal/realtime"
	"github.com/eternisai/marketplace-sync/internal/relay"
)

const (
	toastBuffer  = 32
	promptBuffer = 8
	relayBuffer  = 64
)

// Deps are the collaborators built outside the service.
type Deps struct {
	Validator auth.TokenValidator // required
	API       *api.Client         // built from the config when nil
	Publisher relay.Publisher     // nil disables the NATS relay
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
}

// Service owns every per-session component. All exported methods are safe for
// concurrent use.
type Service struct {
	sessions   *auth.SessionManager
	api        *api.Client
	store      *notifications.Store
	cache      *applications.Cache
	reconciler *applications.Reconciler
	router     *events.Router
	manager    *realtime.Manager
	emitter    *realtime.Emitter
	feed       *activity.Feed
	scheduler  *activity.Scheduler
	relay      *relay.Relay
	metrics    *metrics.Metrics
	logger     *logger.Logger

	toasts  chan events.Toast
	prompts chan applications.RecommendationPrompt

	mu            sync.Mutex
	cancelSession context.CancelFunc
}

type sessionKey struct{}

func withSession(ctx context.Context, s *auth.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func sessionFrom(ctx context.Context) *auth.Session {
	s, _ := ctx.Value(sessionKey{}).(*auth.Session)
	return s
}

// New builds a service from cfg. Nothing connects until Login.
func New(cfg *config.Config, deps Deps) (*Service, error) {
	if deps.Validator == nil {
		return nil, fmt.Errorf("livesync: token validator is required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.API == nil {
		deps.API = api.New(cfg.APIBaseURL, cfg.APITimeout, deps.Logger)
	}

	s := &Service{
		api:     deps.API,
		metrics: deps.Metrics,
		logger:  deps.Logger.WithComponent("livesync"),
		toasts:  make(chan events.Toast, toastBuffer),
		prompts: make(chan applications.RecommendationPrompt, promptBuffer),
	}

	s.sessions = auth.NewSessionManager(deps.Validator, deps.API, deps.Logger)

	s.store = notifications.NewStore(notifications.Options{
		Limit:       cfg.NotificationLimit,
		DedupWindow: cfg.DedupWindow,
		Metrics:     deps.Metrics,
		Logger:      deps.Logger,
	})

	s.cache = applications.NewCache()
	s.reconciler = applications.NewReconciler(s.cache, deps.Metrics, deps.Logger)
	s.reconciler.OnRecommendationPrompt(s.prompt)

	s.router = events.NewRouter(events.RouterConfig{
		Notifier:   s.store,
		Toaster:    s,
		Reconciler: s.reconciler,
		Toasts:     events.DefaultToasts().WithDurations(cfg.ToastDurations),
		Metrics:    deps.Metrics,
		Logger:     deps.Logger,
	})

	manager, err := realtime.NewManager(realtime.Options{
		URL:               cfg.RealtimeURL,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		ConnectTimeout:    cfg.ConnectTimeout,
		Handler:           s.router,
		OnAuthFailure: func(sess *auth.Session, err error) {
			s.sessions.Invalidate(sess.Token, err)
		},
		Metrics: deps.Metrics,
		Logger:  deps.Logger,
	})
	if err != nil {
		return nil, err
	}
	s.manager = manager
	s.emitter = realtime.NewEmitter(manager, deps.Metrics, deps.Logger)

	s.feed = activity.NewFeed(deps.API, activity.Options{
		Limit:         cfg.ActivityLimit,
		Metrics:       deps.Metrics,
		Logger:        deps.Logger,
		OnAuthFailure: s.refreshRejected,
	})
	s.store.OnChange(s.feed.HandleChange)

	s.scheduler, err = activity.NewScheduler(cfg.ActivityRefreshSchedule, s, cfg.APITimeout, deps.Logger)
	if err != nil {
		return nil, err
	}

	s.relay = relay.New(deps.Publisher, cfg.NatsSubjectPrefix, deps.Logger)

	s.sessions.OnSessionStart(s.start)
	s.sessions.OnSessionEnd(s.end)

	return s, nil
}

// Login starts a session for token. A previous session is torn down first.
func (s *Service) Login(ctx context.Context, token string) (*auth.Session, error) {
	return s.sessions.Login(ctx, token)
}

// Logout ends the current session and waits for its teardown.
func (s *Service) Logout() {
	s.sessions.Logout()
}

// Session returns the current session or nil.
func (s *Service) Session() *auth.Session {
	return s.sessions.Current()
}

func (s *Service) Store() *notifications.Store { return s.store }

func (s *Service) Cache() *applications.Cache { return s.cache }

func (s *Service) Feed() *activity.Feed { return s.feed }

func (s *Service) Emitter() *realtime.Emitter { return s.emitter }

// ConnectionState returns the realtime connection state.
func (s *Service) ConnectionState() realtime.State { return s.manager.State() }

// Epoch returns the number of connections established so far.
func (s *Service) Epoch() uint64 { return s.manager.Epoch() }

// OnStateChange registers a connection state listener.
func (s *Service) OnStateChange(l realtime.StateListener) { s.manager.OnStateChange(l) }

// Toasts delivers toast requests. Toasts are dropped when nobody reads.
func (s *Service) Toasts() <-chan events.Toast {
	return s.toasts
}

// RecommendationPrompts delivers a prompt each time an accepted application is filled.
func (s *Service) RecommendationPrompts() <-chan applications.RecommendationPrompt {
	return s.prompts
}

// SeedApplications replaces the cached applications, typically from a REST listing.
func (s *Service) SeedApplications(apps []applications.Application) {
	s.cache.Replace(apps)
}

// Refresh refetches the activity feed for the current session.
// The feed generation is read before the session: the session is cleared
// before the feed is reset, so a refetch can never pair an old session with
// the next session's feed.
func (s *Service) Refresh(ctx context.Context, trigger activity.Trigger) error {
	gen := s.feed.Generation()
	sess := s.sessions.Current()
	if sess == nil {
		return apierrors.ErrNoSession
	}
	return s.feed.RefreshGeneration(withSession(ctx, sess), trigger, gen)
}

// VisibilityRegained is called when the user comes back to the dashboard.
func (s *Service) VisibilityRegained(ctx context.Context) error {
	return s.Refresh(ctx, activity.TriggerVisibility)
}

// MarkActivityRead marks an activity read in the feed and in the notification store.
func (s *Service) MarkActivityRead(ctx context.Context, id string) error {
	if s.sessions.Current() == nil {
		return apierrors.ErrNoSession
	}
	s.store.MarkRead(id)
	return s.feed.MarkRead(ctx, id)
}

// DeleteActivity deletes an activity on the server, then locally.
func (s *Service) DeleteActivity(ctx context.Context, id string) error {
	if s.sessions.Current() == nil {
		return apierrors.ErrNoSession
	}
	if err := s.feed.Delete(ctx, id); err != nil {
		return err
	}
	s.store.Remove(id)
	return nil
}

// Toast implements events.Toaster.
func (s *Service) Toast(t events.Toast) {
	select {
	case s.toasts <- t:
	default:
		s.logger.Debug("toast dropped, no reader", slog.String("category", string(t.Category)))
	}
}

func (s *Service) prompt(p applications.RecommendationPrompt) {
	select {
	case s.prompts <- p:
	default:
		s.logger.Warn("recommendation prompt dropped, no reader",
			slog.String("application_id", p.Application.ID))
	}
}

// refreshRejected ends the session whose refresh got a 401. It runs on the
// refreshing goroutine, so the teardown is handed to another one.
func (s *Service) refreshRejected(ctx context.Context, err error) {
	sess := sessionFrom(ctx)
	if sess == nil {
		return
	}
	go s.sessions.Invalidate(sess.Token, err)
}

func (s *Service) start(ctx context.Context, sess *auth.Session) {
	ctx, cancel := context.WithCancel(withSession(context.WithoutCancel(ctx), sess))

	s.mu.Lock()
	s.cancelSession = cancel
	s.mu.Unlock()

	s.api.SetToken(sess.Token)
	s.manager.Connect(sess)
	s.scheduler.Start(ctx)

	if s.relay != nil {
		sub := s.store.Subscribe(ctx, "relay", relayBuffer)
		go s.relay.Run(ctx, sub, sess.UserID)
	}

	gen := s.feed.Generation()
	go func() {
		if err := s.feed.RefreshGeneration(ctx, activity.TriggerMount, gen); err != nil {
			s.logger.WithContext(ctx).Debug("initial activity refresh failed", slog.String("error", err.Error()))
		}
	}()
}

func (s *Service) end(sess *auth.Session, reason auth.EndReason) {
	s.mu.Lock()
	cancel := s.cancelSession
	s.cancelSession = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	s.scheduler.Stop()
	s.manager.Disconnect()
	s.store.Clear()
	s.feed.Reset()
	s.cache.Clear()
	s.api.SetToken("")

	s.logger.Info("session state cleared",
		slog.String("user_id", sess.UserID),
		slog.String("reason", string(reason)))
}
