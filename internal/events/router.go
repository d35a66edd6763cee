package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/eternisai/marketplace-sync/internal/applications"
	apierrors "github.com/eternisai/marketplace-sync/internal/errors"
	"github.com/eternisai/marketplace-sync/internal/logger"
	"github.com/eternisai/marketplace-sync/internal/metrics"
	"github.com/eternisai/marketplace-sync/internal/notifications"
)

// Notifier stores user-facing notifications.
type Notifier interface {
	Add(n notifications.Notification) (notifications.Notification, bool)
}

// Toaster shows transient messages. Implementations must not block.
type Toaster interface {
	Toast(t Toast)
}

// StatusReconciler merges status changes into the cached applications.
type StatusReconciler interface {
	ApplyStatusEvent(applicationID string, newStatus applications.Status, meta applications.Meta) applications.Result
	Resolve(candidateID, jobTitle string) (string, bool)
}

// RouterConfig holds the router's collaborators. Toaster and Reconciler are optional.
type RouterConfig struct {
	Notifier   Notifier
	Toaster    Toaster
	Reconciler StatusReconciler
	Toasts     ToastTable
	Metrics    *metrics.Metrics
	Logger     *logger.Logger
	Now        func() time.Time
}

// Router dispatches inbound frames to exactly one handler per event type.
// It is called from the connection's read goroutine, so frames are handled in
// arrival order.
type Router struct {
	notifier   Notifier
	toaster    Toaster
	reconciler StatusReconciler
	toasts     ToastTable
	metrics    *metrics.Metrics
	logger     *logger.Logger
	now        func() time.Time
}

// NewRouter creates a router.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Toasts == nil {
		cfg.Toasts = DefaultToasts()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Router{
		notifier:   cfg.Notifier,
		toaster:    cfg.Toaster,
		reconciler: cfg.Reconciler,
		toasts:     cfg.Toasts,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.WithComponent("event_router"),
		now:        cfg.Now,
	}
}

// HandleFrame decodes and routes one raw message. Errors are logged, never returned:
// a bad frame must not stop the read loop.
func (r *Router) HandleFrame(ctx context.Context, raw []byte) {
	frame, err := ParseFrame(raw)
	if err != nil {
		r.metrics.EventDropped("malformed")
		r.logger.WithContext(ctx).Warn("dropping undecodable frame",
			slog.String("error", err.Error()),
			slog.Int("size", len(raw)))
		return
	}
	_ = r.Route(ctx, frame)
}

// Route dispatches frame. It returns ErrUnknownEvent or ErrMalformedEvent for
// frames it ignored, after logging them.
func (r *Router) Route(ctx context.Context, frame Frame) error {
	log := r.logger.WithContext(ctx)

	ev, err := Decode(frame)
	switch {
	case errors.Is(err, apierrors.ErrUnknownEvent):
		r.metrics.EventDropped("unknown")
		log.Debug("ignoring unknown event type", slog.String("type", string(frame.Type)))
		return err
	case err != nil:
		r.metrics.EventDropped("malformed")
		log.Warn("dropping malformed event",
			slog.String("type", string(frame.Type)),
			slog.String("error", err.Error()))
		return err
	}

	r.metrics.EventReceived(string(ev.Type()))

	switch e := ev.(type) {
	case ApplicationReceived:
		r.handleApplicationReceived(e)
	case ApplicationUpdated:
		return r.handleApplicationUpdated(ctx, e)
	case RecommendationReceived:
		r.handleRecommendation(e)
	case NewJobPosted:
		r.handleNewJob(e)
	case PrivateMessage:
		r.handlePrivateMessage(e)
	default:
		panic(fmt.Sprintf("events: no handler for %T", ev))
	}
	return nil
}

func (r *Router) handleApplicationReceived(e ApplicationReceived) {
	r.publish(e, "Nouvelle candidature",
		fmt.Sprintf("%s a postulé à « %s »", orDefault(e.CandidateName, "Un candidat"), e.JobTitle))
}

func (r *Router) handleApplicationUpdated(ctx context.Context, e ApplicationUpdated) error {
	log := r.logger.WithContext(ctx)
	if strings.TrimSpace(e.Status) == "" {
		r.metrics.EventDropped("malformed")
		log.Warn("dropping status update without status",
			slog.String("application_id", e.ApplicationID.String()))
		return fmt.Errorf("%w: application-updated without status", apierrors.ErrMalformedEvent)
	}

	status, err := applications.ParseStatus(e.Status)
	if err != nil {
		// Statuses the client does not know are still shown, with their raw label.
		log.Warn("status update with unknown status",
			slog.String("status", e.Status),
			slog.String("application_id", e.ApplicationID.String()))
		status = applications.Status(e.Status)
	} else if r.reconciler != nil {
		r.reconcile(ctx, e, status)
	}

	r.publish(e, "Candidature mise à jour",
		fmt.Sprintf("Votre candidature pour « %s » est %s", e.JobTitle, status.Label()))
	return nil
}

// reconcile applies the status to the cached application named by the event.
// Events without an application id are matched on candidate and job title,
// and only applied when exactly one cached application matches.
func (r *Router) reconcile(ctx context.Context, e ApplicationUpdated, status applications.Status) {
	id := e.ApplicationID.String()
	if id == "" {
		var ok bool
		id, ok = r.reconciler.Resolve(e.CandidateID.String(), e.JobTitle)
		if !ok {
			r.logger.WithContext(ctx).Debug("status update matches no single cached application",
				slog.String("candidate_id", e.CandidateID.String()),
				slog.String("job_title", e.JobTitle))
			return
		}
	}

	r.reconciler.ApplyStatusEvent(id, status, applications.Meta{
		JobTitle:    e.JobTitle,
		CandidateID: e.CandidateID.String(),
		At:          r.now(),
	})
}

func (r *Router) handleRecommendation(e RecommendationReceived) {
	msg := fmt.Sprintf("%s vous a recommandé", orDefault(e.EmployerName, "Un employeur"))
	if e.NewBadge != "" {
		msg += fmt.Sprintf(" (%s)", e.NewBadge)
	}
	r.publish(e, "Nouvelle recommandation", msg)
}

func (r *Router) handleNewJob(e NewJobPosted) {
	msg := e.Title
	if e.Category != "" {
		msg = fmt.Sprintf("%s · %s", e.Title, e.Category)
	}
	r.publish(e, "Nouvelle offre", msg)
}

func (r *Router) handlePrivateMessage(e PrivateMessage) {
	r.publish(e, "Nouveau message",
		fmt.Sprintf("%s : %s", orDefault(e.SenderName, "Quelqu'un"), e.Message))
}

// publish enqueues the notification and, unless it was a duplicate, requests a toast.
func (r *Router) publish(ev Event, title, message string) {
	// Re-encoding the typed event gives a canonical payload for duplicate detection.
	payload, err := json.Marshal(ev)
	if err != nil {
		payload = nil
	}

	n, stored := r.notifier.Add(notifications.Notification{
		Type:      ev.NotificationType(),
		Title:     title,
		Message:   message,
		Payload:   payload,
		Timestamp: r.now(),
	})
	if !stored || r.toaster == nil {
		return
	}

	style := r.toasts.StyleFor(ev)
	r.toaster.Toast(Toast{
		Category:       CategoryFor(ev),
		Level:          style.Level,
		Icon:           style.Icon,
		Title:          title,
		Message:        message,
		Duration:       style.Duration,
		NotificationID: n.ID,
	})
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
