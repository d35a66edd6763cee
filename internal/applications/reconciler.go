package applications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eternisai/marketplace-sync/internal/logger"
	"github.com/eternisai/marketplace-sync/internal/metrics"
)

// Outcome says what ApplyStatusEvent did with an event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeAbsent    Outcome = "absent"    // not cached; the owning screen picks it up on its next fetch
	OutcomeStale     Outcome = "stale"     // behind the cached status
	OutcomeTerminal  Outcome = "terminal"  // cached status is final
	OutcomeUnchanged Outcome = "unchanged" // same status
	OutcomeMalformed Outcome = "malformed"
)

// Meta carries the event fields that accompany a status change.
type Meta struct {
	JobTitle    string
	CandidateID string
	At          time.Time
}

// Result describes the effect of one status event.
type Result struct {
	ApplicationID string
	Outcome       Outcome
	Previous      Status
	Current       Status
}

// Applied reports whether the cache changed.
func (r Result) Applied() bool {
	return r.Outcome == OutcomeApplied
}

// RecommendationPrompt is raised when an accepted application becomes filled,
// which is when the server expects the client to ask for a recommendation.
type RecommendationPrompt struct {
	Application Application
	Previous    Status
	At          time.Time
}

// PromptHandler receives recommendation prompts.
type PromptHandler func(RecommendationPrompt)

// Reconciler merges pushed status changes into the Cache.
//
// Statuses only move forward and terminal statuses never change, so
// duplicated or reordered events after a reconnect are harmless.
type Reconciler struct {
	cache   *Cache
	metrics *metrics.Metrics
	logger  *logger.Logger
	now     func() time.Time

	mu       sync.Mutex
	handlers []PromptHandler
}

// NewReconciler creates a reconciler writing into cache.
func NewReconciler(cache *Cache, m *metrics.Metrics, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{
		cache:   cache,
		metrics: m,
		logger:  log.WithComponent("reconciler"),
		now:     time.Now,
	}
}

// OnRecommendationPrompt registers a handler called after an application becomes filled.
func (r *Reconciler) OnRecommendationPrompt(h PromptHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

// ApplyStatusEvent applies newStatus to the cached application if the rank ordering allows it.
func (r *Reconciler) ApplyStatusEvent(applicationID string, newStatus Status, meta Meta) Result {
	res := Result{ApplicationID: applicationID, Current: newStatus}
	if meta.At.IsZero() {
		meta.At = r.now()
	}

	if applicationID == "" || !newStatus.Valid() {
		res.Outcome = OutcomeMalformed
		r.record(res)
		return res
	}

	updated, found := r.cache.update(applicationID, func(cur Application) (Application, bool) {
		res.Previous = cur.Status
		switch {
		case cur.Status.Terminal():
			res.Outcome = OutcomeTerminal
		case cur.Status == newStatus:
			res.Outcome = OutcomeUnchanged
		case newStatus.Before(cur.Status):
			res.Outcome = OutcomeStale
		default:
			res.Outcome = OutcomeApplied
		}
		if res.Outcome != OutcomeApplied {
			res.Current = cur.Status
			return cur, false
		}

		cur.Status = newStatus
		cur.UpdatedAt = meta.At
		if meta.JobTitle != "" {
			cur.JobTitle = meta.JobTitle
		}
		if meta.CandidateID != "" {
			cur.CandidateID = meta.CandidateID
		}
		return cur, true
	})
	if !found {
		res.Outcome = OutcomeAbsent
		res.Current = ""
	}

	r.record(res)

	if res.Applied() && newStatus == StatusFilled && res.Previous == StatusAccepted {
		r.prompt(RecommendationPrompt{Application: updated, Previous: res.Previous, At: meta.At})
	}
	return res
}

// Resolve finds the id of the single cached application matching candidateID and jobTitle.
func (r *Reconciler) Resolve(candidateID, jobTitle string) (string, bool) {
	app, ok := r.cache.FindByCandidateJob(candidateID, jobTitle)
	return app.ID, ok
}

func (r *Reconciler) record(res Result) {
	r.metrics.StatusUpdate(string(res.Outcome))

	level := slog.LevelDebug
	if res.Outcome == OutcomeApplied {
		level = slog.LevelInfo
	}
	r.logger.Log(context.Background(), level, "application status event",
		slog.String("application_id", res.ApplicationID),
		slog.String("outcome", string(res.Outcome)),
		slog.String("previous", string(res.Previous)),
		slog.String("current", string(res.Current)))
}

func (r *Reconciler) prompt(p RecommendationPrompt) {
	r.mu.Lock()
	handlers := append([]PromptHandler(nil), r.handlers...)
	r.mu.Unlock()

	r.logger.Info("recommendation prompt raised",
		slog.String("application_id", p.Application.ID),
		slog.String("job_title", p.Application.JobTitle))
	for _, h := range handlers {
		h(p)
	}
}
