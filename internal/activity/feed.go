// Package activity maintains the dashboard read model: the last REST snapshot of
// recent activities and stats, merged with notifications pushed since then.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eternisai/marketplace-sync/internal/api"
	apierrors "github.com/eternisai/marketplace-sync/internal/errors"
	"github.com/eternisai/marketplace-sync/internal/logger"
	"github.com/eternisai/marketplace-sync/internal/metrics"
	"github.com/eternisai/marketplace-sync/internal/notifications"
)

// Trigger names the reason for a refetch.
type Trigger string

const (
	TriggerMount      Trigger = "mount"
	TriggerVisibility Trigger = "visibility-regain"
	TriggerManual     Trigger = "manual"
	TriggerPeriodic   Trigger = "periodic"
)

// DefaultLimit is the number of activities requested per refetch.
const DefaultLimit = 10

// Item is one entry of the feed. Provisional items come from pushed
// notifications and are replaced by server data on the next refetch.
type Item struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Read        bool      `json:"read"`
	Provisional bool      `json:"provisional"`
}

// Source is the REST surface the feed reads and writes.
type Source interface {
	RecentActivities(ctx context.Context, limit int) ([]api.Activity, error)
	MarkActivityRead(ctx context.Context, id string) error
	DeleteActivity(ctx context.Context, id string) error
	DashboardStats(ctx context.Context) (*api.DashboardStats, error)
}

// AuthFailureFunc is called when a refetch is rejected with 401. ctx is the
// refresh context. It runs on the refreshing goroutine and must not call back
// into the feed synchronously.
type AuthFailureFunc func(ctx context.Context, err error)

// Options configures a Feed.
type Options struct {
	Limit         int
	Metrics       *metrics.Metrics
	Logger        *logger.Logger
	OnAuthFailure AuthFailureFunc
	Now           func() time.Time
}

type provisionalItem struct {
	Item
	receivedAt time.Time
}

type view struct {
	items     []Item
	stats     *api.DashboardStats
	fetchedAt time.Time
}

// Feed is the activity feed projection.
type Feed struct {
	source        Source
	limit         int
	metrics       *metrics.Metrics
	logger        *logger.Logger
	onAuthFailure AuthFailureFunc
	now           func() time.Time

	current atomic.Pointer[view]

	mu          sync.Mutex
	snapshot    []Item
	stats       *api.DashboardStats
	snapshotAt  time.Time // start time of the refetch that produced snapshot
	fetchedAt   time.Time
	provisional []provisionalItem
	generation  uint64
	lifetime    context.Context
	cancel      context.CancelFunc
}

// NewFeed creates an empty feed reading from source.
func NewFeed(source Source, opts Options) *Feed {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	f := &Feed{
		source:        source,
		limit:         opts.Limit,
		metrics:       opts.Metrics,
		logger:        opts.Logger.WithComponent("activity_feed"),
		onAuthFailure: opts.OnAuthFailure,
		now:           opts.Now,
	}
	f.lifetime, f.cancel = context.WithCancel(context.Background())
	f.current.Store(&view{items: []Item{}})
	return f
}

// Items returns the merged view, newest first. The slice must not be modified.
func (f *Feed) Items() []Item {
	return f.current.Load().items
}

// Stats returns the last fetched dashboard stats.
func (f *Feed) Stats() (api.DashboardStats, bool) {
	v := f.current.Load()
	if v.stats == nil {
		return api.DashboardStats{}, false
	}
	return *v.stats, true
}

// LastRefresh returns when the current snapshot was fetched, or zero.
func (f *Feed) LastRefresh() time.Time {
	return f.current.Load().fetchedAt
}

// UnreadCount returns the number of unread items in the view.
func (f *Feed) UnreadCount() int {
	n := 0
	for _, it := range f.Items() {
		if !it.Read {
			n++
		}
	}
	return n
}

// Generation identifies the feed state between two Resets.
func (f *Feed) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generation
}

// Refresh refetches activities and stats. On failure the current view is kept
// and the error, wrapping ErrRefetch, is returned for logging only.
func (f *Feed) Refresh(ctx context.Context, trigger Trigger) error {
	return f.RefreshGeneration(ctx, trigger, f.Generation())
}

// RefreshGeneration is Refresh for a caller that captured gen earlier. Nothing
// is fetched or applied once the feed has been Reset past gen.
func (f *Feed) RefreshGeneration(ctx context.Context, trigger Trigger, gen uint64) error {
	f.mu.Lock()
	if gen != f.generation {
		f.mu.Unlock()
		f.metrics.Refetch(string(trigger), "discarded", 0)
		f.logger.WithContext(ctx).Debug("skipping refetch from previous session")
		return nil
	}
	lifetime := f.lifetime
	f.mu.Unlock()

	ctx, cancel := context.WithCancel(logger.WithTrigger(ctx, string(trigger)))
	defer cancel()
	stop := context.AfterFunc(lifetime, cancel)
	defer stop()

	log := f.logger.WithContext(ctx)
	started := f.now()
	begin := time.Now()

	activities, err := f.source.RecentActivities(ctx, f.limit)
	if err != nil {
		f.metrics.Refetch(string(trigger), "error", time.Since(begin).Seconds())
		if apierrors.IsUnauthorized(err) {
			log.Warn("activity refetch rejected, ending session", slog.String("error", err.Error()))
			if f.onAuthFailure != nil {
				f.onAuthFailure(ctx, err)
			}
		} else {
			log.Warn("activity refetch failed, keeping cached view", slog.String("error", err.Error()))
		}
		return fmt.Errorf("%w: %w", apierrors.ErrRefetch, err)
	}

	stats, statsErr := f.source.DashboardStats(ctx)
	if statsErr != nil {
		log.Warn("dashboard stats refetch failed, keeping cached stats", slog.String("error", statsErr.Error()))
		if apierrors.IsUnauthorized(statsErr) && f.onAuthFailure != nil {
			f.onAuthFailure(ctx, statsErr)
		}
	}

	f.mu.Lock()
	if gen != f.generation {
		f.mu.Unlock()
		f.metrics.Refetch(string(trigger), "discarded", time.Since(begin).Seconds())
		log.Debug("discarding refetch from previous session")
		return nil
	}
	if started.Before(f.snapshotAt) {
		f.mu.Unlock()
		f.metrics.Refetch(string(trigger), "discarded", time.Since(begin).Seconds())
		log.Debug("discarding refetch older than current snapshot")
		return nil
	}

	f.snapshot = fromActivities(activities)
	f.snapshotAt = started
	f.fetchedAt = f.now()
	if stats != nil {
		f.stats = stats
	}

	// Pushes received before the refetch started are covered by the snapshot.
	kept := f.provisional[:0:0]
	for _, p := range f.provisional {
		if !p.receivedAt.Before(started) {
			kept = append(kept, p)
		}
	}
	f.provisional = kept
	f.rebuild()
	count := len(f.snapshot)
	f.mu.Unlock()

	f.metrics.Refetch(string(trigger), "ok", time.Since(begin).Seconds())
	log.Debug("activity feed refreshed", slog.Int("activities", count))
	return nil
}

// HandleChange applies a notification store change to the provisional entries.
// Register it with Store.OnChange.
func (f *Feed) HandleChange(c notifications.Change) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch c.Kind {
	case notifications.ChangeAdded:
		if c.Added == nil {
			return
		}
		n := *c.Added
		f.provisional = append(f.provisional, provisionalItem{
			Item: Item{
				ID:          n.ID,
				Kind:        string(n.Type),
				Title:       n.Title,
				Message:     n.Message,
				Timestamp:   n.Timestamp,
				Read:        n.Read,
				Provisional: true,
			},
			receivedAt: f.now(),
		})
	case notifications.ChangeRead:
		ids := toSet(c.IDs)
		for i := range f.provisional {
			if _, ok := ids[f.provisional[i].ID]; ok {
				f.provisional[i].Read = true
			}
		}
	case notifications.ChangeRemoved:
		ids := toSet(c.IDs)
		kept := f.provisional[:0:0]
		for _, p := range f.provisional {
			if _, ok := ids[p.ID]; !ok {
				kept = append(kept, p)
			}
		}
		f.provisional = kept
	case notifications.ChangeCleared:
		f.provisional = nil
	default:
		return
	}
	f.rebuild()
}

// MarkRead flips the item to read locally, then confirms with the server.
// Provisional items are local only. On server failure the flip is reverted.
func (f *Feed) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	provisional, found, wasRead := f.setRead(id, true)
	f.mu.Unlock()

	if !found || wasRead || provisional {
		return nil
	}

	if err := f.source.MarkActivityRead(ctx, id); err != nil {
		f.mu.Lock()
		f.setRead(id, false)
		f.mu.Unlock()
		f.logger.WithContext(ctx).Warn("mark activity read failed",
			slog.String("activity_id", id),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to mark activity %s read: %w", id, err)
	}
	return nil
}

// Delete removes the item. Server items are deleted remotely first and kept
// locally when that fails.
func (f *Feed) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	provisional := false
	found := false
	for _, it := range f.current.Load().items {
		if it.ID == id {
			found, provisional = true, it.Provisional
			break
		}
	}
	f.mu.Unlock()

	if !found {
		return nil
	}
	if !provisional {
		if err := f.source.DeleteActivity(ctx, id); err != nil {
			f.logger.WithContext(ctx).Warn("delete activity failed",
				slog.String("activity_id", id),
				slog.String("error", err.Error()))
			return fmt.Errorf("failed to delete activity %s: %w", id, err)
		}
	}

	f.mu.Lock()
	f.snapshot = withoutID(f.snapshot, id)
	kept := f.provisional[:0:0]
	for _, p := range f.provisional {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	f.provisional = kept
	f.rebuild()
	f.mu.Unlock()
	return nil
}

// Reset drops all state and cancels in-flight refetches. Results of refetches
// started before Reset are discarded.
func (f *Feed) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancel()
	f.lifetime, f.cancel = context.WithCancel(context.Background())
	f.generation++
	f.snapshot = nil
	f.stats = nil
	f.snapshotAt = time.Time{}
	f.fetchedAt = time.Time{}
	f.provisional = nil
	f.rebuild()
}

// setRead must be called with f.mu held.
func (f *Feed) setRead(id string, read bool) (provisional, found, wasRead bool) {
	for i := range f.snapshot {
		if f.snapshot[i].ID == id {
			found, wasRead = true, f.snapshot[i].Read
			next := append([]Item(nil), f.snapshot...)
			next[i].Read = read
			f.snapshot = next
			break
		}
	}
	if !found {
		for i := range f.provisional {
			if f.provisional[i].ID == id {
				found, wasRead, provisional = true, f.provisional[i].Read, true
				f.provisional[i].Read = read
				break
			}
		}
	}
	if found {
		f.rebuild()
	}
	return provisional, found, wasRead
}

// rebuild publishes a new view. Must be called with f.mu held.
// Server items win over provisional items with the same id.
func (f *Feed) rebuild() {
	items := make([]Item, 0, len(f.snapshot)+len(f.provisional))
	seen := make(map[string]struct{}, len(f.snapshot))
	for _, it := range f.snapshot {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		items = append(items, it)
	}
	for _, p := range f.provisional {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		items = append(items, p.Item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.After(items[j].Timestamp)
	})

	f.current.Store(&view{items: items, stats: f.stats, fetchedAt: f.fetchedAt})
}

func fromActivities(activities []api.Activity) []Item {
	items := make([]Item, 0, len(activities))
	for _, a := range activities {
		items = append(items, Item{
			ID:        string(a.ID),
			Kind:      a.Type,
			Title:     a.Title,
			Message:   a.Message,
			Timestamp: a.CreatedAt,
			Read:      a.Read,
		})
	}
	return items
}

func withoutID(items []Item, id string) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.ID != id {
			out = append(out, it)
		}
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
