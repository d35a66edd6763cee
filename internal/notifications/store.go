package notifications

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/eternisai/marketplace-sync/internal/logger"
	"github.com/eternisai/marketplace-sync/internal/metrics"
)

const (
	DefaultLimit       = 50
	DefaultDedupWindow = time.Minute
)

// Options configures a Store.
type Options struct {
	Limit       int           // maximum number of kept notifications
	DedupWindow time.Duration // identical events within this window are dropped; 0 disables
	Now         func() time.Time
	Metrics     *metrics.Metrics
	Logger      *logger.Logger
}

// Listener is called synchronously after every effective mutation.
type Listener func(Change)

// Store is a bounded, newest-first collection of notifications.
//
// Writers are serialized by a mutex and publish a fresh slice on every change, so
// List never observes a half-applied mutation and needs no lock.
type Store struct {
	limit       int
	dedupWindow time.Duration
	now         func() time.Time
	metrics     *metrics.Metrics
	logger      *logger.Logger

	items atomic.Pointer[[]Notification]

	mu        sync.Mutex
	seen      map[uint64]time.Time
	listeners []Listener
	subs      map[*Subscriber]struct{}
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	s := &Store{
		limit:       opts.Limit,
		dedupWindow: opts.DedupWindow,
		now:         opts.Now,
		metrics:     opts.Metrics,
		logger:      opts.Logger.WithComponent("notification_store"),
		seen:        make(map[uint64]time.Time),
		subs:        make(map[*Subscriber]struct{}),
	}
	empty := []Notification{}
	s.items.Store(&empty)
	return s
}

// OnChange registers a listener. Listeners run in registration order on the mutating goroutine.
func (s *Store) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// List returns the current notifications, newest first. The slice must not be modified.
func (s *Store) List() []Notification {
	return *s.items.Load()
}

// Len returns the number of stored notifications.
func (s *Store) Len() int {
	return len(s.List())
}

// UnreadCount returns the number of unread notifications.
func (s *Store) UnreadCount() int {
	return countUnread(s.List())
}

// Get returns the notification with the given id.
func (s *Store) Get(id string) (Notification, bool) {
	for _, n := range s.List() {
		if n.ID == id {
			return n, true
		}
	}
	return Notification{}, false
}

// DedupKey is the shape key used for duplicate suppression: type plus payload bytes.
// Retransmissions after a reconnect carry new ids and timestamps but the same shape.
func DedupKey(n Notification) uint64 {
	d := xxhash.New()
	d.WriteString(string(n.Type))
	d.WriteString("\x00")
	if len(n.Payload) > 0 {
		d.Write(n.Payload)
	} else {
		d.WriteString(n.Title)
		d.WriteString("\x00")
		d.WriteString(n.Message)
	}
	return d.Sum64()
}

// Add inserts n keeping newest-first order and the size cap.
// Missing ID and Timestamp are filled from the receipt time. It returns the stored
// notification and false when n was suppressed as a duplicate or fell off the cap.
func (s *Store) Add(n Notification) (Notification, bool) {
	now := s.now()
	if n.Timestamp.IsZero() {
		n.Timestamp = now
	}
	if n.ID == "" {
		n.ID = newID(n.Timestamp)
	}

	s.mu.Lock()

	var key uint64
	if s.dedupWindow > 0 {
		s.pruneSeen(now)
		key = DedupKey(n)
		if at, ok := s.seen[key]; ok && now.Sub(at) < s.dedupWindow {
			s.mu.Unlock()
			s.metrics.NotificationDeduplicated()
			s.logger.Debug("duplicate notification suppressed",
				slog.String("type", string(n.Type)),
				slog.Time("first_seen", at))
			return n, false
		}
	}

	cur := s.List()
	idx := sort.Search(len(cur), func(i int) bool {
		return !cur[i].Timestamp.After(n.Timestamp)
	})
	if idx >= s.limit {
		s.mu.Unlock()
		return n, false
	}

	next := make([]Notification, 0, min(len(cur)+1, s.limit))
	next = append(next, cur[:idx]...)
	next = append(next, n)
	next = append(next, cur[idx:]...)
	if len(next) > s.limit {
		next = next[:s.limit]
	}
	if s.dedupWindow > 0 {
		s.seen[key] = now
	}

	added := n
	change := s.publish(next, Change{Kind: ChangeAdded, IDs: []string{n.ID}, Added: &added})
	s.mu.Unlock()

	s.metrics.NotificationStored()
	s.notify(change)
	return n, true
}

// MarkRead marks one notification as read. Unknown or already-read ids are ignored.
func (s *Store) MarkRead(id string) {
	s.mu.Lock()
	cur := s.List()
	idx := indexOf(cur, id)
	if idx < 0 || cur[idx].Read {
		s.mu.Unlock()
		return
	}

	next := append([]Notification(nil), cur...)
	next[idx].Read = true
	change := s.publish(next, Change{Kind: ChangeRead, IDs: []string{id}})
	s.mu.Unlock()

	s.notify(change)
}

// MarkAllRead marks every notification as read.
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	cur := s.List()
	var ids []string
	next := make([]Notification, len(cur))
	for i, n := range cur {
		if !n.Read {
			ids = append(ids, n.ID)
			n.Read = true
		}
		next[i] = n
	}
	if len(ids) == 0 {
		s.mu.Unlock()
		return
	}
	change := s.publish(next, Change{Kind: ChangeRead, IDs: ids})
	s.mu.Unlock()

	s.notify(change)
}

// Remove deletes one notification. Unknown ids are ignored.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	cur := s.List()
	idx := indexOf(cur, id)
	if idx < 0 {
		s.mu.Unlock()
		return
	}

	next := make([]Notification, 0, len(cur)-1)
	next = append(next, cur[:idx]...)
	next = append(next, cur[idx+1:]...)
	change := s.publish(next, Change{Kind: ChangeRemoved, IDs: []string{id}})
	s.mu.Unlock()

	s.notify(change)
}

// Clear empties the store and forgets dedup history.
func (s *Store) Clear() {
	s.mu.Lock()
	s.seen = make(map[uint64]time.Time)
	change := s.publish([]Notification{}, Change{Kind: ChangeCleared})
	s.mu.Unlock()

	s.notify(change)
}

// publish must be called with s.mu held.
func (s *Store) publish(next []Notification, change Change) Change {
	s.items.Store(&next)
	change.Items = next
	change.Unread = countUnread(next)
	return change
}

func (s *Store) notify(change Change) {
	s.mu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	subs := make([]*Subscriber, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(change)
	}
	for _, sub := range subs {
		if !sub.offer(change) {
			s.logger.Debug("slow subscriber skipped change", slog.String("subscriber_id", sub.ID))
		}
	}
}

// pruneSeen must be called with s.mu held.
func (s *Store) pruneSeen(now time.Time) {
	for key, at := range s.seen {
		if now.Sub(at) >= s.dedupWindow {
			delete(s.seen, key)
		}
	}
}

// Subscribe returns a subscriber that receives every change until ctx is done.
func (s *Store) Subscribe(ctx context.Context, id string, bufferSize int) *Subscriber {
	sub := newSubscriber(ctx, id, bufferSize)

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-sub.Context().Done()
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
	}()

	return sub
}

func newID(at time.Time) string {
	id, err := uuid.NewV7()
	if err != nil {
		return at.UTC().Format("20060102T150405.000000000Z") + "-" + uuid.NewString()
	}
	return id.String()
}

func indexOf(items []Notification, id string) int {
	for i, n := range items {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func countUnread(items []Notification) int {
	unread := 0
	for _, n := range items {
		if !n.Read {
			unread++
		}
	}
	return unread
}
