package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eternisai/marketplace-sync/internal/notifications"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	fail bool
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("nats: connection closed")
	}
	p.msgs = append(p.msgs, published{subject: subject, data: data})
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func waitCount(t *testing.T, p *fakePublisher, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for p.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("published %d messages, want %d", p.count(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNilPublisherDisablesRelay(t *testing.T) {
	r := New(nil, "marketplace.sync", nil)
	if r != nil {
		t.Fatal("New(nil) should return nil")
	}
	r.Run(context.Background(), nil, "u1") // must not block or panic
}

func TestRunPublishesStoreChanges(t *testing.T) {
	pub := &fakePublisher{}
	r := New(pub, "marketplace.sync", nil)
	store := notifications.NewStore(notifications.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := store.Subscribe(ctx, "relay", 16)

	done := make(chan struct{})
	go func() {
		r.Run(ctx, sub, "u1")
		close(done)
	}()

	n, _ := store.Add(notifications.Notification{Type: notifications.TypeMessage, Title: "Nouveau message"})
	store.MarkRead(n.ID)
	waitCount(t, pub, 2)

	pub.mu.Lock()
	first := pub.msgs[0]
	pub.mu.Unlock()
	if first.subject != "marketplace.sync.u1.notifications" {
		t.Errorf("subject = %q", first.subject)
	}
	var msg Message
	if err := json.Unmarshal(first.data, &msg); err != nil {
		t.Fatalf("bad message: %v", err)
	}
	if msg.Kind != notifications.ChangeAdded || msg.Notification == nil || msg.Notification.ID != n.ID {
		t.Errorf("message = %+v, want added %s", msg, n.ID)
	}
	if msg.UserID != "u1" || msg.Unread != 1 {
		t.Errorf("user/unread = %s/%d", msg.UserID, msg.Unread)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPublishFailureIsSkipped(t *testing.T) {
	pub := &fakePublisher{fail: true}
	r := New(pub, "p", nil)
	store := notifications.NewStore(notifications.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := store.Subscribe(ctx, "relay", 16)
	go r.Run(ctx, sub, "u1")

	store.Add(notifications.Notification{Type: notifications.TypeNewJob, Message: "a"})
	time.Sleep(20 * time.Millisecond)

	pub.mu.Lock()
	pub.fail = false
	pub.mu.Unlock()
	store.Add(notifications.Notification{Type: notifications.TypeNewJob, Message: "b"})

	waitCount(t, pub, 1)
}

func TestRunStopsWhenSubscriberCancelled(t *testing.T) {
	r := New(&fakePublisher{}, "p", nil)
	store := notifications.NewStore(notifications.Options{})
	sub := store.Subscribe(context.Background(), "relay", 1)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), sub, "u1")
		close(done)
	}()
	sub.Cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after subscriber cancel")
	}
}
