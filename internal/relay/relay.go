// Package relay republishes notification store changes on NATS so other local
// consumers (a desktop notifier, a CLI) can follow the session without their own
// realtime connection.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/eternisai/marketplace-sync/internal/logger"
	"github.com/eternisai/marketplace-sync/internal/notifications"
)

// Publisher is the subset of *nats.Conn the relay needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Message is the JSON body published for every store change.
type Message struct {
	Kind         notifications.ChangeKind    `json:"kind"`
	UserID       string                      `json:"user_id"`
	IDs          []string                    `json:"ids,omitempty"`
	Notification *notifications.Notification `json:"notification,omitempty"`
	Unread       int                         `json:"unread"`
	PublishedAt  time.Time                   `json:"published_at"`
}

// Connect dials NATS with reconnect handlers that log through log.
func Connect(url string, log *logger.Logger) (*nats.Conn, error) {
	log = log.WithComponent("nats")
	nc, err := nats.Connect(url,
		nats.Name("marketplace-syncd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	log.Info("connected to nats", slog.String("url", nc.ConnectedUrl()))
	return nc, nil
}

// Relay publishes store changes for one user at a time.
type Relay struct {
	pub    Publisher
	prefix string
	logger *logger.Logger
	now    func() time.Time
}

// New returns a relay publishing under prefix. A nil publisher returns nil,
// and a nil relay does nothing.
func New(pub Publisher, prefix string, log *logger.Logger) *Relay {
	if pub == nil {
		return nil
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Relay{
		pub:    pub,
		prefix: prefix,
		logger: log.WithComponent("relay"),
		now:    time.Now,
	}
}

// Subject returns the subject notifications for userID are published on.
func (r *Relay) Subject(userID string) string {
	return fmt.Sprintf("%s.%s.notifications", r.prefix, userID)
}

// Run publishes every change delivered to sub until ctx or sub is done.
// Publish failures are logged and skipped.
func (r *Relay) Run(ctx context.Context, sub *notifications.Subscriber, userID string) {
	if r == nil || sub == nil {
		return
	}
	subject := r.Subject(userID)
	log := r.logger.WithContext(ctx)
	log.Info("relaying notifications", slog.String("subject", subject))

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Context().Done():
			return
		case change := <-sub.Ch:
			r.publish(log, subject, userID, change)
		}
	}
}

func (r *Relay) publish(log *logger.Logger, subject, userID string, change notifications.Change) {
	data, err := json.Marshal(Message{
		Kind:         change.Kind,
		UserID:       userID,
		IDs:          change.IDs,
		Notification: change.Added,
		Unread:       change.Unread,
		PublishedAt:  r.now().UTC(),
	})
	if err != nil {
		log.Error("failed to marshal relay message", slog.String("error", err.Error()))
		return
	}
	if err := r.pub.Publish(subject, data); err != nil {
		log.Warn("failed to publish notification",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
		return
	}
	log.Debug("notification relayed",
		slog.String("subject", subject),
		slog.String("kind", string(change.Kind)))
}
