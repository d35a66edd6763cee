package notifications

import (
	"context"
	"time"
)

// Subscriber receives store changes on a buffered channel.
//
// Sends never block the store: when the buffer is full the change is skipped and
// the subscriber catches up with the next one, which carries the full item list.
type Subscriber struct {
	// ID identifies the subscriber in logs.
	ID string

	// Ch delivers changes. It is never closed; watch Context().Done() instead.
	Ch chan Change

	// JoinedAt is when the subscriber was registered.
	JoinedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

func newSubscriber(ctx context.Context, id string, bufferSize int) *Subscriber {
	subCtx, cancel := context.WithCancel(ctx)

	if bufferSize < 1 {
		bufferSize = 1
	}
	if bufferSize > 1000 {
		bufferSize = 1000
	}

	return &Subscriber{
		ID:       id,
		Ch:       make(chan Change, bufferSize),
		JoinedAt: time.Now(),
		ctx:      subCtx,
		cancel:   cancel,
	}
}

// Context returns the subscriber's context.
func (s *Subscriber) Context() context.Context {
	return s.ctx
}

// Cancel unregisters the subscriber. Safe to call multiple times.
func (s *Subscriber) Cancel() {
	s.cancel()
}

// offer delivers change without blocking. Returns false if it was skipped.
func (s *Subscriber) offer(change Change) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.Ch <- change:
		return true
	default:
		return false
	}
}
