package realtime

import (
	"log/slog"
	"time"

	"github.com/eternisai/marketplace-sync/internal/events"
	"github.com/eternisai/marketplace-sync/internal/logger"
	"github.com/eternisai/marketplace-sync/internal/metrics"
)

// Emitter sends client-initiated signals to peers. It is best effort: the REST
// write that accompanies each signal remains the source of truth, so nothing is
// queued, retried or acknowledged.
type Emitter struct {
	manager *Manager
	metrics *metrics.Metrics
	logger  *logger.Logger
	now     func() time.Time
}

// NewEmitter returns an emitter writing on m's connection.
func NewEmitter(m *Manager, mt *metrics.Metrics, log *logger.Logger) *Emitter {
	if log == nil {
		log = logger.Nop()
	}
	return &Emitter{
		manager: m,
		metrics: mt,
		logger:  log.WithComponent("emitter"),
		now:     time.Now,
	}
}

// Emit sends ev if the connection is up and reports whether it was written.
// Otherwise the event is dropped.
func (e *Emitter) Emit(ev events.Outbound) bool {
	if !e.manager.Connected() {
		e.drop(ev, "not connected")
		return false
	}

	data, err := events.Encode(ev)
	if err != nil {
		e.drop(ev, err.Error())
		return false
	}
	if err := e.manager.send(data); err != nil {
		e.drop(ev, err.Error())
		return false
	}

	e.logger.Debug("event emitted", slog.String("event", string(ev.Type())))
	return true
}

// NewApplication signals that the candidate applied to a job.
func (e *Emitter) NewApplication(jobID, jobTitle, clientID, candidateName string) bool {
	return e.Emit(events.NewApplication{
		JobID:         jobID,
		JobTitle:      jobTitle,
		ClientID:      clientID,
		CandidateName: candidateName,
		Timestamp:     e.now().UTC(),
	})
}

// ApplicationStatusUpdate signals a status change to the candidate.
func (e *Emitter) ApplicationStatusUpdate(applicationID, status, jobTitle, candidateID string) bool {
	return e.Emit(events.ApplicationStatusUpdate{
		ApplicationID: applicationID,
		Status:        status,
		JobTitle:      jobTitle,
		CandidateID:   candidateID,
		Timestamp:     e.now().UTC(),
	})
}

// PrivateMessage signals a direct message to recipientID.
func (e *Emitter) PrivateMessage(recipientID, message, senderName string) bool {
	return e.Emit(events.OutgoingMessage{
		RecipientID: recipientID,
		Message:     message,
		SenderName:  senderName,
		Timestamp:   e.now().UTC(),
	})
}

func (e *Emitter) drop(ev events.Outbound, reason string) {
	e.metrics.EmitDropped(string(ev.Type()))
	e.logger.Debug("event dropped",
		slog.String("event", string(ev.Type())),
		slog.String("reason", reason))
}
