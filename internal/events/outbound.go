package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Outbound is a client-initiated event.
type Outbound interface {
	Type() EventType
	outbound()
}

// JoinUserRoom scopes server pushes to the user. It is sent once per connection.
type JoinUserRoom struct {
	UserID string `json:"userId"`
}

// NewApplication signals peers that a candidate applied to a job.
type NewApplication struct {
	JobID         string    `json:"jobId"`
	JobTitle      string    `json:"jobTitle"`
	ClientID      string    `json:"clientId"`
	CandidateName string    `json:"candidateName"`
	Timestamp     time.Time `json:"timestamp"`
}

// ApplicationStatusUpdate signals the candidate that a client changed an application status.
type ApplicationStatusUpdate struct {
	ApplicationID string    `json:"applicationId"`
	Status        string    `json:"status"`
	JobTitle      string    `json:"jobTitle"`
	CandidateID   string    `json:"candidateId"`
	Timestamp     time.Time `json:"timestamp"`
}

// OutgoingMessage is a direct message to another user.
type OutgoingMessage struct {
	RecipientID string    `json:"recipientId"`
	Message     string    `json:"message"`
	SenderName  string    `json:"senderName"`
	Timestamp   time.Time `json:"timestamp"`
}

func (JoinUserRoom) Type() EventType            { return TypeJoinUserRoom }
func (NewApplication) Type() EventType          { return TypeNewApplication }
func (ApplicationStatusUpdate) Type() EventType { return TypeApplicationStatusUpdate }
func (OutgoingMessage) Type() EventType         { return TypePrivateMessage }

func (JoinUserRoom) outbound()            {}
func (NewApplication) outbound()          {}
func (ApplicationStatusUpdate) outbound() {}
func (OutgoingMessage) outbound()         {}

// Encode wraps ev in a frame and marshals it.
func Encode(ev Outbound) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", ev.Type(), err)
	}
	return json.Marshal(Frame{Type: ev.Type(), Data: data})
}
