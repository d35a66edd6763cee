package events

import (
	"bytes"
	"encoding/json"
	"fmt"

	apierrors "github.com/eternisai/marketplace-sync/internal/errors"
	"github.com/eternisai/marketplace-sync/internal/notifications"
)

// Event is one of the inbound server events. The set is closed: only types in
// this package implement it.
type Event interface {
	Type() EventType
	NotificationType() notifications.NotificationType
	inbound()
}

// ApplicationReceived tells a client that a candidate applied to one of their jobs.
type ApplicationReceived struct {
	CandidateName string `json:"candidateName"`
	JobTitle      string `json:"jobTitle"`
	JobID         ID     `json:"jobId"`
}

// ApplicationUpdated tells a candidate that the status of their application changed.
type ApplicationUpdated struct {
	Status        string `json:"status"`
	JobTitle      string `json:"jobTitle"`
	CandidateID   ID     `json:"candidateId"`
	ApplicationID ID     `json:"applicationId,omitempty"`
}

// RecommendationReceived tells a freelancer that an employer recommended them.
type RecommendationReceived struct {
	EmployerName string `json:"employerName"`
	NewBadge     Badge  `json:"newBadge,omitempty"`
}

// NewJobPosted announces a job matching the user's interests.
type NewJobPosted struct {
	Title    string `json:"title"`
	Category string `json:"category"`
}

// PrivateMessage is a direct message from another user.
type PrivateMessage struct {
	SenderName string `json:"senderName"`
	Message    string `json:"message"`
}

func (ApplicationReceived) Type() EventType    { return TypeApplicationReceived }
func (ApplicationUpdated) Type() EventType     { return TypeApplicationUpdated }
func (RecommendationReceived) Type() EventType { return TypeRecommendationReceived }
func (NewJobPosted) Type() EventType           { return TypeNewJobPosted }
func (PrivateMessage) Type() EventType         { return TypePrivateMessage }

func (ApplicationReceived) NotificationType() notifications.NotificationType {
	return notifications.TypeApplicationReceived
}

func (ApplicationUpdated) NotificationType() notifications.NotificationType {
	return notifications.TypeApplicationUpdated
}

func (RecommendationReceived) NotificationType() notifications.NotificationType {
	return notifications.TypeRecommendationReceived
}

func (NewJobPosted) NotificationType() notifications.NotificationType {
	return notifications.TypeNewJob
}

func (PrivateMessage) NotificationType() notifications.NotificationType {
	return notifications.TypeMessage
}

func (ApplicationReceived) inbound()    {}
func (ApplicationUpdated) inbound()     {}
func (RecommendationReceived) inbound() {}
func (NewJobPosted) inbound()           {}
func (PrivateMessage) inbound()         {}

// Badge is the badge awarded with a recommendation. Older servers send a
// boolean instead of the badge name; true is kept as "nouveau badge".
type Badge string

// UnmarshalJSON accepts a string, a boolean or null.
func (b *Badge) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")), bytes.Equal(data, []byte("false")):
		*b = ""
		return nil
	case bytes.Equal(data, []byte("true")):
		*b = "nouveau badge"
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("newBadge must be a string or a boolean: %w", err)
	}
	*b = Badge(s)
	return nil
}

func decodeInto[T Event](data json.RawMessage) (Event, error) {
	var ev T
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s has no data", apierrors.ErrMalformedEvent, ev.Type())
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apierrors.ErrMalformedEvent, ev.Type(), err)
	}
	return ev, nil
}

var decoders = map[EventType]func(json.RawMessage) (Event, error){
	TypeApplicationReceived:    decodeInto[ApplicationReceived],
	TypeApplicationUpdated:     decodeInto[ApplicationUpdated],
	TypeRecommendationReceived: decodeInto[RecommendationReceived],
	TypeNewJobPosted:           decodeInto[NewJobPosted],
	TypePrivateMessage:         decodeInto[PrivateMessage],
}

// Decode turns a frame into its typed event. Unknown types return ErrUnknownEvent
// and undecodable payloads return ErrMalformedEvent.
func Decode(f Frame) (Event, error) {
	decode, ok := decoders[f.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apierrors.ErrUnknownEvent, f.Type)
	}
	return decode(f.Data)
}
