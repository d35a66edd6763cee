package notifications

import (
	"encoding/json"
	"time"
)

// NotificationType represents the kind of user-facing notification.
type NotificationType string

const (
	TypeApplicationReceived    NotificationType = "application-received"
	TypeApplicationUpdated     NotificationType = "application-updated"
	TypeRecommendationReceived NotificationType = "recommendation-received"
	TypeNewJob                 NotificationType = "new-job"
	TypeMessage                NotificationType = "message"
)

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	switch t {
	case TypeApplicationReceived, TypeApplicationUpdated, TypeRecommendationReceived, TypeNewJob, TypeMessage:
		return true
	}
	return false
}

// Notification is a user-facing record of a pushed server event.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Read      bool             `json:"read"`
}

// ChangeKind describes what a store mutation did.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRead    ChangeKind = "read"
	ChangeRemoved ChangeKind = "removed"
	ChangeCleared ChangeKind = "cleared"
)

// Change is delivered to listeners and subscribers after every effective mutation.
//
// Items is the store content after the change; it is shared and must not be modified.
type Change struct {
	Kind   ChangeKind
	IDs    []string      // affected notification ids (empty for ChangeCleared)
	Added  *Notification // set for ChangeAdded
	Items  []Notification
	Unread int
}
