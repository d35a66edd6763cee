// Package events defines the realtime wire protocol and routes inbound frames
// to the notification store, the toast sink and the application reconciler.
package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// EventType is the name carried in a frame's "type" field.
type EventType string

// Inbound events pushed by the server.
const (
	TypeApplicationReceived    EventType = "application-received"
	TypeApplicationUpdated     EventType = "application-updated"
	TypeRecommendationReceived EventType = "recommendation-received"
	TypeNewJobPosted           EventType = "new-job-posted"
	TypePrivateMessage         EventType = "private-message"
)

// Outbound events sent by the client.
const (
	TypeJoinUserRoom            EventType = "join-user-room"
	TypeNewApplication          EventType = "new-application"
	TypeApplicationStatusUpdate EventType = "application-status-update"
	// private-message is used in both directions with different payloads.
)

// Frame is the envelope of every message on the realtime connection.
type Frame struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ParseFrame decodes a raw websocket message.
func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, err
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("frame has no type")
	}
	return f, nil
}

// ID is an identifier the server may send as a JSON string or number.
// It is always held and re-encoded as a string.
type ID string

// UnmarshalJSON accepts "42", 42 and null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

// String returns the id as a string.
func (id ID) String() string {
	return string(id)
}
