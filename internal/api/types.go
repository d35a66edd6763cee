package api

import (
	"encoding/json"
	"strconv"
	"time"
)

// Activity is a server-side activity record shown on the dashboard.
type Activity struct {
	ID        FlexString `json:"id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"createdAt"`
	Read      bool       `json:"read"`
}

// DashboardStats are the counters shown on the dashboard header.
type DashboardStats struct {
	Applications         int `json:"applications"`
	PendingApplications  int `json:"pendingApplications"`
	AcceptedApplications int `json:"acceptedApplications"`
	ActiveJobs           int `json:"activeJobs"`
	Recommendations      int `json:"recommendations"`
	UnreadMessages       int `json:"unreadMessages"`
}

// FlexString decodes a JSON string or number into a string. The REST API uses
// numeric ids for some collections and string ids for others.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*f = FlexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = FlexString(n.String())
	return nil
}
