package events

import (
	"time"

	"github.com/eternisai/marketplace-sync/internal/applications"
)

// Level is the visual style of a toast.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelDefault Level = "default"
)

// Category selects a row of the toast table. Category names are also the keys
// of the toast_durations_ms configuration map.
type Category string

const (
	CategoryGoodNews               Category = "good-news"
	CategoryStatusUpdate           Category = "status-update"
	CategoryApplicationReceived    Category = "application-received"
	CategoryRecommendationReceived Category = "recommendation-received"
	CategoryNewJobPosted           Category = "new-job-posted"
	CategoryPrivateMessage         Category = "private-message"
)

// Style is how a toast of one category is shown.
type Style struct {
	Level    Level
	Duration time.Duration
	Icon     string
}

// Toast is a request to show a transient message. Presentation is up to the Toaster.
type Toast struct {
	Category       Category      `json:"category"`
	Level          Level         `json:"level"`
	Icon           string        `json:"icon"`
	Title          string        `json:"title"`
	Message        string        `json:"message"`
	Duration       time.Duration `json:"duration"`
	NotificationID string        `json:"notificationId,omitempty"`
}

// ToastTable maps categories to styles.
type ToastTable map[Category]Style

// DefaultToasts returns the built-in toast table.
func DefaultToasts() ToastTable {
	return ToastTable{
		CategoryGoodNews:               {Level: LevelSuccess, Duration: 6 * time.Second, Icon: "🎉"},
		CategoryStatusUpdate:           {Level: LevelDefault, Duration: 4 * time.Second, Icon: "📋"},
		CategoryApplicationReceived:    {Level: LevelInfo, Duration: 5 * time.Second, Icon: "📩"},
		CategoryRecommendationReceived: {Level: LevelSuccess, Duration: 6 * time.Second, Icon: "⭐"},
		CategoryNewJobPosted:           {Level: LevelInfo, Duration: 4 * time.Second, Icon: "💼"},
		CategoryPrivateMessage:         {Level: LevelInfo, Duration: 4 * time.Second, Icon: "💬"},
	}
}

// WithDurations returns a copy of t with durations overridden by category name.
// Unknown categories and non-positive durations are ignored.
func (t ToastTable) WithDurations(overrides map[string]time.Duration) ToastTable {
	out := make(ToastTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	for name, d := range overrides {
		style, ok := out[Category(name)]
		if !ok || d <= 0 {
			continue
		}
		style.Duration = d
		out[Category(name)] = style
	}
	return out
}

// CategoryFor returns the toast category of ev.
func CategoryFor(ev Event) Category {
	switch e := ev.(type) {
	case ApplicationReceived:
		return CategoryApplicationReceived
	case ApplicationUpdated:
		if st, err := applications.ParseStatus(e.Status); err == nil && st.GoodNews() {
			return CategoryGoodNews
		}
		return CategoryStatusUpdate
	case RecommendationReceived:
		return CategoryRecommendationReceived
	case NewJobPosted:
		return CategoryNewJobPosted
	case PrivateMessage:
		return CategoryPrivateMessage
	}
	return CategoryStatusUpdate
}

// StyleFor returns the style for ev, falling back to the built-in table.
func (t ToastTable) StyleFor(ev Event) Style {
	c := CategoryFor(ev)
	if s, ok := t[c]; ok {
		return s
	}
	return DefaultToasts()[c]
}
