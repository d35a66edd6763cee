package applications

import (
	"errors"
	"testing"

	apierrors "github.com/eternisai/marketplace-sync/internal/errors"
)

func newTestReconciler(apps ...Application) (*Reconciler, *Cache) {
	cache := NewCache()
	cache.Replace(apps)
	return NewReconciler(cache, nil, nil), cache
}

var allStatuses = []Status{
	StatusPending, StatusShortlisted, StatusInterviewed,
	StatusAccepted, StatusRejected, StatusFilled,
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{in: "pending", want: StatusPending},
		{in: " Shortlisted ", want: StatusShortlisted},
		{in: "FILLED", want: StatusFilled},
		{in: "archived", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if tt.wantErr {
				if !errors.Is(err, apierrors.ErrMalformedEvent) {
					t.Errorf("ParseStatus(%q) error = %v, want ErrMalformedEvent", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStatus(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseStatus(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStatusRanks(t *testing.T) {
	tests := []struct {
		status   Status
		rank     int
		terminal bool
		goodNews bool
	}{
		{StatusPending, 0, false, false},
		{StatusShortlisted, 1, false, true},
		{StatusInterviewed, 1, false, true},
		{StatusAccepted, 1, false, true},
		{StatusRejected, 2, true, false},
		{StatusFilled, 2, true, false},
		{Status("unknown"), -1, false, false},
	}

	for _, tt := range tests {
		if got := tt.status.Rank(); got != tt.rank {
			t.Errorf("%s.Rank() = %d, want %d", tt.status, got, tt.rank)
		}
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
		if got := tt.status.GoodNews(); got != tt.goodNews {
			t.Errorf("%s.GoodNews() = %v, want %v", tt.status, got, tt.goodNews)
		}
	}
}

func TestTerminalStatusNeverChanges(t *testing.T) {
	for _, terminal := range []Status{StatusRejected, StatusFilled} {
		for _, incoming := range allStatuses {
			r, cache := newTestReconciler(Application{ID: "1", Status: terminal})

			res := r.ApplyStatusEvent("1", incoming, Meta{})

			got, _ := cache.Get("1")
			if got.Status != terminal {
				t.Errorf("cached %s, event %s: status became %s", terminal, incoming, got.Status)
			}
			if res.Applied() {
				t.Errorf("cached %s, event %s: outcome %s, want not applied", terminal, incoming, res.Outcome)
			}
		}
	}
}

func TestOutOfOrderEventIsStale(t *testing.T) {
	r, cache := newTestReconciler(Application{ID: "1", Status: StatusPending})

	if res := r.ApplyStatusEvent("1", StatusAccepted, Meta{}); res.Outcome != OutcomeApplied {
		t.Fatalf("accepted: outcome = %s, want applied", res.Outcome)
	}
	res := r.ApplyStatusEvent("1", StatusPending, Meta{})
	if res.Outcome != OutcomeStale {
		t.Errorf("pending after accepted: outcome = %s, want stale", res.Outcome)
	}

	got, _ := cache.Get("1")
	if got.Status != StatusAccepted {
		t.Errorf("status = %s, want accepted", got.Status)
	}
}

func TestLateShortlistedAfterAcceptedIsStale(t *testing.T) {
	r, cache := newTestReconciler(Application{ID: "1", Status: StatusPending})

	r.ApplyStatusEvent("1", StatusAccepted, Meta{})
	res := r.ApplyStatusEvent("1", StatusShortlisted, Meta{}) // redelivered after reconnect

	if res.Outcome != OutcomeStale {
		t.Errorf("shortlisted after accepted: outcome = %s, want stale", res.Outcome)
	}
	if got, _ := cache.Get("1"); got.Status != StatusAccepted {
		t.Errorf("status = %s, want accepted", got.Status)
	}
}

func TestStatusBefore(t *testing.T) {
	tests := []struct {
		a, b Status
		want bool
	}{
		{StatusPending, StatusShortlisted, true},
		{StatusShortlisted, StatusInterviewed, true},
		{StatusInterviewed, StatusAccepted, true},
		{StatusAccepted, StatusShortlisted, false},
		{StatusAccepted, StatusAccepted, false},
		{StatusAccepted, StatusFilled, true},
		{StatusRejected, StatusFilled, false},
	}

	for _, tt := range tests {
		if got := tt.a.Before(tt.b); got != tt.want {
			t.Errorf("%s.Before(%s) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestApplyStatusEventOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		cached  Status
		id      string
		event   Status
		want    Outcome
		current Status
	}{
		{"pending to shortlisted", StatusPending, "1", StatusShortlisted, OutcomeApplied, StatusShortlisted},
		{"same rank move", StatusShortlisted, "1", StatusInterviewed, OutcomeApplied, StatusInterviewed},
		{"same rank backward", StatusAccepted, "1", StatusShortlisted, OutcomeStale, StatusAccepted},
		{"interviewed behind accepted", StatusAccepted, "1", StatusInterviewed, OutcomeStale, StatusAccepted},
		{"pending to rejected", StatusPending, "1", StatusRejected, OutcomeApplied, StatusRejected},
		{"accepted to filled", StatusAccepted, "1", StatusFilled, OutcomeApplied, StatusFilled},
		{"duplicate", StatusAccepted, "1", StatusAccepted, OutcomeUnchanged, StatusAccepted},
		{"absent", StatusPending, "2", StatusAccepted, OutcomeAbsent, ""},
		{"unknown status", StatusPending, "1", Status("archived"), OutcomeMalformed, Status("archived")},
		{"missing id", StatusPending, "", StatusAccepted, OutcomeMalformed, StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestReconciler(Application{ID: "1", Status: tt.cached})

			res := r.ApplyStatusEvent(tt.id, tt.event, Meta{})

			if res.Outcome != tt.want {
				t.Errorf("outcome = %s, want %s", res.Outcome, tt.want)
			}
			if res.Current != tt.current {
				t.Errorf("current = %q, want %q", res.Current, tt.current)
			}
		})
	}
}

func TestAppliedEventUpdatesMeta(t *testing.T) {
	r, cache := newTestReconciler(Application{ID: "42", JobTitle: "old", Status: StatusPending})

	r.ApplyStatusEvent("42", StatusShortlisted, Meta{JobTitle: "Logo design", CandidateID: "c7"})

	got, _ := cache.Get("42")
	if got.JobTitle != "Logo design" || got.CandidateID != "c7" {
		t.Errorf("meta not applied: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestFilledRaisesRecommendationPrompt(t *testing.T) {
	tests := []struct {
		name   string
		cached Status
		event  Status
		want   int
	}{
		{"accepted to filled", StatusAccepted, StatusFilled, 1},
		{"interviewed to filled", StatusInterviewed, StatusFilled, 0},
		{"shortlisted to filled", StatusShortlisted, StatusFilled, 0},
		{"pending to filled", StatusPending, StatusFilled, 0},
		{"accepted to rejected", StatusAccepted, StatusRejected, 0},
		{"already filled", StatusFilled, StatusFilled, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestReconciler(Application{ID: "1", Status: tt.cached})

			var prompts []RecommendationPrompt
			r.OnRecommendationPrompt(func(p RecommendationPrompt) { prompts = append(prompts, p) })

			r.ApplyStatusEvent("1", tt.event, Meta{})

			if len(prompts) != tt.want {
				t.Fatalf("got %d prompts, want %d", len(prompts), tt.want)
			}
			if tt.want == 1 && (prompts[0].Previous != tt.cached || prompts[0].Application.Status != StatusFilled) {
				t.Errorf("prompt = %+v", prompts[0])
			}
		})
	}
}

func TestCacheSnapshots(t *testing.T) {
	r, cache := newTestReconciler(
		Application{ID: "1", Status: StatusPending},
		Application{ID: "2", Status: StatusPending},
		Application{ID: "1", Status: StatusAccepted},
	)

	if cache.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (duplicate ids collapse)", cache.Len())
	}
	if got, _ := cache.Get("1"); got.Status != StatusAccepted {
		t.Errorf("later duplicate should win, got %s", got.Status)
	}

	before := cache.List()
	r.ApplyStatusEvent("2", StatusRejected, Meta{})
	if before[1].Status != StatusPending {
		t.Error("earlier snapshot was mutated")
	}

	cache.Clear()
	if cache.Len() != 0 {
		t.Errorf("Len = %d after Clear, want 0", cache.Len())
	}
	if _, ok := cache.Get("1"); ok {
		t.Error("Get after Clear should miss")
	}
}
