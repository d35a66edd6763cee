package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apierrors "github.com/eternisai/marketplace-sync/internal/errors"
)

func TestRecentActivities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/activities/recent" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("limit"); got != "10" {
			t.Errorf("limit = %q, want 10", got)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "not authenticated"}) //nolint:errcheck
			return
		}
		w.Write([]byte(`[
			{"id": 12, "type": "application", "title": "Nouvelle candidature", "createdAt": "2026-05-04T10:00:00Z"},
			{"id": "a-7", "type": "message", "title": "Nouveau message", "read": true, "createdAt": "2026-05-04T09:00:00Z"}
		]`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL, 0, nil)
	c.SetToken("test-token")

	got, err := c.RecentActivities(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentActivities() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "12" || got[1].ID != "a-7" {
		t.Errorf("ids = %q, %q; want 12, a-7", got[0].ID, got[1].ID)
	}
	if !got[1].Read || got[0].Read {
		t.Errorf("read flags = %v, %v", got[0].Read, got[1].Read)
	}
}

func TestUnauthorizedMatchesSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "token expired"}) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL, 0, nil)
	_, err := c.DashboardStats(context.Background())
	if err == nil {
		t.Fatal("expected error for unauthorized request")
	}
	if !errors.Is(err, apierrors.ErrUnauthorized) {
		t.Errorf("error %v should match ErrUnauthorized", err)
	}
	if !apierrors.IsStatus(err, http.StatusUnauthorized) {
		t.Errorf("IsStatus(401) = false for %v", err)
	}
	if !strings.Contains(err.Error(), "token expired") {
		t.Errorf("error = %q, want server message", err.Error())
	}
}

func TestServerErrorIsNotUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL, 0, nil).RecentActivities(context.Background(), 5)
	if !apierrors.IsStatus(err, http.StatusInternalServerError) {
		t.Errorf("IsStatus(500) = false for %v", err)
	}
	if apierrors.IsUnauthorized(err) {
		t.Error("500 must not be reported as unauthorized")
	}
}

func TestActivityWrites(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, 0, nil)
	if err := c.MarkActivityRead(context.Background(), "a/7"); err != nil {
		t.Fatalf("MarkActivityRead() error: %v", err)
	}
	if err := c.DeleteActivity(context.Background(), "12"); err != nil {
		t.Fatalf("DeleteActivity() error: %v", err)
	}

	want := []string{"POST /activities/a/7/read", "DELETE /activities/12"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestDashboardStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(DashboardStats{Applications: 4, PendingApplications: 2, UnreadMessages: 1}) //nolint:errcheck
	}))
	defer srv.Close()

	stats, err := New(srv.URL, 0, nil).DashboardStats(context.Background())
	if err != nil {
		t.Fatalf("DashboardStats() error: %v", err)
	}
	if stats.Applications != 4 || stats.PendingApplications != 2 || stats.UnreadMessages != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestVerifyTokenUsesGivenToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/verify" || r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, 0, nil)
	c.SetToken("stale")

	if err := c.VerifyToken(context.Background(), "fresh"); err != nil {
		t.Errorf("VerifyToken(fresh) error: %v", err)
	}
	if err := c.VerifyToken(context.Background(), "other"); !apierrors.IsUnauthorized(err) {
		t.Errorf("VerifyToken(other) = %v, want unauthorized", err)
	}
}
