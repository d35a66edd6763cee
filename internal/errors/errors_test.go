package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestIsStatus(t *testing.T) {
	err := fmt.Errorf("client.RecentActivities: %w", &HTTPError{StatusCode: http.StatusNotFound, Message: "gone"})

	if !IsStatus(err, http.StatusNotFound) {
		t.Error("expected wrapped 404 to match")
	}
	if IsStatus(err, http.StatusInternalServerError) {
		t.Error("404 should not match 500")
	}
	if IsStatus(fmt.Errorf("plain"), http.StatusNotFound) {
		t.Error("plain error should not match")
	}
}

func TestIsUnauthorized(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"http 401", &HTTPError{StatusCode: http.StatusUnauthorized}, true},
		{"wrapped http 401", fmt.Errorf("refresh: %w", &HTTPError{StatusCode: http.StatusUnauthorized}), true},
		{"sentinel", fmt.Errorf("handshake: %w", ErrUnauthorized), true},
		{"http 403", &HTTPError{StatusCode: http.StatusForbidden}, false},
		{"connection", ErrConnection, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnauthorized(tt.err); got != tt.want {
				t.Errorf("IsUnauthorized() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHTTPErrorMessage(t *testing.T) {
	err := &HTTPError{StatusCode: 502, Message: "bad gateway"}
	if got := err.Error(); got != "HTTP 502: bad gateway" {
		t.Errorf("Error() = %q", got)
	}
}

func TestAPIErrorText(t *testing.T) {
	if got := (APIError{Error: "e", Message: "m"}).Text(); got != "e" {
		t.Errorf("Text() = %q, want e", got)
	}
	if got := (APIError{Message: "m"}).Text(); got != "m" {
		t.Errorf("Text() = %q, want m", got)
	}
}
