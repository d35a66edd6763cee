package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRequireSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	session := &Session{UserID: "u-42", Token: "secret"}

	tests := []struct {
		name       string
		current    *Session
		header     string
		wantStatus int
	}{
		{"valid token", session, "Bearer secret", http.StatusOK},
		{"missing header", session, "", http.StatusUnauthorized},
		{"basic auth", session, "Basic c2VjcmV0", http.StatusUnauthorized},
		{"empty bearer", session, "Bearer ", http.StatusUnauthorized},
		{"wrong token", session, "Bearer other", http.StatusUnauthorized},
		{"no session", nil, "Bearer secret", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(RequireSession(func() *Session { return tt.current }))

			var gotUser string
			router.GET("/x", func(c *gin.Context) {
				gotUser, _ = GetUserID(c)
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && gotUser != "u-42" {
				t.Errorf("user id = %q, want u-42", gotUser)
			}
		})
	}
}
