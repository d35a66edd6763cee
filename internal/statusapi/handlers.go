package statusapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eternisai/marketplace-sync/internal/activity"
	"github.com/eternisai/marketplace-sync/internal/api"
	apierrors "github.com/eternisai/marketplace-sync/internal/errors"
	"github.com/eternisai/marketplace-sync/internal/logger"
	"github.com/eternisai/marketplace-sync/internal/notifications"
)

// SessionView is the public part of the current session.
type SessionView struct {
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// StateResponse is returned by GET /v1/state.
type StateResponse struct {
	Connection  string       `json:"connection"`
	Epoch       uint64       `json:"epoch"`
	Session     *SessionView `json:"session"`
	Unread      int          `json:"unread"`
	LastRefresh *time.Time   `json:"lastRefresh,omitempty"`
}

// NotificationsResponse is returned by GET /v1/notifications.
type NotificationsResponse struct {
	Notifications []notifications.Notification `json:"notifications"`
	Unread        int                          `json:"unread"`
}

// ActivityResponse is returned by GET /v1/activity and the refresh triggers.
type ActivityResponse struct {
	Items       []activity.Item     `json:"items"`
	Stats       *api.DashboardStats `json:"stats,omitempty"`
	Unread      int                 `json:"unread"`
	LastRefresh *time.Time          `json:"lastRefresh,omitempty"`
}

// HealthHandler reports liveness.
func HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// StateHandler returns the connection state and the current session.
func StateHandler(b Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := StateResponse{
			Connection:  string(b.ConnectionState()),
			Epoch:       b.Epoch(),
			Unread:      b.Store().UnreadCount(),
			LastRefresh: timePtr(b.Feed().LastRefresh()),
		}
		if s := b.Session(); s != nil {
			resp.Session = &SessionView{UserID: s.UserID, Role: string(s.Role), ExpiresAt: s.ExpiresAt}
		}
		c.JSON(http.StatusOK, resp)
	}
}

// ListNotificationsHandler returns the notification store, newest first.
func ListNotificationsHandler(b Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		store := b.Store()
		c.JSON(http.StatusOK, NotificationsResponse{
			Notifications: store.List(),
			Unread:        store.UnreadCount(),
		})
	}
}

// MarkAllReadHandler marks every stored notification read.
func MarkAllReadHandler(b Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		b.Store().MarkAllRead()
		c.JSON(http.StatusOK, gin.H{"unread": b.Store().UnreadCount()})
	}
}

// ActivityHandler returns the merged activity feed.
func ActivityHandler(b Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, activityResponse(b.Feed()))
	}
}

// RefreshHandler fires a refetch with the given trigger and returns the feed.
// A failed refetch still answers with the cached feed, with status 502.
func RefreshHandler(b Backend, trigger activity.Trigger, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var err error
		if trigger == activity.TriggerVisibility {
			err = b.VisibilityRegained(ctx)
		} else {
			err = b.Refresh(ctx, trigger)
		}

		switch {
		case err == nil:
			c.JSON(http.StatusOK, activityResponse(b.Feed()))
		case errors.Is(err, apierrors.ErrNoSession):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		default:
			log.WithContext(ctx).Warn("refresh request failed",
				slog.String("trigger", string(trigger)),
				slog.String("error", err.Error()))
			c.JSON(http.StatusBadGateway, gin.H{
				"error":    err.Error(),
				"activity": activityResponse(b.Feed()),
			})
		}
	}
}

// MarkActivityReadHandler marks one activity read.
func MarkActivityReadHandler(b Backend, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := b.MarkActivityRead(c.Request.Context(), id); err != nil {
			respondWriteError(c, log, "mark activity read", id, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// DeleteActivityHandler deletes one activity.
func DeleteActivityHandler(b Backend, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := b.DeleteActivity(c.Request.Context(), id); err != nil {
			respondWriteError(c, log, "delete activity", id, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func respondWriteError(c *gin.Context, log *logger.Logger, op, id string, err error) {
	if errors.Is(err, apierrors.ErrNoSession) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	log.WithContext(c.Request.Context()).Warn(op+" failed",
		slog.String("activity_id", id),
		slog.String("error", err.Error()))

	status := http.StatusBadGateway
	var httpErr *apierrors.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func activityResponse(f *activity.Feed) ActivityResponse {
	resp := ActivityResponse{
		Items:       f.Items(),
		Unread:      f.UnreadCount(),
		LastRefresh: timePtr(f.LastRefresh()),
	}
	if stats, ok := f.Stats(); ok {
		resp.Stats = &stats
	}
	return resp
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
