// Package statusapi is the local HTTP surface of the sync daemon. It exposes the
// session's connection state, notifications and activity feed, and accepts the
// manual and visibility refresh triggers.
package statusapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/eternisai/marketplace-sync/internal/activity"
	"github.com/eternisai/marketplace-sync/internal/auth"
	"github.com/eternisai/marketplace-sync/internal/logger"
	"github.com/eternisai/marketplace-sync/internal/notifications"
	"github.com/eternisai/marketplace-sync/internal/realtime"
)

// Backend is what the status API reads from. *livesync.Service implements it.
type Backend interface {
	Session() *auth.Session
	ConnectionState() realtime.State
	Epoch() uint64
	Store() *notifications.Store
	Feed() *activity.Feed
	Refresh(ctx context.Context, trigger activity.Trigger) error
	VisibilityRegained(ctx context.Context) error
	MarkActivityRead(ctx context.Context, id string) error
	DeleteActivity(ctx context.Context, id string) error
}

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigins string // comma separated; "*" allows any origin
	Gatherer       prometheus.Gatherer
}

// NewRouter registers every route on a new gin engine.
func NewRouter(backend Backend, opts Options, log *logger.Logger) *gin.Engine {
	log = log.WithComponent("status_api")

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(RequestLogMiddleware(log))

	router.GET("/health", HealthHandler())
	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	{
		v1.GET("/state", StateHandler(backend))
		v1.GET("/notifications", ListNotificationsHandler(backend))
		v1.GET("/activity", ActivityHandler(backend))
	}

	// Writes act for the user and need the session token.
	writes := v1.Group("")
	writes.Use(auth.RequireSession(backend.Session))
	{
		writes.POST("/visibility", RefreshHandler(backend, activity.TriggerVisibility, log))
		writes.POST("/notifications/read-all", MarkAllReadHandler(backend))
		writes.POST("/activity/refresh", RefreshHandler(backend, activity.TriggerManual, log))
		writes.POST("/activity/:id/read", MarkActivityReadHandler(backend, log))
		writes.DELETE("/activity/:id", DeleteActivityHandler(backend, log))
	}

	return router
}

// Handler wraps the router with CORS handling.
func Handler(backend Backend, opts Options, log *logger.Logger) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   splitOrigins(opts.AllowedOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
	})
	return c.Handler(NewRouter(backend, opts, log))
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
