package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/eternisai/marketplace-sync/internal/auth"
	"github.com/eternisai/marketplace-sync/internal/config"
	"github.com/eternisai/marketplace-sync/internal/livesync"
	"github.com/eternisai/marketplace-sync/internal/logger"
	"github.com/eternisai/marketplace-sync/internal/metrics"
	"github.com/eternisai/marketplace-sync/internal/realtime"
	"github.com/eternisai/marketplace-sync/internal/relay"
	"github.com/eternisai/marketplace-sync/internal/statusapi"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	gin.SetMode(gin.ReleaseMode)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	validator, err := auth.NewTokenValidator(context.Background(), cfg.JWTJWKSURL)
	if err != nil {
		log.Error("failed to create token validator", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.JWTJWKSURL == "" {
		log.Warn("⚠️  JWT_JWKS_URL not set, token signatures are not verified")
	}

	deps := livesync.Deps{
		Validator: validator,
		Metrics:   m,
		Logger:    log,
	}

	if cfg.NatsURL != "" {
		nc, err := relay.Connect(cfg.NatsURL, log)
		if err != nil {
			log.Error("nats unavailable, relay disabled", slog.String("error", err.Error()))
		} else {
			defer nc.Drain() //nolint:errcheck
			deps.Publisher = nc
		}
	}

	svc, err := livesync.New(cfg, deps)
	if err != nil {
		log.Error("failed to create sync service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	svc.OnStateChange(func(from, to realtime.State, epoch uint64) {
		log.Info("🔌 connection state changed",
			slog.String("from", string(from)),
			slog.String("to", string(to)),
			slog.Uint64("epoch", epoch))
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go drainToasts(ctx, svc, log)

	srv := &http.Server{
		Addr:              ":" + cfg.StatusPort,
		Handler:           statusapi.Handler(svc, statusapi.Options{AllowedOrigins: cfg.CORSAllowedOrigins, Gatherer: reg}, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("🔁 status api listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("status api failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	if cfg.AuthToken != "" {
		if _, err := svc.Login(ctx, cfg.AuthToken); err != nil {
			log.Error("login failed, staying disconnected", slog.String("error", err.Error()))
		}
	}

	<-ctx.Done()
	log.Info("🛑 shutting down")

	svc.Logout()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("status api forced to shutdown", slog.String("error", err.Error()))
	}

	log.Info("✅ sync daemon exited")
}

// drainToasts logs toasts and recommendation prompts. A desktop front end would
// render them instead.
func drainToasts(ctx context.Context, svc *livesync.Service, log *logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-svc.Toasts():
			log.Info(t.Icon+" "+t.Title,
				slog.String("message", t.Message),
				slog.String("level", string(t.Level)),
				slog.Duration("duration", t.Duration))
		case p := <-svc.RecommendationPrompts():
			log.Info("⭐ application filled, time to recommend the freelancer",
				slog.String("application_id", p.Application.ID),
				slog.String("job_title", p.Application.JobTitle))
		}
	}
}
