package activity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eternisai/marketplace-sync/internal/logger"
)

// Refresher is what the scheduler triggers.
type Refresher interface {
	Refresh(ctx context.Context, trigger Trigger) error
}

// Scheduler runs the periodic trigger on a cron schedule while a session is active.
type Scheduler struct {
	spec      string
	schedule  cron.Schedule
	refresher Refresher
	timeout   time.Duration
	logger    *logger.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewScheduler validates spec ("@every 5m", "*/10 * * * *", ...). An empty spec
// returns a nil scheduler, which is valid and never fires.
func NewScheduler(spec string, refresher Refresher, timeout time.Duration, log *logger.Logger) (*Scheduler, error) {
	if spec == "" {
		return nil, nil
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	if log == nil {
		log = logger.Nop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Scheduler{
		spec:      spec,
		schedule:  schedule,
		refresher: refresher,
		timeout:   timeout,
		logger:    log.WithComponent("activity_scheduler"),
	}, nil
}

// Start begins firing periodic refreshes. ctx scopes every refresh; calling
// Start on a running scheduler restarts it.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.Stop()

	ctx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{s.logger}),
		cron.SkipIfStillRunning(cronLogger{s.logger}),
	))
	c.Schedule(s.schedule, cron.FuncJob(func() {
		runCtx, done := context.WithTimeout(ctx, s.timeout)
		defer done()
		if err := s.refresher.Refresh(runCtx, TriggerPeriodic); err != nil {
			s.logger.Debug("periodic refresh failed", slog.String("error", err.Error()))
		}
	}))
	c.Start()

	s.mu.Lock()
	s.cron, s.cancel = c, cancel
	s.mu.Unlock()

	s.logger.Info("periodic refresh scheduled", slog.String("schedule", s.spec))
}

// Stop halts the schedule and cancels a running refresh. It does not wait for
// the job to return.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	c.Stop()
	s.logger.Debug("periodic refresh stopped")
}

// Running reports whether the schedule is active.
func (s *Scheduler) Running() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// cronLogger adapts the slog logger to cron.Logger.
type cronLogger struct {
	l *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)...)
}
