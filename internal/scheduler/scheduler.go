// Package scheduler runs periodic detection passes on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-archiver/internal/pipeline"
)

// DefaultSchedule runs at the top of every hour.
const DefaultSchedule = "0 * * * *"

const defaultRunTimeout = 10 * time.Minute

// Detector runs one detection pass.
type Detector interface {
	Detect(ctx context.Context) (pipeline.Result, error)
}

// Scheduler triggers the detector on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	cron     *cron.Cron
	detector Detector
	timeout  time.Duration
	logger   *zap.Logger
}

// New builds a Scheduler. A zero timeout bounds each run to ten minutes.
func New(detector Detector, timeout time.Duration, logger *zap.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	cl := cronLogger{logger: logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		detector: detector,
		timeout:  timeout,
		logger:   logger,
	}
}

// Start registers the detection job and starts the cron loop.
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("schedule", schedule))
	return nil
}

// Stop halts the cron loop and waits for a running pass until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}

// RunNow runs one detection pass synchronously.
func (s *Scheduler) RunNow(ctx context.Context) (pipeline.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.detector.Detect(ctx)
}

func (s *Scheduler) run() {
	start := time.Now()
	res, err := s.RunNow(context.Background())
	if err != nil {
		s.logger.Error("scheduled detection failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled detection finished",
		zap.Int("new", len(res.New)),
		zap.Int("retry", len(res.Retry)),
		zap.Duration("duration", time.Since(start)),
	)
}

// cronLogger adapts zap to cron.Logger. Cron's own info chatter goes to debug.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
