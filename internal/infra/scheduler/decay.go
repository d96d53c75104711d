package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-growth/internal/core/domain"
)

// Sweeper runs one decay sweep.
type Sweeper interface {
	RunSweep(ctx context.Context) (domain.SweepReport, error)
}

// DecaySchedule triggers decay sweeps on a cron schedule. Overlapping runs are skipped.
type DecaySchedule struct {
	cron    *cron.Cron
	sweeper Sweeper
	logger  *zap.Logger
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewDecaySchedule parses schedule (standard five-field cron, or descriptors such as @daily)
// evaluated in UTC. timeout bounds a single sweep; zero means unbounded.
func NewDecaySchedule(schedule string, sweeper Sweeper, timeout time.Duration, logger *zap.Logger) (*DecaySchedule, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cronLog := cronLogger{log: logger.Sugar()}
	s := &DecaySchedule{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		sweeper: sweeper,
		logger:  logger,
		timeout: timeout,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		return nil, fmt.Errorf("parse decay schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins firing the schedule in the background.
func (s *DecaySchedule) Start() {
	s.cron.Start()
	for _, entry := range s.cron.Entries() {
		s.logger.Info("decay sweep scheduled", zap.Time("next_run", entry.Next))
	}
}

// Stop cancels a sweep in progress and waits for it to return or for ctx to expire.
func (s *DecaySchedule) Stop(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs one sweep and logs its report.
func (s *DecaySchedule) RunOnce() {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	report, err := s.sweeper.RunSweep(ctx)
	if err != nil {
		s.logger.Error("decay sweep failed", zap.Error(err))
		return
	}

	counts := make(map[domain.DecayActionKind]int)
	for _, action := range report.Actions {
		counts[action.Kind]++
	}
	s.logger.Info("decay sweep finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("warned", counts[domain.DecayActionWarn]),
		zap.Int("downgraded", counts[domain.DecayActionDowngrade]),
		zap.Int("churned", counts[domain.DecayActionChurn]),
		zap.Int("failures", report.Failures),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
