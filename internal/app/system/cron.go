package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/logging"
)

// Job is a scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler runs jobs on cron schedules. A job that is still running when its
// next tick arrives is skipped.
type Scheduler struct {
	name    string
	log     *logging.Logger
	cron    *cron.Cron
	timeout time.Duration

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

var _ Service = (*Scheduler)(nil)

// NewScheduler creates a scheduler; timeout bounds each job run (0 = none).
func NewScheduler(name string, timeout time.Duration, log *logging.Logger) *Scheduler {
	if log == nil {
		log = logging.NewDefault(name)
	}
	logger := cronLogger{log: log}
	return &Scheduler{
		name:    name,
		log:     log,
		timeout: timeout,
		ctx:     context.Background(),
		cron: cron.New(cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		)),
	}
}

// Add registers job under spec, e.g. "@every 1m" or "@hourly".
func (s *Scheduler) Add(spec, jobName string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.mu.Lock()
		parent := s.ctx
		s.mu.Unlock()

		ctx := parent
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parent, s.timeout)
			defer cancel()
		}
		ctx = logging.WithTraceID(ctx, logging.NewTraceID())

		started := time.Now()
		entry := s.log.WithContext(ctx).WithField("job", jobName)
		if err := job(ctx); err != nil {
			entry.WithError(err).Warn("scheduled job failed")
			return
		}
		entry.WithField("duration_ms", time.Since(started).Milliseconds()).Debug("scheduled job finished")
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", jobName, spec, err)
	}
	return nil
}

// Entries returns the number of scheduled jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Name() string { return s.name }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.running = true
	s.cron.Start()
	s.log.WithField("jobs", len(s.cron.Entries())).Info("scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("scheduler stopped")
	return nil
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	log *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(context.Background(), kv(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(context.Background(), kv(keysAndValues)).WithError(err).Error(msg)
}

func kv(pairs []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out[fmt.Sprint(pairs[i])] = pairs[i+1]
	}
	return out
}
