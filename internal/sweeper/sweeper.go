// Package sweeper runs periodic maintenance jobs, such as purging expired
// password-reset tokens, on cron schedules.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobFunc performs one sweep and reports how many items it removed
type JobFunc func(ctx context.Context) (int64, error)

type job struct {
	name    string
	spec    string
	fn      JobFunc
	timeout time.Duration
}

// Sweeper schedules JobFuncs; overlapping runs of the same job are skipped
type Sweeper struct {
	cron *cron.Cron
	log  *zap.Logger

	mu   sync.Mutex
	jobs []job
}

// New creates a stopped sweeper
func New(log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("sweeper")
	cl := cronLogger{log.Sugar()}
	return &Sweeper{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log: log,
	}
}

// Add schedules fn under name on a cron spec ("@every 10m", "*/5 * * * *").
// Each run gets a context bounded by timeout when timeout is positive.
func (s *Sweeper) Add(name, spec string, timeout time.Duration, fn JobFunc) error {
	j := job{name: name, spec: spec, fn: fn, timeout: timeout}
	if _, err := s.cron.AddFunc(spec, func() { s.run(context.Background(), j) }); err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, j)
	s.mu.Unlock()
	s.log.Info("Job scheduled", zap.String("job", name), zap.String("schedule", spec))
	return nil
}

// RunNow runs every registered job once, synchronously
func (s *Sweeper) RunNow(ctx context.Context) {
	s.mu.Lock()
	jobs := append([]job(nil), s.jobs...)
	s.mu.Unlock()
	for _, j := range jobs {
		s.run(ctx, j)
	}
}

func (s *Sweeper) run(ctx context.Context, j job) {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	start := time.Now()
	n, err := j.fn(ctx)
	if err != nil {
		s.log.Error("Sweep failed", zap.String("job", j.name), zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("Sweep completed",
			zap.String("job", j.name),
			zap.Int64("removed", n),
			zap.Duration("duration", time.Since(start)))
	} else {
		s.log.Debug("Sweep completed, nothing to remove", zap.String("job", j.name))
	}
}

// Start begins running scheduled jobs in the background
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs until ctx is done
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes cron's internal logging to zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
