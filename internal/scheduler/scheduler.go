package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type JobCloser interface {
	CloseExpiredJobs(ctx context.Context, now time.Time) (int64, error)
}

// Scheduler runs periodic maintenance: closing postings past their deadline.
type Scheduler struct {
	cron    *cron.Cron
	closer  JobCloser
	now     func() time.Time
	timeout time.Duration
}

// New registers the close-expired-jobs task on spec, a standard five-field
// cron expression or a descriptor such as "@every 5m".
func New(closer JobCloser, spec string) (*Scheduler, error) {
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelInfo))
	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		closer:  closer,
		now:     time.Now,
		timeout: time.Minute,
	}
	if _, err := s.cron.AddFunc(spec, func() { _, _ = s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid close_jobs_cron %q: %w", spec, err)
	}
	return s, nil
}

// RunOnce closes every open job whose deadline has passed.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.closer.CloseExpiredJobs(ctx, s.now())
	if err != nil {
		slog.Error("closing expired jobs failed", "error", err)
		return 0, err
	}
	if n > 0 {
		slog.Info("closed expired jobs", "count", n)
	}
	return n, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running task to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
