// Package scheduler runs the commons' two background workers — the
// quality signal aggregator and the distillation job — each on its own
// fixed interval, until the process shuts down.
package scheduler

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hivemind-ai/hivemind/pkg/shared/logging"
)

// AggregationInterval is how often the quality signal aggregator runs.
const AggregationInterval = 10 * time.Minute

// DistillationInterval is how often the distillation job runs. Its own
// short-circuit thresholds decide whether a given tick does any work —
// the scheduler itself carries no threshold logic.
const DistillationInterval = 30 * time.Minute

// Runnable is anything that ticks its own work on interval until ctx is
// cancelled. *quality.Aggregator and *distillation.Job both satisfy this
// directly.
type Runnable interface {
	Run(ctx context.Context, interval time.Duration) error
}

// Scheduler starts every registered Runnable on its configured interval
// and waits for all of them to stop. Each background job is also handed a
// logr.Logger bridged off the process's zap logger via zapr, the logging
// seam controller-style background workers expect.
type Scheduler struct {
	logger     *zap.Logger
	logrLogger logr.Logger
	jobs       []registeredJob
}

type registeredJob struct {
	name     string
	runnable Runnable
	interval time.Duration
}

func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{logger: logger, logrLogger: zapr.NewLogger(logger)}
}

// Register adds a named job to the scheduler. Call Register for every job
// before calling Run.
func (s *Scheduler) Register(name string, runnable Runnable, interval time.Duration) {
	s.jobs = append(s.jobs, registeredJob{name: name, runnable: runnable, interval: interval})
}

// Run starts every registered job concurrently and blocks until ctx is
// cancelled or one job returns a non-context-cancellation error, in which
// case the rest are cancelled too.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		job := job
		s.logrLogger.Info("scheduler: job registered", "job", job.name, "interval", job.interval.String())
		g.Go(func() error {
			err := job.runnable.Run(ctx, job.interval)
			if err != nil && err != context.Canceled {
				s.logWarn("scheduler: job exited with error", job.name, err)
				s.logrLogger.Error(err, "scheduler: job exited with error", "job", job.name)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) logWarn(msg, job string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(msg, logging.NewFields().Component("scheduler").Operation(job).Error(err).Zap()...)
}
