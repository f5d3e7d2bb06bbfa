// Package reconcile fails and refunds jobs that stayed pending past the
// point where any worker could still be running them.
package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/inaiurai/promptq/internal/logging"
	"github.com/inaiurai/promptq/internal/metrics"
	"github.com/inaiurai/promptq/internal/models"
)

const (
	staleResult  = "dispatch timed out"
	defaultBatch = 100
)

type StaleLister interface {
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error)
}

type Settler interface {
	Settle(ctx context.Context, jobID uuid.UUID, status, result string, refund bool) (*models.Job, bool, error)
}

type Sweeper struct {
	store      StaleLister
	settler    Settler
	staleAfter time.Duration
	batch      int
	now        func() time.Time
	log        logging.Logger
}

func NewSweeper(store StaleLister, settler Settler, staleAfter time.Duration, log logging.Logger) *Sweeper {
	if log == nil {
		log = logging.Discard()
	}
	return &Sweeper{
		store:      store,
		settler:    settler,
		staleAfter: staleAfter,
		batch:      defaultBatch,
		now:        time.Now,
		log:        log,
	}
}

// Sweep settles every job pending for longer than staleAfter as failed and
// refunds it. It returns how many jobs this call settled. A job a worker
// settles first is left alone.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)
	settled := 0
	for {
		stale, err := s.store.ListStale(ctx, cutoff, s.batch)
		if err != nil {
			return settled, err
		}
		progressed := 0
		for _, job := range stale {
			_, applied, err := s.settler.Settle(ctx, job.ID, models.JobStatusFailed, staleResult, true)
			if err != nil {
				s.log.WithError(err).WithField("job_id", job.ID).Error("settle stale job failed")
				continue
			}
			progressed++
			if applied {
				settled++
				metrics.StaleJobsReconciled.Inc()
			}
		}
		if len(stale) < s.batch || progressed == 0 {
			break
		}
	}
	if settled > 0 {
		s.log.WithField("count", settled).Warn("failed and refunded stale jobs")
	}
	return settled, nil
}

// Run sweeps every interval until ctx is cancelled. It is used when River
// periodic jobs are not available (the Redis backend).
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.log.WithField("interval", interval).Error("stale job sweep disabled: interval must be positive")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.log.WithError(err).Error("stale job sweep failed")
			}
		}
	}
}

// SweepArgs is the River periodic job that triggers a sweep.
type SweepArgs struct{}

func (SweepArgs) Kind() string { return "sweep_stale_jobs" }

func (SweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	sweeper *Sweeper
}

func NewSweepWorker(s *Sweeper) *SweepWorker {
	return &SweepWorker{sweeper: s}
}

func (w *SweepWorker) Work(ctx context.Context, _ *river.Job[SweepArgs]) error {
	_, err := w.sweeper.Sweep(ctx)
	return err
}

// PeriodicJob schedules SweepArgs every interval, starting at client start.
func PeriodicJob(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return SweepArgs{}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}
