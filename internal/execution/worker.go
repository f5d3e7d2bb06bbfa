// Package execution runs queued jobs: it computes the result and settles the
// job exactly once, however many times the message is delivered.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/inaiurai/promptq/internal/compute"
	"github.com/inaiurai/promptq/internal/jobs"
	"github.com/inaiurai/promptq/internal/logging"
	"github.com/inaiurai/promptq/internal/metrics"
	"github.com/inaiurai/promptq/internal/models"
	"github.com/inaiurai/promptq/internal/queue"
	"github.com/inaiurai/promptq/internal/retry"
)

// JobGetter loads a job without an ownership check.
type JobGetter interface {
	Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
}

// Settler records a terminal outcome. *jobs.Settler implements it.
type Settler interface {
	Settle(ctx context.Context, jobID uuid.UUID, status, result string, refund bool) (*models.Job, bool, error)
}

type Options struct {
	// RefundOnFailure credits the price back when compute fails.
	RefundOnFailure bool
	// ComputeTimeout bounds one Execute call. Zero means no bound.
	ComputeTimeout time.Duration
	Retry          retry.Config
}

// Processor handles one envelope at a time. Process is a queue.Handler.
type Processor struct {
	jobs    JobGetter
	settler Settler
	exec    compute.Executable
	opts    Options
	retry   failsafe.Executor[any]
	log     logging.Logger
}

func NewProcessor(store JobGetter, settler Settler, exec compute.Executable, opts Options, log logging.Logger) *Processor {
	if log == nil {
		log = logging.Discard()
	}
	rc := opts.Retry
	rc.Retryable = func(err error) bool {
		return !errors.Is(err, jobs.ErrNotFound) && !errors.Is(err, jobs.ErrInvalidStatus)
	}
	return &Processor{
		jobs:    store,
		settler: settler,
		exec:    exec,
		opts:    opts,
		retry:   retry.NewExecutor(rc),
		log:     log,
	}
}

// Process returns nil when the message can be acknowledged: the job is
// settled now, was settled before, or does not exist. Any other error leaves
// the message for redelivery.
func (p *Processor) Process(ctx context.Context, env queue.Envelope) error {
	log := p.log.WithField("job_id", env.JobID)

	job, err := p.jobs.Get(ctx, env.JobID)
	if errors.Is(err, jobs.ErrNotFound) {
		log.Warn("message for unknown job, dropping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", env.JobID, err)
	}
	if job.IsTerminal() {
		metrics.Redeliveries.Inc()
		log.WithField("status", job.Status).Info("job already settled, acknowledging redelivery")
		return nil
	}

	status, result, err := p.compute(ctx, env.Input)
	if err != nil {
		log.WithError(err).Warn("compute interrupted, leaving message for redelivery")
		return err
	}
	refund := status == models.JobStatusFailed && p.opts.RefundOnFailure

	var settled *models.Job
	var applied bool
	err = retry.Do(ctx, p.retry, func() error {
		var serr error
		settled, applied, serr = p.settler.Settle(ctx, env.JobID, status, result, refund)
		return serr
	})
	if errors.Is(err, jobs.ErrNotFound) {
		log.Warn("job vanished before settlement, dropping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("settle job %s: %w", env.JobID, err)
	}
	if !applied {
		metrics.Redeliveries.Inc()
		log.WithField("status", settled.Status).Info("job settled concurrently, discarding result")
	}
	return nil
}

// compute runs the job. A compute failure, including hitting the compute
// timeout, becomes a failed outcome. Only cancellation of ctx itself is
// returned as an error.
func (p *Processor) compute(ctx context.Context, input string) (string, string, error) {
	runCtx := ctx
	if p.opts.ComputeTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.opts.ComputeTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := p.exec.Execute(runCtx, input)
	metrics.ComputeDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		return models.JobStatusCompleted, out, nil
	case ctx.Err() != nil:
		return "", "", ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return models.JobStatusFailed, "compute timed out", nil
	case errors.Is(err, compute.ErrCompute):
		return models.JobStatusFailed, err.Error(), nil
	default:
		return models.JobStatusFailed, fmt.Sprintf("%v: %v", compute.ErrCompute, err), nil
	}
}

// RiverWorker feeds River jobs on the generate queue to a Processor.
type RiverWorker struct {
	river.WorkerDefaults[queue.Envelope]
	processor *Processor
	timeout   time.Duration
}

func NewRiverWorker(p *Processor, timeout time.Duration) *RiverWorker {
	return &RiverWorker{processor: p, timeout: timeout}
}

func (w *RiverWorker) Work(ctx context.Context, job *river.Job[queue.Envelope]) error {
	return w.processor.Process(ctx, job.Args)
}

// Timeout leaves room past the compute timeout for settlement. An unbounded
// compute timeout maps to -1, which River reads as no timeout; 0 would fall
// back to the client's JobTimeout.
func (w *RiverWorker) Timeout(*river.Job[queue.Envelope]) time.Duration {
	if w.timeout <= 0 {
		return -1
	}
	return w.timeout + 30*time.Second
}
