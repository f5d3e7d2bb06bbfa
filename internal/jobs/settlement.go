package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/promptq/internal/database"
	"github.com/inaiurai/promptq/internal/events"
	"github.com/inaiurai/promptq/internal/logging"
	"github.com/inaiurai/promptq/internal/metrics"
	"github.com/inaiurai/promptq/internal/models"
)

// Settler records terminal job outcomes. Workers, admission compensation and
// the staleness sweep all settle through it, so whichever runs first wins and
// the others observe its outcome.
type Settler struct {
	db     database.TxBeginner
	store  Store
	ledger Ledger
	events events.Publisher
	log    logging.Logger
}

func NewSettler(db database.TxBeginner, store Store, ledger Ledger, pub events.Publisher, log logging.Logger) *Settler {
	if pub == nil {
		pub = events.Noop{}
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Settler{db: db, store: store, ledger: ledger, events: pub, log: log}
}

// Settle moves the job to status with result. When refund is set and status
// is failed, the job price is credited back to its owner in the same
// transaction, but only if this call performed the transition; a job is
// never refunded twice. The returned job is the stored state either way.
func (s *Settler) Settle(ctx context.Context, jobID uuid.UUID, status, result string, refund bool) (*models.Job, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer database.Rollback(ctx, tx)

	job, applied, err := s.store.WriteResult(ctx, tx, jobID, status, result)
	if err != nil {
		return nil, false, err
	}
	refunded := false
	if applied && refund && status == models.JobStatusFailed {
		if _, err := s.ledger.Credit(ctx, tx, job.AccountID, job.Price, &job.ID); err != nil {
			return nil, false, fmt.Errorf("refund job %s: %w", jobID, err)
		}
		refunded = true
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	if !applied {
		return job, false, nil
	}

	metrics.JobsSettled.WithLabelValues(status).Inc()
	log := s.log.WithFields(logging.Fields{"job_id": job.ID, "account_id": job.AccountID, "status": status})
	if refunded {
		log = log.WithField("refunded", job.Price.String())
	}
	log.Info("job settled")

	evType := events.TypeJobCompleted
	if status == models.JobStatusFailed {
		evType = events.TypeJobFailed
	}
	if err := s.events.Publish(ctx, events.Event{
		Type:       evType,
		JobID:      job.ID,
		AccountID:  job.AccountID,
		Status:     status,
		Price:      job.Price,
		Refunded:   refunded,
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		log.WithError(err).Warn("publish job event failed")
	}
	return job, true, nil
}
