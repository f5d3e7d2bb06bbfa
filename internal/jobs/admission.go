package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/promptq/internal/database"
	"github.com/inaiurai/promptq/internal/events"
	"github.com/inaiurai/promptq/internal/ledger"
	"github.com/inaiurai/promptq/internal/logging"
	"github.com/inaiurai/promptq/internal/metrics"
	"github.com/inaiurai/promptq/internal/models"
	"github.com/inaiurai/promptq/internal/queue"
)

const dispatchFailedResult = "dispatch failed: broker unavailable"

// Admission accepts a job only once it is paid for: the price is debited and
// the pending job recorded in one transaction before the job is published.
type Admission struct {
	db        database.TxBeginner
	store     Store
	ledger    Ledger
	publisher queue.Publisher
	validator *Validator
	settler   *Settler
	events    events.Publisher
	price     decimal.Decimal
	log       logging.Logger
}

func NewAdmission(
	db database.TxBeginner,
	store Store,
	ledger Ledger,
	publisher queue.Publisher,
	validator *Validator,
	settler *Settler,
	pub events.Publisher,
	price decimal.Decimal,
	log logging.Logger,
) *Admission {
	if pub == nil {
		pub = events.Noop{}
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Admission{
		db:        db,
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		validator: validator,
		settler:   settler,
		events:    pub,
		price:     price,
		log:       log,
	}
}

// Price is flat per job.
func (a *Admission) Price(string) decimal.Decimal {
	return a.price
}

// Submit validates, prices, debits, records and publishes a job, in that order.
// On ledger.ErrInsufficientFunds nothing is created or published.
func (a *Admission) Submit(ctx context.Context, accountID uuid.UUID, input string) (*models.Job, error) {
	if err := a.validator.ValidatePrompt(input); err != nil {
		observeSubmit(err)
		return nil, err
	}

	job := &models.Job{
		ID:        uuid.New(),
		AccountID: accountID,
		Input:     input,
		Status:    models.JobStatusPending,
		Price:     a.Price(input),
	}
	log := a.log.WithFields(logging.Fields{"job_id": job.ID, "account_id": accountID})

	tx, err := a.db.Begin(ctx)
	if err != nil {
		observeSubmit(err)
		return nil, err
	}
	defer database.Rollback(ctx, tx)

	if _, err := a.ledger.Debit(ctx, tx, accountID, job.Price, &job.ID); err != nil {
		observeSubmit(err)
		return nil, err
	}
	if err := a.store.CreatePending(ctx, tx, job); err != nil {
		observeSubmit(err)
		return nil, err
	}

	env := queue.Envelope{JobID: job.ID, Input: input}
	if a.publisher.Transactional() {
		if err := a.publisher.Publish(ctx, tx, env); err != nil {
			observeSubmit(err)
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		observeSubmit(err)
		return nil, err
	}

	if !a.publisher.Transactional() {
		if err := a.publisher.Publish(ctx, nil, env); err != nil {
			log.WithError(err).Error("publish after commit failed, failing job and refunding")
			a.compensate(ctx, job)
			observeSubmit(err)
			return nil, err
		}
	}

	observeSubmit(nil)
	log.WithField("price", job.Price.String()).Info("job admitted")
	if err := a.events.Publish(ctx, events.Event{
		Type:       events.TypeJobSubmitted,
		JobID:      job.ID,
		AccountID:  accountID,
		Status:     job.Status,
		Price:      job.Price,
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		log.WithError(err).Warn("publish job event failed")
	}
	return job, nil
}

// compensate fails a committed job that could not be published and refunds
// it. If this also fails the job stays pending and the staleness sweep
// refunds it later.
func (a *Admission) compensate(ctx context.Context, job *models.Job) {
	ctx = context.WithoutCancel(ctx)
	if _, _, err := a.settler.Settle(ctx, job.ID, models.JobStatusFailed, dispatchFailedResult, true); err != nil {
		a.log.WithError(err).WithField("job_id", job.ID).Error("compensation failed, leaving job for the staleness sweep")
	}
}

func observeSubmit(err error) {
	result := "accepted"
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrInsufficientFunds):
		result = "insufficient_funds"
	case errors.Is(err, ErrInvalidInput):
		result = "invalid"
	case errors.Is(err, queue.ErrBrokerUnavailable):
		result = "broker_unavailable"
	default:
		result = "error"
	}
	metrics.JobsSubmitted.WithLabelValues(result).Inc()
}
