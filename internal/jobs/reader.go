package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/promptq/internal/models"
)

const defaultListLimit = 50

// JobView is what a submitter sees of a job.
type JobView struct {
	JobID       uuid.UUID       `json:"job_id"`
	Status      string          `json:"status"`
	Input       string          `json:"input"`
	Result      *string         `json:"result,omitempty"`
	Price       decimal.Decimal `json:"price"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func newJobView(j *models.Job) *JobView {
	return &JobView{
		JobID:       j.ID,
		Status:      j.Status,
		Input:       j.Input,
		Result:      j.Result,
		Price:       j.Price,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}
}

// Reader serves job state to its owner. It only reads the store and never
// waits on a worker.
type Reader struct {
	store Store
}

func NewReader(store Store) *Reader {
	return &Reader{store: store}
}

// Poll returns the job if accountID owns it, ErrNotFound otherwise.
func (r *Reader) Poll(ctx context.Context, jobID, accountID uuid.UUID) (*JobView, error) {
	job, err := r.store.Read(ctx, jobID, accountID)
	if err != nil {
		return nil, err
	}
	return newJobView(job), nil
}

// List returns the account's most recent jobs, newest first.
func (r *Reader) List(ctx context.Context, accountID uuid.UUID) ([]*JobView, error) {
	list, err := r.store.ListByAccount(ctx, accountID, defaultListLimit)
	if err != nil {
		return nil, err
	}
	out := make([]*JobView, 0, len(list))
	for _, j := range list {
		out = append(out, newJobView(j))
	}
	return out, nil
}
