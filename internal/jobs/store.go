package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/promptq/internal/models"
)

// Store is the job store surface used by admission, settlement and reads.
// *Repository implements it.
type Store interface {
	CreatePending(ctx context.Context, tx pgx.Tx, job *models.Job) error
	WriteResult(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, status, result string) (*models.Job, bool, error)
	Read(ctx context.Context, jobID, accountID uuid.UUID) (*models.Job, error)
	Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.Job, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error)
}

// Ledger is the part of ledger.Service that admission and settlement need.
type Ledger interface {
	Debit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal, jobID *uuid.UUID) (*models.Transaction, error)
	Credit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal, jobID *uuid.UUID) (*models.Transaction, error)
}

var _ Store = (*Repository)(nil)
