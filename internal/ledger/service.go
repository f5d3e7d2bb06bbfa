package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/promptq/internal/database"
	"github.com/inaiurai/promptq/internal/metrics"
	"github.com/inaiurai/promptq/internal/models"
)

const defaultHistoryLimit = 100

// MaxScale is the number of decimal places the NUMERIC(20,4) money columns hold.
const MaxScale = 4

// Store is the persistence surface the service needs. *Repository implements it.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
	Debit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal, jobID *uuid.UUID) (*models.Transaction, error)
	Credit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal, jobID *uuid.UUID) (*models.Transaction, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.Transaction, error)
}

type Service interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
	Debit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal, jobID *uuid.UUID) (*models.Transaction, error)
	Credit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal, jobID *uuid.UUID) (*models.Transaction, error)
	Adjust(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*models.Transaction, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID) ([]*models.Transaction, error)
}

type service struct {
	store Store
}

func NewService(store Store) Service {
	return &service{store: store}
}

var _ Service = (*service)(nil)

func (s *service) GetBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	return s.store.Balance(ctx, accountID)
}

// Debit removes amount from the account inside tx. amount must be positive.
func (s *service) Debit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal, jobID *uuid.UUID) (*models.Transaction, error) {
	if !amount.IsPositive() || !ValidScale(amount) {
		return nil, fmt.Errorf("%w: debit of %s", ErrInvalidAmount, amount)
	}
	t, err := s.store.Debit(ctx, tx, accountID, amount, jobID)
	observe(models.TransactionKindDebit, err)
	return t, err
}

// Credit adds amount to the account inside tx. amount must be positive.
func (s *service) Credit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal, jobID *uuid.UUID) (*models.Transaction, error) {
	if !amount.IsPositive() || !ValidScale(amount) {
		return nil, fmt.Errorf("%w: credit of %s", ErrInvalidAmount, amount)
	}
	t, err := s.store.Credit(ctx, tx, accountID, amount, jobID)
	observe(models.TransactionKindCredit, err)
	return t, err
}

// Adjust applies a signed, non-zero amount in its own transaction:
// positive amounts credit, negative amounts debit their absolute value.
func (s *service) Adjust(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*models.Transaction, error) {
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: adjustment must be non-zero", ErrInvalidAmount)
	}
	if !ValidScale(amount) {
		return nil, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount, MaxScale)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer database.Rollback(ctx, tx)

	var t *models.Transaction
	if amount.IsPositive() {
		t, err = s.Credit(ctx, tx, accountID, amount, nil)
	} else {
		t, err = s.Debit(ctx, tx, accountID, amount.Neg(), nil)
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// ValidScale reports whether amount fits the stored precision without rounding.
// Postgres rounds the balance expression and the ledger row separately, so an
// over-precise amount would leave them disagreeing.
func ValidScale(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(MaxScale))
}

func (s *service) ListTransactions(ctx context.Context, accountID uuid.UUID) ([]*models.Transaction, error) {
	return s.store.ListTransactions(ctx, accountID, defaultHistoryLimit)
}

func observe(kind string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientFunds):
		result = "insufficient_funds"
	case errors.Is(err, ErrAccountNotFound):
		result = "account_not_found"
	default:
		result = "error"
	}
	metrics.LedgerOperations.WithLabelValues(kind, result).Inc()
}
