package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction kinds. Direction is carried by the kind; Amount is signed to match
// (debits negative, credits positive) so that an account's balance always equals
// the sum of its transaction amounts.
const (
	TransactionKindCredit = "credit"
	TransactionKindDebit  = "debit"
)

type Transaction struct {
	ID           uuid.UUID       `json:"id"`
	AccountID    uuid.UUID       `json:"account_id"`
	JobID        *uuid.UUID      `json:"job_id,omitempty"`
	Kind         string          `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}
