// Package events publishes job lifecycle notifications for downstream consumers.
// Delivery is best effort: a lost event never affects a job or a balance.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TypeJobSubmitted = "job.submitted"
	TypeJobCompleted = "job.completed"
	TypeJobFailed    = "job.failed"
)

type Event struct {
	Type       string          `json:"type"`
	JobID      uuid.UUID       `json:"job_id"`
	AccountID  uuid.UUID       `json:"account_id"`
	Status     string          `json:"status"`
	Price      decimal.Decimal `json:"price"`
	Refunded   bool            `json:"refunded,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Noop discards events. Used when no Kafka brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }
