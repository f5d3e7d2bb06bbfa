// Package queue carries job envelopes from admission to workers.
//
// Delivery is at-least-once: a message is acknowledged only after the handler
// returns nil, so a crashed or failing worker leaves it for redelivery.
// Handlers must therefore be idempotent per job id.
package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
)

// QueueName is the River queue (and default Redis stream suffix) for compute jobs.
const QueueName = "generate"

// maxAttempts bounds River redeliveries after handler errors. Jobs still
// pending after the last attempt are picked up by the staleness sweep.
const maxAttempts = 5

var ErrBrokerUnavailable = errors.New("broker unavailable")

// Envelope is the queued unit of work.
type Envelope struct {
	JobID uuid.UUID `json:"job_id"`
	Input string    `json:"input"`
}

func (Envelope) Kind() string { return "generate_text" }

// InsertOpts makes River drop a second insert for the same job id.
func (Envelope) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueName,
		MaxAttempts: maxAttempts,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}

// Publisher enqueues envelopes.
//
// A transactional publisher enqueues inside tx, so the message becomes visible
// only if the caller commits. A non-transactional publisher ignores tx and must
// be called after commit.
type Publisher interface {
	Publish(ctx context.Context, tx pgx.Tx, env Envelope) error
	Transactional() bool
}

// Handler processes one envelope. Returning nil acknowledges the message.
type Handler func(ctx context.Context, env Envelope) error

// Consumer delivers envelopes to a handler until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, h Handler) error
}
