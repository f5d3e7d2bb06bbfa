package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
)

// InsertTxFunc inserts args inside tx. It is satisfied by a closure over
// (*river.Client[pgx.Tx]).InsertTx.
type InsertTxFunc func(ctx context.Context, tx pgx.Tx, args river.JobArgs) error

var errNotBound = errors.New("river publisher not bound to a client")

// RiverPublisher enqueues envelopes as River jobs inside the admission
// transaction. The River client needs its workers before it can be built and
// the workers need the admission path, so the insert func is bound after
// construction.
type RiverPublisher struct {
	mu     sync.RWMutex
	insert InsertTxFunc
}

func NewRiverPublisher() *RiverPublisher {
	return &RiverPublisher{}
}

// Bind sets the insert function. Call once the River client exists.
func (p *RiverPublisher) Bind(fn InsertTxFunc) {
	p.mu.Lock()
	p.insert = fn
	p.mu.Unlock()
}

// BindClient binds InsertTx of a River client.
func (p *RiverPublisher) BindClient(client *river.Client[pgx.Tx]) {
	p.Bind(func(ctx context.Context, tx pgx.Tx, args river.JobArgs) error {
		_, err := client.InsertTx(ctx, tx, args, nil)
		return err
	})
}

func (p *RiverPublisher) Publish(ctx context.Context, tx pgx.Tx, env Envelope) error {
	if tx == nil {
		return fmt.Errorf("%w: river publish requires a transaction", ErrBrokerUnavailable)
	}
	p.mu.RLock()
	fn := p.insert
	p.mu.RUnlock()
	if fn == nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, errNotBound)
	}
	if err := fn(ctx, tx, env); err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return nil
}

func (p *RiverPublisher) Transactional() bool { return true }
