package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	goredis "github.com/redis/go-redis/v9"

	"github.com/inaiurai/promptq/internal/logging"
	"github.com/inaiurai/promptq/internal/retry"
)

const (
	fieldJobID = "job_id"
	fieldInput = "input"
)

// RedisConfig configures the Redis Streams transport.
type RedisConfig struct {
	Stream   string
	Group    string
	Consumer string
	// ClaimIdle is how long a delivered but unacknowledged message waits before
	// another consumer (or this one) may claim it again.
	ClaimIdle time.Duration
	// BlockTimeout bounds each XREADGROUP wait so shutdown is noticed promptly.
	BlockTimeout time.Duration
	Retry        retry.Config
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = 5 * time.Minute
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 2 * time.Second
	}
	return c
}

// RedisPublisher appends envelopes to a stream with XADD. It cannot join a
// Postgres transaction, so callers publish after commit.
type RedisPublisher struct {
	client goredis.UniversalClient
	stream string
	retry  failsafe.Executor[any]
}

func NewRedisPublisher(client goredis.UniversalClient, cfg RedisConfig) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		stream: cfg.Stream,
		retry:  retry.NewExecutor(cfg.Retry),
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, _ pgx.Tx, env Envelope) error {
	err := retry.Do(ctx, p.retry, func() error {
		return p.client.XAdd(ctx, &goredis.XAddArgs{
			Stream: p.stream,
			Values: map[string]any{
				fieldJobID: env.JobID.String(),
				fieldInput: env.Input,
			},
		}).Err()
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return nil
}

func (p *RedisPublisher) Transactional() bool { return false }

// RedisConsumer reads a stream through a consumer group, one message at a time.
type RedisConsumer struct {
	client goredis.UniversalClient
	cfg    RedisConfig
	ack    failsafe.Executor[any]
	log    logging.Logger
}

func NewRedisConsumer(client goredis.UniversalClient, cfg RedisConfig, log logging.Logger) *RedisConsumer {
	if log == nil {
		log = logging.Discard()
	}
	return &RedisConsumer{
		client: client,
		cfg:    cfg.withDefaults(),
		ack:    retry.NewExecutor(cfg.Retry),
		log:    log.WithField("stream", cfg.Stream),
	}
}

// EnsureGroup creates the stream and consumer group if they do not exist.
func (c *RedisConsumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Consume blocks until ctx is cancelled. Each message is acknowledged only
// after h returns nil; failed messages stay pending and are reclaimed once
// they have been idle for ClaimIdle.
func (c *RedisConsumer) Consume(ctx context.Context, h Handler) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, err := c.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.WithError(err).Warn("read from stream failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.cfg.BlockTimeout):
			}
			continue
		}
		if msg == nil {
			continue
		}
		c.handle(ctx, *msg, h)
	}
}

func (c *RedisConsumer) next(ctx context.Context) (*goredis.XMessage, error) {
	// Abandoned deliveries first, so a crashed consumer's message is not starved by new work.
	claimed, _, err := c.client.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		MinIdle:  c.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if len(claimed) > 0 {
		return &claimed[0], nil
	}

	streams, err := c.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    1,
		Block:    c.cfg.BlockTimeout,
	}).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	for _, s := range streams {
		if len(s.Messages) > 0 {
			return &s.Messages[0], nil
		}
	}
	return nil, nil
}

func (c *RedisConsumer) handle(ctx context.Context, msg goredis.XMessage, h Handler) {
	log := c.log.WithField("message_id", msg.ID)

	env, err := decodeEnvelope(msg.Values)
	if err != nil {
		// Undecodable messages can never succeed; drop them rather than redeliver forever.
		log.WithError(err).Error("dropping malformed message")
		c.acknowledge(ctx, msg.ID)
		return
	}
	log = log.WithField("job_id", env.JobID)

	if err := h(ctx, env); err != nil {
		log.WithError(err).Warn("handler failed, message left pending for redelivery")
		return
	}
	c.acknowledge(ctx, msg.ID)
}

func (c *RedisConsumer) acknowledge(ctx context.Context, id string) {
	err := retry.Do(ctx, c.ack, func() error {
		return c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err()
	})
	if err != nil {
		c.log.WithError(err).WithField("message_id", id).Warn("ack failed, message will be redelivered")
	}
}

// Pending returns the number of delivered but unacknowledged messages.
func (c *RedisConsumer) Pending(ctx context.Context) (int64, error) {
	res, err := c.client.XPending(ctx, c.cfg.Stream, c.cfg.Group).Result()
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

func decodeEnvelope(values map[string]any) (Envelope, error) {
	rawID, _ := values[fieldJobID].(string)
	id, err := uuid.Parse(rawID)
	if err != nil {
		return Envelope{}, fmt.Errorf("invalid %s %q: %w", fieldJobID, rawID, err)
	}
	input, ok := values[fieldInput].(string)
	if !ok {
		return Envelope{}, fmt.Errorf("missing %s", fieldInput)
	}
	return Envelope{JobID: id, Input: input}, nil
}
