package retry

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// Config bounds an exponential backoff retry.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Retryable decides which errors are worth another attempt. Nil retries
	// every error except context cancellation.
	Retryable func(error) bool
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   2 * time.Second,
	}
}

func normalize(cfg Config) Config {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.Retryable == nil {
		cfg.Retryable = func(error) bool { return true }
	}
	return cfg
}

// NewExecutor builds a failsafe executor with jittered exponential backoff.
func NewExecutor(cfg Config) failsafe.Executor[any] {
	cfg = normalize(cfg)
	policy := retrypolicy.NewBuilder[any]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			return cfg.Retryable(err)
		}).
		Build()
	return failsafe.With[any](policy)
}

// Do runs fn through the executor, stopping early when ctx is done.
func Do(ctx context.Context, executor failsafe.Executor[any], fn func() error) error {
	return executor.WithContext(ctx).Run(fn)
}
