// Package compute runs the priced unit of work for a job.
package compute

import (
	"context"
	"errors"
)

// ErrCompute marks a failure of the computation itself. It is terminal: the
// job is settled as failed and the message is not retried.
var ErrCompute = errors.New("compute failed")

// Executable turns a job input into a result.
type Executable interface {
	Execute(ctx context.Context, input string) (string, error)
}

// ExecutableFunc adapts a function to Executable.
type ExecutableFunc func(ctx context.Context, input string) (string, error)

func (f ExecutableFunc) Execute(ctx context.Context, input string) (string, error) {
	return f(ctx, input)
}
