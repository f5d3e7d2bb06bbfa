package compute

import (
	"context"
	"fmt"
	"strings"
)

// EchoExecutor is a deterministic local stand-in for an inference backend.
type EchoExecutor struct{}

func (EchoExecutor) Execute(ctx context.Context, input string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	prompt := strings.TrimSpace(input)
	if prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", ErrCompute)
	}
	return "echo: " + prompt, nil
}
