package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 1 << 20

type inferenceRequest struct {
	Prompt string `json:"prompt"`
}

type inferenceResponse struct {
	Text string `json:"text"`
}

// HTTPExecutor POSTs {"prompt": input} to an inference service and expects {"text": ...}.
type HTTPExecutor struct {
	url    string
	client *http.Client
}

func NewHTTPExecutor(url string, timeout time.Duration) *HTTPExecutor {
	return &HTTPExecutor{url: url, client: &http.Client{Timeout: timeout}}
}

func (e *HTTPExecutor) Execute(ctx context.Context, input string) (string, error) {
	body, err := json.Marshal(inferenceRequest{Prompt: input})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		// Cancellation is a shutdown, not a verdict on the job.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %v", ErrCompute, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrCompute, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: inference returned %d: %s", ErrCompute, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out inferenceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrCompute, err)
	}
	if out.Text == "" {
		return "", fmt.Errorf("%w: %v", ErrCompute, errEmptyResult)
	}
	return out.Text, nil
}

var errEmptyResult = errors.New("empty result")
