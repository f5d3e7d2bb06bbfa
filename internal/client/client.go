// Package client is a small HTTP client for the promptq API.
package client

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

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/promptq/internal/auth"
	"github.com/inaiurai/promptq/internal/jobs"
	"github.com/inaiurai/promptq/internal/ledger"
	"github.com/inaiurai/promptq/internal/models"
)

// ErrInvalidInterval is returned by Wait for a non-positive poll interval.
var ErrInvalidInterval = errors.New("poll interval must be positive")

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v1",
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) Register(ctx context.Context, username, password string) (*models.Account, error) {
	var acc models.Account
	err := c.do(ctx, http.MethodPost, "/auth/register", auth.CredentialsRequest{Username: username, Password: password}, &acc)
	return &acc, err
}

// Login stores the returned token on the client and returns it.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp auth.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", auth.CredentialsRequest{Username: username, Password: password}, &resp); err != nil {
		return "", err
	}
	c.token = resp.Token
	return resp.Token, nil
}

func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	var resp ledger.BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/balance", nil, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Balance, nil
}

// Adjust deposits (positive) or withdraws (negative) on the caller's account.
func (c *Client) Adjust(ctx context.Context, amount decimal.Decimal) (*models.Transaction, error) {
	var txn models.Transaction
	err := c.do(ctx, http.MethodPost, "/balance/adjust", ledger.AdjustRequest{Amount: amount}, &txn)
	return &txn, err
}

func (c *Client) Transactions(ctx context.Context) ([]*models.Transaction, error) {
	var out []*models.Transaction
	err := c.do(ctx, http.MethodGet, "/transactions", nil, &out)
	return out, err
}

func (c *Client) Submit(ctx context.Context, prompt string) (*jobs.SubmitResponse, error) {
	var resp jobs.SubmitResponse
	err := c.do(ctx, http.MethodPost, "/jobs", jobs.SubmitRequest{Prompt: prompt}, &resp)
	return &resp, err
}

func (c *Client) Poll(ctx context.Context, jobID uuid.UUID) (*jobs.JobView, error) {
	var view jobs.JobView
	err := c.do(ctx, http.MethodGet, "/jobs/"+jobID.String(), nil, &view)
	return &view, err
}

func (c *Client) Jobs(ctx context.Context) ([]*jobs.JobView, error) {
	var out []*jobs.JobView
	err := c.do(ctx, http.MethodGet, "/jobs", nil, &out)
	return out, err
}

// Wait polls every interval until the job is completed or failed. onPoll,
// when set, sees every intermediate view.
func (c *Client) Wait(ctx context.Context, jobID uuid.UUID, interval time.Duration, onPoll func(*jobs.JobView)) (*jobs.JobView, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w, got %s", ErrInvalidInterval, interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		view, err := c.Poll(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if onPoll != nil {
			onPoll(view)
		}
		if models.IsTerminalStatus(view.Status) {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
