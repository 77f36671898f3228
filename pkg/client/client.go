// Package client is an HTTP client for the approval gate API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"approval-gate/backend/pkg/models"

	"github.com/cenkalti/backoff/v4"
)

// ErrAwaitTimeout is returned by Await when the workflow is still pending
// after AwaitOptions.MaxWait.
var ErrAwaitTimeout = errors.New("timed out waiting for a decision")

var errStillPending = errors.New("workflow still pending")

// APIError is a non-2xx response from the approval gate.
type APIError struct {
	StatusCode    int
	Message       string
	CurrentStatus models.WorkflowStatus
}

func (e *APIError) Error() string {
	if e.CurrentStatus != "" {
		return fmt.Sprintf("approval gate: %d %s (current status %s)", e.StatusCode, e.Message, e.CurrentStatus)
	}
	return fmt.Sprintf("approval gate: %d %s", e.StatusCode, e.Message)
}

// Client talks to the approval gate over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new Client. A nil httpClient means http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Create requests approval for an action.
func (c *Client) Create(ctx context.Context, req models.CreateWorkflowRequest) (*models.CreateWorkflowResponse, error) {
	var resp models.CreateWorkflowResponse
	if err := c.do(ctx, http.MethodPost, "/v1/workflows", req, http.StatusCreated, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Get fetches the current state of a workflow.
func (c *Client) Get(ctx context.Context, id string) (*models.WorkflowRecord, error) {
	var record models.WorkflowRecord
	if err := c.do(ctx, http.MethodGet, workflowPath(id), nil, http.StatusOK, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Approve resolves a workflow as APPROVED on behalf of reviewer.
func (c *Client) Approve(ctx context.Context, id, reviewer string) (*models.WorkflowRecord, error) {
	return c.review(ctx, workflowPath(id)+"/approve", reviewer)
}

// Reject resolves a workflow as REJECTED on behalf of reviewer.
func (c *Client) Reject(ctx context.Context, id, reviewer string) (*models.WorkflowRecord, error) {
	return c.review(ctx, workflowPath(id)+"/reject", reviewer)
}

func (c *Client) review(ctx context.Context, path, reviewer string) (*models.WorkflowRecord, error) {
	var record models.WorkflowRecord
	if err := c.do(ctx, http.MethodPost, path, models.ReviewRequest{ReviewedBy: reviewer}, http.StatusOK, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// AwaitOptions bounds polling in Await.
type AwaitOptions struct {
	// PollInterval is the first delay between polls; later delays grow up
	// to MaxPollInterval.
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	// MaxWait caps the total time spent waiting. Zero means wait until ctx
	// is done.
	MaxWait time.Duration
	// OnPending, if set, is called after every poll that found the
	// workflow still pending.
	OnPending func(record *models.WorkflowRecord, next time.Duration)
}

// Await polls a workflow until it leaves PENDING and returns the terminal
// record. It gives up with ErrAwaitTimeout after opts.MaxWait; API errors
// such as an unknown id stop polling immediately.
func (c *Client) Await(ctx context.Context, id string, opts AwaitOptions) (*models.WorkflowRecord, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = opts.PollInterval
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = time.Second
	}
	policy.MaxInterval = opts.MaxPollInterval
	if policy.MaxInterval < policy.InitialInterval {
		policy.MaxInterval = policy.InitialInterval
	}
	policy.Multiplier = 1.5
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = opts.MaxWait

	var (
		final   *models.WorkflowRecord
		pending *models.WorkflowRecord
	)
	operation := func() error {
		record, err := c.Get(ctx, id)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
				return backoff.Permanent(err)
			}
			return err
		}
		if record.Status == models.WorkflowStatusPending {
			pending = record
			return errStillPending
		}
		final = record
		return nil
	}
	notify := func(err error, next time.Duration) {
		if errors.Is(err, errStillPending) && opts.OnPending != nil {
			opts.OnPending(pending, next)
		}
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
	switch {
	case err == nil:
		return final, nil
	case errors.Is(err, errStillPending):
		return nil, fmt.Errorf("workflow %s: %w", id, ErrAwaitTimeout)
	default:
		return nil, err
	}
}

func workflowPath(id string) string {
	return "/v1/workflows/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, wantStatus int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		requestBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(requestBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var payload models.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			if payload.Detail != "" {
				apiErr.Message += ": " + payload.Detail
			}
			apiErr.CurrentStatus = payload.CurrentStatus
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}
