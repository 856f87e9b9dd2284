package tracker

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

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/specd/internal/automation"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 500 * time.Millisecond
	defaultRateLimit   = 10.0
	defaultBurst       = 20
)

// Config holds tracker client settings.
type Config struct {
	// BaseURL is the tracker API root, e.g. "https://tracker.example.com/api".
	BaseURL string

	// Token is the per-organization API token. The acquisition and refresh
	// of tokens happens outside this process.
	Token string `json:"-"` // Never serialize API tokens

	Timeout    time.Duration
	MaxRetries int
	RateLimit  float64
	Burst      int
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RateLimit <= 0 {
		c.RateLimit = defaultRateLimit
	}
	if c.Burst <= 0 {
		c.Burst = defaultBurst
	}
}

// GraphQL documents for the three operations the pipeline performs.
const (
	taskQuery = `query Task($projectId: String!, $taskId: String!) {
  task(projectId: $projectId, id: $taskId) {
    id
    identifier
    title
    description
    status
    priority
  }
}`

	updateTaskMutation = `mutation UpdateTask($projectId: String!, $taskId: String!, $status: String!) {
  taskUpdate(projectId: $projectId, id: $taskId, input: {status: $status}) {
    success
  }
}`

	createCommentMutation = `mutation CreateComment($projectId: String!, $taskId: String!, $body: String!) {
  commentCreate(projectId: $projectId, taskId: $taskId, body: $body) {
    success
  }
}`
)

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// client implements Client over the tracker's GraphQL-over-HTTP endpoint.
type client struct {
	endpoint    string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
}

// NewClient creates an authenticated tracker client. The token is attached
// via an oauth2 transport so every request carries a Bearer header.
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("tracker base URL required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("tracker token required")
	}
	cfg.applyDefaults()

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	httpClient := oauth2.NewClient(ctx, ts)
	httpClient.Timeout = cfg.Timeout

	return &client{
		endpoint:    strings.TrimRight(cfg.BaseURL, "/") + "/graphql",
		httpClient:  httpClient,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		maxRetries:  cfg.MaxRetries,
		baseBackoff: defaultBaseBackoff,
	}, nil
}

// SyncTask fetches the current task state.
func (c *client) SyncTask(ctx context.Context, taskID, projectID string) (*Task, error) {
	var data struct {
		Task *Task `json:"task"`
	}
	err := c.do(ctx, "sync task", taskQuery, map[string]any{
		"projectId": projectID,
		"taskId":    taskID,
	}, &data)
	if err != nil {
		return nil, err
	}
	if data.Task == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return data.Task, nil
}

// UpdateTaskStatus moves the task to the named workflow status.
func (c *client) UpdateTaskStatus(ctx context.Context, projectID, taskID, status string) error {
	var data struct {
		TaskUpdate struct {
			Success bool `json:"success"`
		} `json:"taskUpdate"`
	}
	err := c.do(ctx, "update task status", updateTaskMutation, map[string]any{
		"projectId": projectID,
		"taskId":    taskID,
		"status":    status,
	}, &data)
	if err != nil {
		return err
	}
	if !data.TaskUpdate.Success {
		return fmt.Errorf("tracker rejected status %q for task %s", status, taskID)
	}
	return nil
}

// AppendPhaseResult posts the phase output as a comment, under a heading
// naming the phase so the task's activity feed reads chronologically.
func (c *client) AppendPhaseResult(ctx context.Context, projectID, taskID string, phase automation.Phase, markdown string) error {
	var data struct {
		CommentCreate struct {
			Success bool `json:"success"`
		} `json:"commentCreate"`
	}
	err := c.do(ctx, "append phase result", createCommentMutation, map[string]any{
		"projectId": projectID,
		"taskId":    taskID,
		"body":      fmt.Sprintf("## %s\n\n%s", phase.Title(), markdown),
	}, &data)
	if err != nil {
		return err
	}
	if !data.CommentCreate.Success {
		return fmt.Errorf("tracker rejected phase comment for task %s", taskID)
	}
	return nil
}

// do executes one GraphQL operation, retrying transient failures with
// exponential backoff.
func (c *client) do(ctx context.Context, operation, query string, variables map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.post(ctx, body, out)
		if err == nil {
			return nil
		}

		lastErr = err
		if !isRetryable(err) {
			return fmt.Errorf("%s: %w", operation, err)
		}
	}

	return fmt.Errorf("%s: max retries exceeded: %w", operation, lastErr)
}

func (c *client) post(ctx context.Context, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("tracker request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return &retryableError{err: fmt.Errorf("rate limited (429)")}
	case resp.StatusCode >= 500:
		return &retryableError{err: fmt.Errorf("tracker server error (%d)", resp.StatusCode)}
	default:
		return fmt.Errorf("tracker error (%d): %s", resp.StatusCode, respBody)
	}

	var envelope graphqlResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("tracker API error: %s", envelope.Errors[0].Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to parse response data: %w", err)
		}
	}
	return nil
}

// retryableError marks failures worth retrying: rate limits, 5xx responses,
// and transport errors. GraphQL-level errors are permanent.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

var _ Client = (*client)(nil)
