// Package docstore is the client for the phase document service, the
// external store holding each phase's context documents keyed by
// (project, issue, kind). Documents are overwrite-only: a regenerated
// phase replaces its document, it never appends.
package docstore

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

	"github.com/fyrsmithlabs/specd/internal/phasedoc"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 250 * time.Millisecond
)

// Document is one stored phase document.
type Document struct {
	Kind      phasedoc.DocumentKind `json:"kind"`
	Content   string                `json:"content"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// Client is the document store surface the pipeline depends on.
type Client interface {
	// GetPhaseDocument returns the stored document, or (nil, nil) when the
	// store has none for this key. Absence is a normal answer, not an
	// error; callers branch on it to fall back to legacy decode paths.
	GetPhaseDocument(ctx context.Context, projectID, issueID string, kind phasedoc.DocumentKind) (*Document, error)

	// SavePhaseDocument stores content under the key, replacing any
	// previous version.
	SavePhaseDocument(ctx context.Context, projectID, issueID string, kind phasedoc.DocumentKind, content string) error
}

// Config holds document store client settings.
type Config struct {
	// BaseURL is the document service root, e.g. "https://docs.example.com".
	BaseURL string

	// Token authenticates this worker to the document service.
	Token string `json:"-"` // Never serialize API tokens

	Timeout    time.Duration
	MaxRetries int
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
}

// client implements Client against the document service REST API.
type client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// NewClient creates a document store client.
func NewClient(cfg Config) (Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("docstore base URL required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("docstore token required")
	}
	cfg.applyDefaults()

	return &client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		maxRetries:  cfg.MaxRetries,
		baseBackoff: defaultBaseBackoff,
	}, nil
}

func (c *client) documentURL(projectID, issueID string, kind phasedoc.DocumentKind) string {
	return fmt.Sprintf("%s/api/v1/projects/%s/issues/%s/documents/%s",
		c.baseURL, url.PathEscape(projectID), url.PathEscape(issueID), url.PathEscape(string(kind)))
}

// GetPhaseDocument returns the stored document, or (nil, nil) when absent.
func (c *client) GetPhaseDocument(ctx context.Context, projectID, issueID string, kind phasedoc.DocumentKind) (*Document, error) {
	var doc *Document
	err := c.withRetry(ctx, "get phase document", func() error {
		req, err := http.NewRequestWithContext(ctx, "GET", c.documentURL(projectID, issueID, kind), nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		c.setHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &retryableError{err: fmt.Errorf("docstore request failed: %w", err)}
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			doc = nil
			return nil
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if err := classifyStatus(resp.StatusCode, body); err != nil {
			return err
		}

		var d Document
		if err := json.Unmarshal(body, &d); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		d.Kind = kind
		doc = &d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// SavePhaseDocument stores content under the key, replacing any previous
// version.
func (c *client) SavePhaseDocument(ctx context.Context, projectID, issueID string, kind phasedoc.DocumentKind, content string) error {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	return c.withRetry(ctx, "save phase document", func() error {
		req, err := http.NewRequestWithContext(ctx, "PUT", c.documentURL(projectID, issueID, kind), bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		c.setHeaders(req)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &retryableError{err: fmt.Errorf("docstore request failed: %w", err)}
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		return classifyStatus(resp.StatusCode, body)
	})
}

func (c *client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
}

// withRetry runs op, retrying transient failures with exponential backoff.
func (c *client) withRetry(ctx context.Context, operation string, op func() error) error {
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

		err := op()
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

func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return &retryableError{err: fmt.Errorf("rate limited (429)")}
	case status >= 500:
		return &retryableError{err: fmt.Errorf("docstore server error (%d)", status)}
	default:
		return fmt.Errorf("docstore error (%d): %s", status, body)
	}
}

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
