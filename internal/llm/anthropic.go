package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// anthropicClient implements Client against the Anthropic Messages API.
type anthropicClient struct {
	apiKey     string `json:"-"` // Never serialize API keys
	baseURL    string
	httpClient *http.Client
	// streamClient has no overall timeout; streamed responses outlive any
	// sane per-request deadline and are bounded by ctx instead.
	streamClient *http.Client
	limiter      *rate.Limiter
	maxRetries   int
	baseBackoff  time.Duration
}

// NewAnthropicClient creates a client for the Anthropic Messages API.
func NewAnthropicClient(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key required")
	}
	cfg.applyDefaults(defaultAnthropicBaseURL)

	return &anthropicClient{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		streamClient: &http.Client{},
		limiter:      rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		maxRetries:   cfg.MaxRetries,
		baseBackoff:  defaultBaseBackoff,
	}, nil
}

func (a *anthropicClient) Provider() string { return ProviderAnthropic }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model string         `json:"model"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// anthropicStreamEvent is the union of the SSE event payloads we care about.
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Usage anthropicUsage `json:"usage"`
}

func (a *anthropicClient) buildRequest(req Request, stream bool) anthropicRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	return anthropicRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		System:      req.System,
		Stream:      stream,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.Prompt},
		},
	}
}

// Generate sends the prompt and blocks for the full completion, retrying
// transient failures with exponential backoff.
func (a *anthropicClient) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	body := a.buildRequest(req, false)

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := a.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := a.doRequest(ctx, body)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (a *anthropicClient) doRequest(ctx context.Context, req anthropicRequest) (*Response, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	a.setHeaders(httpReq)

	start := time.Now()
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if err := classifyStatus(resp.StatusCode, body, decodeAnthropicError); err != nil {
		return nil, err
	}

	var msg anthropicResponse
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(msg.Content) == 0 {
		return nil, fmt.Errorf("empty response from API")
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Response{
		Content: text.String(),
		Model:   msg.Model,
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// GenerateStream opens a server-sent-events stream and forwards text deltas
// on the returned channel. The stream is not retried; callers that need a
// retry budget use Generate.
func (a *anthropicClient) GenerateStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	jsonData, err := json.Marshal(a.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	a.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.streamClient.Do(httpReq)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, classifyStatus(resp.StatusCode, body, decodeAnthropicError)
	}

	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		var usage Usage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			payload, ok := ssePayload(scanner.Text())
			if !ok {
				continue
			}

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				continue
			}

			switch event.Type {
			case "message_start":
				usage.InputTokens = event.Message.Usage.InputTokens
			case "content_block_delta":
				if event.Delta.Text == "" {
					continue
				}
				select {
				case ch <- StreamChunk{Text: event.Delta.Text}:
				case <-ctx.Done():
					return
				}
			case "message_delta":
				if event.Usage.OutputTokens > 0 {
					usage.OutputTokens = event.Usage.OutputTokens
				}
			case "message_stop":
				sendTerminal(ctx, ch, StreamChunk{Done: true, Usage: &usage})
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			sendTerminal(ctx, ch, StreamChunk{Err: fmt.Errorf("stream read failed: %w", err)})
			return
		}
		sendTerminal(ctx, ch, StreamChunk{Done: true, Usage: &usage})
	}()

	return ch, nil
}

func (a *anthropicClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", a.apiKey)
	req.Header.Set("Anthropic-Version", "2023-06-01")
}

func decodeAnthropicError(body []byte) string {
	var errResp anthropicError
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return string(body)
}

// classifyStatus converts an HTTP status into nil, a retryable error, or a
// permanent error.
func classifyStatus(status int, body []byte, decodeErr func([]byte) string) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests:
		return &retryableError{err: fmt.Errorf("rate limited (429)")}
	case status >= 500:
		return &retryableError{err: fmt.Errorf("server error (%d): %s", status, decodeErr(body))}
	default:
		return fmt.Errorf("API error (%d): %s", status, decodeErr(body))
	}
}

// ssePayload extracts the JSON payload from a "data:" SSE line.
func ssePayload(line string) (string, bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" || payload == "[DONE]" {
		return "", false
	}
	return payload, true
}

// sendTerminal delivers the final chunk unless the consumer is gone.
func sendTerminal(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) {
	select {
	case ch <- chunk:
	case <-ctx.Done():
	}
}

var _ Client = (*anthropicClient)(nil)
