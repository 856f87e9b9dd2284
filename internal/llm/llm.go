// Package llm provides the AI generation clients used by the pipeline's
// generation activities: Anthropic and OpenAI over plain HTTP, with rate
// limiting, bounded retries for transient failures, and token usage capture
// for metering.
//
// Generation is treated as a black box with a timeout and a retry budget.
// Provider-side queueing, model routing, and billing reconciliation are the
// provider's concern; this package only classifies outcomes as retryable or
// permanent and reports what the provider said it consumed.
package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultOpenAIBaseURL    = "https://api.openai.com"

	defaultTimeout     = 120 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second
	defaultMaxTokens   = 8192
	defaultTemperature = 0.2

	// Provider rate limits are generous for single prompts but tight for
	// council fan-out; hold bursts at the client rather than burn the
	// activity retry budget on 429s.
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// Provider names used for registry routing and metering metadata.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Request is a single generation request.
type Request struct {
	Model       string
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
}

// Usage reports what the provider consumed serving one request. Cost is the
// provider-reported charge when the gateway supplies one; zero means unknown
// and the metering layer prices tokens from its own table.
type Usage struct {
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	Cost         float64 `json:"cost"`
}

// Response is a completed generation.
type Response struct {
	Content string
	Model   string
	Usage   Usage
	Latency time.Duration
}

// StreamChunk is one increment of a streamed generation. Exactly one
// terminal chunk is delivered before the channel closes: either Done with
// final usage, or Err.
type StreamChunk struct {
	Text  string
	Done  bool
	Usage *Usage
	Err   error
}

// Client generates text from a prompt.
type Client interface {
	// Generate blocks until the provider returns a full completion.
	Generate(ctx context.Context, req Request) (*Response, error)

	// GenerateStream returns a channel of output increments. Cancelling ctx
	// abandons the stream; the channel is always closed after its terminal
	// chunk.
	GenerateStream(ctx context.Context, req Request) (<-chan StreamChunk, error)

	// Provider returns the provider name for routing and metering.
	Provider() string
}

// Config holds the per-provider client settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RateLimit  float64
	Burst      int
}

func (c *Config) applyDefaults(baseURL string) {
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
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

// retryableError wraps an error to indicate it can be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// IsRetryable reports whether err represents a transient provider failure
// (timeouts, 429s, 5xx). Permanent failures such as invalid requests and
// auth errors return false.
func IsRetryable(err error) bool {
	for e := err; e != nil; {
		if _, ok := e.(*retryableError); ok {
			return true
		}
		if unwrapper, ok := e.(interface{ Unwrap() error }); ok {
			e = unwrapper.Unwrap()
		} else {
			break
		}
	}
	return false
}

// Registry routes model identifiers to provider clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: map[string]Client{}}
}

// Register adds or replaces the client for a provider.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Provider()] = c
}

// ForModel returns the client responsible for the given model identifier.
func (r *Registry) ForModel(model string) (Client, error) {
	provider, err := providerForModel(model)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured (model %q)", provider, model)
	}
	return c, nil
}

// Providers returns the names of all registered providers.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}

func providerForModel(model string) (string, error) {
	switch {
	case model == "":
		return "", fmt.Errorf("model is required")
	case strings.HasPrefix(model, "claude"):
		return ProviderAnthropic, nil
	case strings.HasPrefix(model, "gpt"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"),
		strings.HasPrefix(model, "chatgpt"):
		return ProviderOpenAI, nil
	}
	return "", fmt.Errorf("no provider for model %q", model)
}
