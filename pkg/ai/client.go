// Package ai wraps the external generative-AI provider behind a sanitizing,
// rate-limited, circuit-broken client and an explicit orchestration state
// machine. The provider is treated as untrusted, slow and possibly malformed;
// every failure mode downgrades to the deterministic heuristic path instead
// of surfacing an error.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/moatsec/moat/pkg/httputil"
	"github.com/moatsec/moat/pkg/threat"
)

// Provider selects the backend chat-completions service.
type Provider string

const (
	ProviderOpenRouter Provider = "openrouter"
	ProviderGroq       Provider = "groq"
	ProviderOpenAI     Provider = "openai"
	ProviderOllama     Provider = "ollama"
	ProviderCustom     Provider = "custom"
)

// DefaultTemperature keeps classification deterministic.
const DefaultTemperature = 0.1

// Completion is the raw outcome of one chat call plus its token accounting.
type Completion struct {
	Content   string
	TokensIn  int64
	TokensOut int64
}

// Analyzer is the AI-call seam the orchestrator depends on. Tests inject
// fakes here to trigger each failure branch independently.
type Analyzer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error)
	ProviderName() string
	ModelName() string
}

// ClientConfig configures the chat-completions client.
type ClientConfig struct {
	Provider    Provider
	APIKey      string // optional for Ollama
	Model       string
	BaseURL     string  // optional override
	Temperature float64 // defaults to DefaultTemperature
	MaxTokens   int
	Timeout     time.Duration
	RateLimit   float64 // requests per second, <=0 disables limiting
}

// Client talks to an OpenAI-compatible chat endpoint.
type Client struct {
	http        *http.Client
	provider    Provider
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// NewClient builds the provider client. Unset fields get provider defaults.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Model == "" {
		switch cfg.Provider {
		case ProviderOllama:
			cfg.Model = "qwen2.5:7b"
		case ProviderGroq:
			cfg.Model = "llama-3.1-8b-instant"
		default:
			cfg.Model = "nvidia/nemotron-3-nano-30b-a3b:free"
		}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		switch cfg.Provider {
		case ProviderOllama:
			baseURL = "http://localhost:11434/v1"
		case ProviderGroq:
			baseURL = "https://api.groq.com/openai/v1"
		case ProviderOpenAI:
			baseURL = "https://api.openai.com/v1"
		default:
			baseURL = "https://openrouter.ai/api/v1"
		}
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ai-" + string(cfg.Provider),
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Client{
		http:        httputil.NewClient(timeout),
		provider:    cfg.Provider,
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: temperature,
		maxTokens:   cfg.MaxTokens,
		limiter:     limiter,
		breaker:     breaker,
	}
}

func (c *Client) ProviderName() string { return string(c.provider) }
func (c *Client) ModelName() string { return c.model }

// requiresAPIKey reports whether the provider refuses unauthenticated calls.
// Ollama and self-hosted OpenAI-compatible endpoints run keyless.
func requiresAPIKey(p Provider) bool {
	return p != ProviderOllama && p != ProviderCustom
}

// Complete sends one chat-completions request. The rate limiter, circuit
// breaker and bounded retry all live here so the orchestrator only sees a
// single error per attempt.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error) {
	if c.apiKey == "" && requiresAPIKey(c.provider) {
		return nil, fmt.Errorf("API key not configured for provider %s", c.provider)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	var completion *Completion
	_, err := c.breaker.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(2),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				// Cancellation and deadline expiry are not transient.
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			}),
		)
		return nil, r.Do(func() error {
			var callErr error
			completion, callErr = c.call(ctx, req)
			return callErr
		})
	})
	if err != nil {
		if IsTimeout(err) {
			return nil, fmt.Errorf("%w: %v", threat.ErrProviderTimeout, err)
		}
		return nil, err
	}
	return completion, nil
}

func (c *Client) call(ctx context.Context, reqBody chatRequest) (*Completion, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer httputil.DrainAndClose(resp.Body)

	// The provider is untrusted; a misbehaving one must not OOM us.
	body, err := httputil.ReadResponseBody(resp.Body, 2*1024*1024)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: API error %d: %s", threat.ErrProviderFailure, resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("no choices returned")
	}

	return &Completion{
		Content:   parsed.Choices[0].Message.Content,
		TokensIn:  parsed.Usage.PromptTokens,
		TokensOut: parsed.Usage.CompletionTokens,
	}, nil
}

// IsTimeout reports whether an AI-call error was a deadline expiry rather
// than a transport or protocol failure.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, threat.ErrProviderTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
