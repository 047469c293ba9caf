// Package openai implements the AIClient port against any OpenAI-compatible
// chat completions endpoint (OpenAI, OpenRouter, Groq, local gateways).
package openai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/feedback-analyzer/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/feedback-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/feedback-analyzer/internal/config"
	"github.com/fairyhunter13/feedback-analyzer/internal/domain"
)

// Client calls an OpenAI-compatible chat completions API with retries.
type Client struct {
	cfg     config.Config
	hc      *http.Client
	counter *tokencount.Counter
}

// New constructs a client with an instrumented transport and a timeout that
// accommodates slow free-tier models.
func New(cfg config.Config) *Client {
	return &Client{
		cfg: cfg,
		hc: &http.Client{
			Timeout:   90 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		counter: tokencount.NewCounter(),
	}
}

func (c *Client) backoffConfig() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	maxElapsed, initial, maxInterval, multiplier := c.cfg.GetAIBackoffConfig()
	expo.MaxElapsedTime = maxElapsed
	expo.InitialInterval = initial
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	return expo
}

type chatRequest struct {
	Model          string        `json:"model"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ChatJSON sends the prompts and returns the raw model content, which is
// expected to be JSON per the schema described in the system prompt.
// Transient failures (timeouts, 429, 5xx) are retried with exponential
// backoff.
func (c *Client) ChatJSON(ctx domain.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	if c.cfg.AIAPIKey == "" {
		return "", fmt.Errorf("%w: AI_API_KEY missing", domain.ErrInvalidArgument)
	}
	if maxTokens <= 0 {
		maxTokens = c.cfg.AIMaxTokens
	}

	promptTokens := c.counter.EstimateChatTokens(systemPrompt, userPrompt, c.cfg.AIModel)
	slog.Debug("ai chat request",
		slog.String("model", c.cfg.AIModel),
		slog.Int("prompt_tokens_est", promptTokens),
		slog.Int("max_tokens", maxTokens))

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.AIModel,
		Temperature: 0.2,
		MaxTokens:   maxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	var content string
	start := time.Now()
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AIBaseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.AIAPIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.hc.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrModel, err)
		}
		defer func() { _ = resp.Body.Close() }()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("%w: read body: %v", domain.ErrModel, err)
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			slog.Warn("ai provider transient error, retrying",
				slog.Int("status", resp.StatusCode),
				slog.String("model", c.cfg.AIModel))
			return fmt.Errorf("%w: status %d", domain.ErrModel, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("%w: status %d: %s", domain.ErrModel, resp.StatusCode, truncate(string(raw), 200)))
		}

		var parsed chatResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: decode response: %v", domain.ErrModel, err))
		}
		if parsed.Error != nil {
			return backoff.Permanent(fmt.Errorf("%w: %s", domain.ErrModel, parsed.Error.Message))
		}
		if len(parsed.Choices) == 0 {
			return fmt.Errorf("%w: empty choices", domain.ErrModel)
		}
		content = parsed.Choices[0].Message.Content
		return nil
	}

	err = backoff.Retry(op, backoff.WithContext(c.backoffConfig(), ctx))
	observability.ObserveAIRequest("chat_json", time.Since(start), err)
	if err != nil {
		return "", err
	}
	return content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
