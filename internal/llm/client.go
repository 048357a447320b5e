// Package llm is a minimal client for an OpenAI-compatible chat-completions
// service. The sweep treats the service as a black box that turns an
// instruction into one command string.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"
)

const (
	// maxBackoff is the maximum delay between transient-failure retries.
	maxBackoff = 30 * time.Second

	// initialBackoff is the starting retry delay.
	initialBackoff = 1 * time.Second

	// httpTimeout is the default HTTP request timeout. Completions are
	// slow compared to ordinary API calls.
	httpTimeout = 120 * time.Second

	// completionsPath is the OpenAI-compatible endpoint.
	completionsPath = "/v1/chat/completions"
)

// ErrAuthFailed is returned when the service rejects the API key (401/403).
var ErrAuthFailed = fmt.Errorf("completion service rejected the API key; check the configured key environment variable")

// ErrEmptyCompletion is returned when the service responds without any
// usable choice.
var ErrEmptyCompletion = fmt.Errorf("completion service returned no choices")

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxAttempts int
	httpClient  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithModel sets the completion model name.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) Option {
	return func(c *Client) {
		c.temperature = temp
	}
}

// WithMaxAttempts bounds transient-failure retries per Complete call.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithHTTPClient sets a custom http.Client (useful for testing).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a completion client. The baseURL must use HTTPS unless the
// host is localhost or 127.0.0.1; self-hosted inference servers are the
// one legitimate plaintext case.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if err := validateBaseURL(baseURL); err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       "gpt-4o-mini",
		maxAttempts: 3,
		httpClient:  &http.Client{Timeout: httpTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// validateBaseURL ensures the URL uses HTTPS unless the host is localhost/127.0.0.1.
func validateBaseURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	host := u.Hostname()
	if u.Scheme == "http" && host != "localhost" && host != "127.0.0.1" {
		return fmt.Errorf("base URL must use HTTPS (got %s); HTTP is only allowed for localhost", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL must use http or https scheme (got %s)", u.Scheme)
	}

	return nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// chatMessage is one message in the completion request.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the JSON body sent to /v1/chat/completions.
type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

// chatResponse is the subset of the completion response the sweep reads.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// errorResponse is a JSON error returned by the service.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends one system+user exchange and returns the first choice's
// content. It does NOT retry; use CompleteWithRetry for retry behavior.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	body := chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+completionsPath, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	// Read the full response body (capped to prevent OOM on rogue responses).
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB max
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrAuthFailed
	}
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("completion service error %d: %s", resp.StatusCode, errResp.Error.Message)
		}
		return "", fmt.Errorf("completion service error %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", ErrEmptyCompletion
	}

	return parsed.Choices[0].Message.Content, nil
}

// CompleteWithRetry calls Complete with exponential backoff + jitter on
// transient failures, bounded by maxAttempts. Auth failures and empty
// completions are not retried.
func (c *Client) CompleteWithRetry(ctx context.Context, system, user string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		content, err := c.Complete(ctx, system, user)
		if err == nil {
			return content, nil
		}
		if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrEmptyCompletion) {
			return "", err
		}
		lastErr = err

		if attempt == c.maxAttempts {
			break
		}
		delay := backoff(attempt)
		log.Printf("Completion request failed (attempt %d/%d): %v, retrying in %s", attempt, c.maxAttempts, err, delay.Round(time.Millisecond))

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", fmt.Errorf("completion failed after %d attempts: %w", c.maxAttempts, lastErr)
}

// backoff returns a duration for the given attempt using exponential backoff + jitter.
func backoff(attempt int) time.Duration {
	base := float64(initialBackoff) * math.Pow(2, float64(attempt-1))
	if base > float64(maxBackoff) {
		base = float64(maxBackoff)
	}
	// Add jitter: 0.5x to 1.5x
	jitter := 0.5 + rand.Float64()
	return time.Duration(base * jitter)
}
