package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"
)

// BreakerFallbackText is returned in place of a model answer while the
// upstream's circuit breaker is open.
const BreakerFallbackText = "Service temporarily unavailable. Please try again later."

// Default generation parameters, matching the upstream API defaults the
// council relies on.
const (
	defaultMaxTokens   = 2048
	defaultTemperature = 0.7
)

// retryableStatusCodes are HTTP statuses worth another attempt: rate
// limiting plus transient server errors.
var retryableStatusCodes = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// ModelError is the unrecoverable failure of a chat call, after retries
// were exhausted or the upstream rejected the request outright.
type ModelError struct {
	ModelID string
	Err     error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model %s: %v", e.ModelID, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// UpstreamStatusError is a retryable HTTP status from the upstream.
type UpstreamStatusError struct {
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned retryable status %d", e.StatusCode)
}

// UpstreamRejection is a non-retryable upstream failure: an unexpected
// status, a 200 response carrying an error payload, or a malformed body.
type UpstreamRejection struct {
	StatusCode int
	Reason     string
}

func (e *UpstreamRejection) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream rejection (status %d): %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("upstream rejection: %s", e.Reason)
}

// ChatOptions tune a single chat call. Zero values fall back to the
// defaults used across the council flows.
type ChatOptions struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// Client is the resilient OpenRouter client. It owns two pooled HTTP
// clients (a generous one for chat completions, a shorter-lived one for
// metadata calls), the retry policy, and the circuit breaker registry.
// Safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string

	chatHTTP *http.Client
	metaHTTP *http.Client

	breakers *BreakerRegistry
	upstream string

	maxAttempts int
	retryBase   time.Duration
}

// NewClient builds a client from configuration. All models share one
// breaker keyed by the upstream name, so a burst of failures from one
// model trips the breaker for every model routed through that upstream.
func NewClient(cfg *Config, breakers *BreakerRegistry) *Client {
	return &Client{
		baseURL:     cfg.OpenRouterBaseURL,
		apiKey:      cfg.OpenRouterAPIKey,
		chatHTTP:    newPooledClient(cfg.ConnectTimeout, cfg.ChatTimeout),
		metaHTTP:    newPooledClient(cfg.ConnectTimeout, cfg.MetadataTimeout),
		breakers:    breakers,
		upstream:    "openrouter",
		maxAttempts: cfg.MaxRetryAttempts,
		retryBase:   cfg.RetryBaseDelay,
	}
}

// newPooledClient builds an HTTP client over a keep-alive transport so
// repeated upstream calls reuse connections instead of paying per-call
// setup cost. The overall timeout bounds connect + write + read.
func newPooledClient(connectTimeout, totalTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   totalTimeout,
	}
}

// Chat sends one chat-completion request through the breaker and retry
// pipeline and returns the model's text. While the upstream's breaker is
// open it returns BreakerFallbackText without an outbound attempt.
// Unrecoverable failures surface as a *ModelError.
func (c *Client) Chat(ctx context.Context, modelID, prompt string, opts ChatOptions) (string, error) {
	breaker := c.breakers.Get(c.upstream)
	if !breaker.Allow() {
		log.Printf("Circuit breaker %q is open, request to %s blocked", c.upstream, modelID)
		return BreakerFallbackText, nil
	}

	text, err := c.doChat(ctx, modelID, prompt, opts)
	if err != nil {
		breaker.RecordFailure()
		return "", &ModelError{ModelID: modelID, Err: err}
	}

	breaker.RecordSuccess()
	return text, nil
}

// doChat performs the chat exchange with retries but without breaker
// bookkeeping.
func (c *Client) doChat(ctx context.Context, modelID, prompt string, opts ChatOptions) (string, error) {
	var messages []chatMessage
	if opts.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: opts.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	payload, err := json.Marshal(chatRequest{
		Model:       modelID,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.requestWithRetry(ctx, c.chatHTTP, http.MethodPost, c.baseURL+"/chat/completions", payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &UpstreamRejection{StatusCode: resp.StatusCode, Reason: string(body)}
	}

	var data chatResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return "", &UpstreamRejection{Reason: fmt.Sprintf("failed to parse response: %v", err)}
	}

	// A 200 response may still carry an error payload instead of choices
	if data.Error != nil {
		return "", &UpstreamRejection{Reason: "model error: " + data.Error.Message}
	}
	if len(data.Choices) == 0 {
		return "", &UpstreamRejection{Reason: "no choices in response"}
	}

	return data.Choices[0].Message.Content, nil
}

// ListAvailableModels fetches the upstream model catalog. It uses the
// same retry policy as chat calls but the shorter-lived metadata pool and
// no circuit breaker.
func (c *Client) ListAvailableModels(ctx context.Context) ([]AvailableModel, error) {
	resp, err := c.requestWithRetry(ctx, c.metaHTTP, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read models response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamRejection{StatusCode: resp.StatusCode, Reason: string(body)}
	}

	var data modelsResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, &UpstreamRejection{Reason: fmt.Sprintf("failed to parse models response: %v", err)}
	}

	return data.Data, nil
}

// requestWithRetry issues the request up to maxAttempts times, backing
// off exponentially (base * 2^attempt) on network errors and retryable
// statuses. Non-retryable responses are returned to the caller untouched.
func (c *Client) requestWithRetry(ctx context.Context, httpClient *http.Client, method, url string, payload []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := httpClient.Do(req)
		if err != nil {
			// Network-level failure: connection refused/reset or timeout
			lastErr = err
			log.Printf("Network error on attempt %d/%d: %v", attempt+1, c.maxAttempts, err)
			if waitErr := c.backoff(ctx, attempt); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		if retryableStatusCodes[resp.StatusCode] {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = &UpstreamStatusError{StatusCode: resp.StatusCode}
			log.Printf("Retryable status %d on attempt %d/%d", resp.StatusCode, attempt+1, c.maxAttempts)
			if waitErr := c.backoff(ctx, attempt); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxAttempts, lastErr)
}

// backoff sleeps for base * 2^attempt, honoring context cancellation.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	delay := c.retryBase * (1 << attempt)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
