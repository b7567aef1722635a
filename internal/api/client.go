package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clarigen/clarigen/internal/config"
)

// ErrorClass classifies endpoint failures for the caller's retry policy.
// The client performs no retries itself: whether and how often to retry is
// the task controller's decision.
type ErrorClass string

const (
	ClassRateLimited      ErrorClass = "rate-limited"
	ClassTransientNetwork ErrorClass = "transient-network"
	ClassMalformedRequest ErrorClass = "malformed-request"
	ClassServerError      ErrorClass = "server-error"
)

// APIError represents a classified error from the completion endpoint
type APIError struct {
	Message    string
	StatusCode int
	Class      ErrorClass
	Retryable  bool
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error (status %d, %s): %s", e.StatusCode, e.Class, e.Message)
	}
	return fmt.Sprintf("API error (%s): %s", e.Class, e.Message)
}

// Classify extracts the error class from an endpoint error, or ClassServerError
// for errors without classification.
func Classify(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ClassServerError
}

// IsRetryable reports whether an error is worth another attempt.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return false
}

// Client issues single chat-completion exchanges against one endpoint.
// Request pacing goes through a shared rate limiter; retry policy lives in
// the task controller.
type Client struct {
	httpClient *http.Client
	limiters   *RateLimiterPool
	cfg        config.ModelConfig
	apiKey     string
	logger     *slog.Logger
}

// NewClient creates a new API client for the configured model endpoint
func NewClient(cfg config.ModelConfig, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
		},
		limiters: NewRateLimiterPool(),
		cfg:      cfg,
		apiKey:   apiKey,
		logger:   logger,
	}
}

// ChatCompletion performs exactly one request/response exchange. It returns
// the assistant content and the usage counters, or a classified *APIError.
func (c *Client) ChatCompletion(ctx context.Context, messages []Message, maxTokens int) (string, Usage, error) {
	modelID := fmt.Sprintf("%s:%s", c.cfg.BaseURL, c.cfg.ModelName)
	if err := c.limiters.Wait(ctx, modelID, c.cfg.RateLimitPerMinute); err != nil {
		return "", Usage{}, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	req := ChatCompletionRequest{
		Model:       c.cfg.ModelName,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   maxTokens,
		Stream:      false,
	}
	if c.cfg.Reasoning {
		req.Thinking = &Thinking{Type: "enabled"}
	}
	if c.cfg.UseJSONMode {
		req.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	return c.doRequest(ctx, req)
}

func (c *Client) doRequest(ctx context.Context, req ChatCompletionRequest) (string, Usage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", Usage{}, ctx.Err()
		}
		return "", Usage{}, &APIError{
			Message:   fmt.Sprintf("request failed: %v", err),
			Class:     ClassTransientNetwork,
			Retryable: true,
		}
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", Usage{}, &APIError{
			Message:   fmt.Sprintf("failed to read response: %v", err),
			Class:     ClassTransientNetwork,
			Retryable: true,
		}
	}

	if httpResp.StatusCode != http.StatusOK {
		return "", Usage{}, c.classifyStatus(httpResp.StatusCode, respBody)
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		// An interrupted transfer leaves a syntactically broken body
		return "", Usage{}, &APIError{
			Message:   fmt.Sprintf("incomplete response body (%d bytes): %v", len(respBody), err),
			Class:     ClassTransientNetwork,
			Retryable: true,
		}
	}

	if len(resp.Choices) == 0 {
		return "", resp.Usage, &APIError{
			Message:   "no choices returned in response",
			Class:     ClassServerError,
			Retryable: true,
		}
	}

	choice := resp.Choices[0]
	usage := resp.Usage
	c.logUsage(usage, choice.FinishReason)

	content := choice.Message.Content
	if strings.TrimSpace(content) == "" {
		// Reasoning models can exhaust max_tokens during the reasoning phase
		// and return an empty content field.
		return "", usage, &APIError{
			Message: fmt.Sprintf("empty content (finish_reason=%s, reasoning_tokens=%d)",
				choice.FinishReason, usage.CompletionTokensDetails.ReasoningTokens),
			Class:     ClassServerError,
			Retryable: true,
		}
	}

	if choice.FinishReason == "length" {
		c.logger.Warn("Output truncated at max_tokens; partial records will be recovered",
			"completion_tokens", usage.CompletionTokens,
			"reasoning_tokens", usage.CompletionTokensDetails.ReasoningTokens)
	}

	return content, usage, nil
}

func (c *Client) classifyStatus(statusCode int, body []byte) *APIError {
	message := string(body)
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	apiErr := &APIError{
		Message:    message,
		StatusCode: statusCode,
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		apiErr.Class = ClassRateLimited
		apiErr.Retryable = true
	case statusCode >= 500:
		apiErr.Class = ClassServerError
		apiErr.Retryable = true
	default:
		apiErr.Class = ClassMalformedRequest
		apiErr.Retryable = false
	}
	return apiErr
}

func (c *Client) logUsage(usage Usage, finishReason string) {
	attrs := []any{
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"total_tokens", usage.TotalTokens,
		"finish_reason", finishReason,
	}
	if usage.PromptCacheHitTokens > 0 {
		attrs = append(attrs,
			"cache_hit_tokens", usage.PromptCacheHitTokens,
			"cache_miss_tokens", usage.PromptCacheMissTokens,
			"cache_hit_rate", fmt.Sprintf("%.1f%%", usage.CacheHitRate()*100))
	}
	if usage.CompletionTokensDetails.ReasoningTokens > 0 {
		attrs = append(attrs,
			"reasoning_tokens", usage.CompletionTokensDetails.ReasoningTokens,
			"content_tokens", usage.ContentTokens())
	}
	c.logger.Info("Exchange usage", attrs...)
}
