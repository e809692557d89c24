// Package llmtransport provides the HTTP transport for the OpenRouter
// chat-completions endpoint used by the classification client.
package llmtransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultTimeout        = 35 * time.Second
	defaultRateLimitDelay = 3 * time.Second
	maxErrorBodyBytes     = 2048
)

// Message is one chat message in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the request body for POST /chat/completions.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// CompletionResponse is the subset of the completion response the pipeline
// reads.
type CompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Completion is a decoded completion: the first choice's content plus the
// token accounting the service reports for the request.
type Completion struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// RateLimitError reports a 429 response. RetryAfter carries the server's
// requested delay, from Retry-After or X-RateLimit-Reset.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// ServerError reports a 5xx response.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("llm service returned %d: %s", e.Status, e.Body)
}

// RequestError reports a non-retryable 4xx response.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("llm request rejected with %d: %s", e.Status, e.Body)
}

// Transport sends completion requests with bearer auth.
type Transport struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New creates a transport for the service at baseURL. A zero timeout uses
// the default.
func New(baseURL, apiKey string, timeout time.Duration) *Transport {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Transport{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Complete sends req to POST {base}/chat/completions and returns the first
// choice's content plus the reported token usage. 429 maps to RateLimitError,
// 5xx to ServerError, other non-200 statuses to RequestError.
func (t *Transport) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes)) //nolint:errcheck
		return nil, &RateLimitError{RetryAfter: retryAfter(resp)}

	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, &ServerError{Status: resp.StatusCode, Body: readErrorBody(resp.Body)}

	case resp.StatusCode != http.StatusOK:
		return nil, &RequestError{Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var decoded CompletionResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&decoded); decodeErr != nil {
		return nil, fmt.Errorf("decode response: %w", decodeErr)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("completion response has no choices")
	}
	return &Completion{
		Content:          decoded.Choices[0].Message.Content,
		PromptTokens:     decoded.Usage.PromptTokens,
		CompletionTokens: decoded.Usage.CompletionTokens,
	}, nil
}

// retryAfter reads the server's delay request from Retry-After (seconds or
// HTTP-date), falling back to X-RateLimit-Reset, then to the default.
func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
		if at, err := http.ParseTime(v); err == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
		}
	}
	if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultRateLimitDelay
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(b))
}
