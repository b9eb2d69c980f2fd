package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ============================================================================
// CHAT-COMPLETION PROVIDER
//
// Speaks the OpenAI-compatible chat completions wire format, so it works
// against OpenAI, Azure OpenAI, Groq, Ollama and the like. Transient HTTP
// errors are retried with exponential backoff.
// ============================================================================

// Message is one entry in the conversation sent to the provider.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a structured mutation request emitted by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition is one entry of the tool schema sent with each request.
type ToolDefinition struct {
	Type     string          `json:"type"`
	Function ToolDefFunction `json:"function"`
}

// ToolDefFunction describes a callable tool to the model.
type ToolDefFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Completion is the parsed provider response: either a text message or a
// list of requested tool calls (or both).
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// Provider abstracts the chat-completion round trip so the executor can be
// tested with a scripted fake.
type Provider interface {
	// Configured reports whether an API key is present. The GET status
	// surface uses this; nothing is sent upstream.
	Configured() bool
	ModelName() string
	Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*Completion, error)
}

// HTTPProvider sends requests to an OpenAI-compatible chat completions API.
type HTTPProvider struct {
	apiBase        string
	apiKey         string
	model          string
	client         *http.Client
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewHTTPProvider creates a provider. apiKey may be empty, in which case
// Configured() is false and Complete fails fast.
func NewHTTPProvider(apiBase, apiKey, model string, timeout time.Duration) *HTTPProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPProvider{
		apiBase:        apiBase,
		apiKey:         apiKey,
		model:          model,
		client:         &http.Client{Timeout: timeout},
		maxRetries:     2,
		retryBaseDelay: time.Second,
	}
}

func (p *HTTPProvider) Configured() bool {
	return p.apiKey != ""
}

func (p *HTTPProvider) ModelName() string {
	return p.model
}

// chatCompletionRequest is the request body for the chat completions API.
type chatCompletionRequest struct {
	Model    string           `json:"model"`
	Messages []Message        `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

// chatCompletionResponse is the response body, wrapping choices and any
// upstream error information.
type chatCompletionResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// isRetryableStatusCode returns true for transient HTTP errors worth
// retrying: rate limits and server errors.
func isRetryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code < 600)
}

// Complete sends the conversation and tool schema to the provider and
// parses the reply. Retries transient failures with exponential backoff;
// honors ctx cancellation between attempts.
func (p *HTTPProvider) Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*Completion, error) {
	if !p.Configured() {
		return nil, fmt.Errorf("assistant provider is not configured")
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:    p.model,
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	url := p.apiBase + "/chat/completions"

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.retryBaseDelay * time.Duration(1<<uint(attempt-1))
			slog.Info("provider retry", "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		completion, retryable, err := p.doRequest(ctx, url, body)
		if err == nil {
			return completion, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("provider unavailable after %d attempts: %w", p.maxRetries+1, lastErr)
}

// doRequest performs a single round trip. The bool result reports whether
// the failure is worth retrying.
func (p *HTTPProvider) doRequest(ctx context.Context, url string, body []byte) (*Completion, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read completion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, isRetryableStatusCode(resp.StatusCode),
			fmt.Errorf("provider returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, false, fmt.Errorf("decode completion response: %w", err)
	}
	if parsed.Error != nil {
		return nil, false, fmt.Errorf("provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, false, fmt.Errorf("provider returned no choices")
	}

	msg := parsed.Choices[0].Message
	return &Completion{
		Content:   msg.Content,
		ToolCalls: msg.ToolCalls,
	}, false, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
