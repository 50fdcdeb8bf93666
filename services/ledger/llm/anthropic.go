// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianLedger/services/ledger/retry"
)

const (
	anthropicAPIVersion = "2023-06-01"

	// DefaultAnthropicBaseURL is the production Messages endpoint.
	DefaultAnthropicBaseURL = "https://api.anthropic.com/v1/messages"

	defaultMaxTokens = 4096
)

// --- Wire format ---

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Tools     []anthropicToolDef `json:"tools,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
}

// anthropicMessage uses structured content blocks so the same shape carries
// plain text, tool_use echoes, and tool_result feedback.
type anthropicMessage struct {
	Role    string `json:"role"`
	Content []any  `json:"content"`
}

type anthropicTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicToolUseBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type anthropicToolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

type anthropicToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema ToolParameters `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason,omitempty"`
	Usage      anthropicUsage          `json:"usage"`
	Error      *anthropicError         `json:"error,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// --- Client ---

// AnthropicClient implements Client over the Anthropic Messages REST API.
//
// Thread Safety: Safe for concurrent use; the client holds no per-request
// state.
type AnthropicClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	logger     *slog.Logger
}

// NewAnthropicClient creates a client with explicit configuration. No
// environment reads and no process-wide singleton: the caller owns the
// handle and injects it where needed.
func NewAnthropicClient(apiKey, model, baseURL string, logger *slog.Logger) *AnthropicClient {
	if baseURL == "" {
		baseURL = DefaultAnthropicBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// ChatWithTools sends the conversation plus tool catalog and returns the
// model's decision.
//
// Description:
//
//	Stop reasons map onto the provider-agnostic constants: "tool_use" →
//	StopToolUse, "end_turn"/"stop_sequence" → StopEnd, "max_tokens" →
//	StopIncomplete, "refusal" → StopRefusal. A 429 or 503 status surfaces as
//	*retry.RateLimitError / *retry.StatusError so the call executor can
//	classify it without string matching.
//
// Thread Safety: Safe for concurrent use.
func (a *AnthropicClient) ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDef, opts ChatOptions) (*ChatWithToolsResult, error) {
	payload := a.buildRequest(messages, opts)
	for _, t := range tools {
		payload.Tools = append(payload.Tools, anthropicToolDef{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	apiResp, err := a.send(ctx, payload)
	if err != nil {
		return nil, err
	}

	result := &ChatWithToolsResult{
		StopReason: mapStopReason(apiResp.StopReason),
		Usage: Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
		},
	}
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, ToolCallResponse{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	if len(result.ToolCalls) > 0 {
		result.StopReason = StopToolUse
	}
	return result, nil
}

// Chat sends messages without a tool catalog and returns the response text.
func (a *AnthropicClient) Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (*ChatResult, error) {
	apiResp, err := a.send(ctx, a.buildRequest(messages, opts))
	if err != nil {
		return nil, err
	}
	text := ""
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return nil, fmt.Errorf("anthropic: received empty content")
	}
	return &ChatResult{
		Content: text,
		Usage: Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
		},
	}, nil
}

func (a *AnthropicClient) buildRequest(messages []ChatMessage, opts ChatOptions) anthropicRequest {
	payload := anthropicRequest{
		Model:     a.model,
		MaxTokens: defaultMaxTokens,
	}
	if opts.MaxTokens > 0 {
		payload.MaxTokens = opts.MaxTokens
	}
	temp := opts.Temperature
	payload.Temperature = &temp

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			// Anthropic takes the system prompt as a top-level field.
			payload.System = msg.Content
		case RoleTool:
			payload.Messages = append(payload.Messages, anthropicMessage{
				Role: "user",
				Content: []any{anthropicToolResultBlock{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})
		case RoleAssistant:
			var blocks []any
			if msg.Content != "" {
				blocks = append(blocks, anthropicTextBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropicToolUseBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.ArgumentsJSON(),
				})
			}
			if len(blocks) == 0 {
				continue
			}
			payload.Messages = append(payload.Messages, anthropicMessage{Role: "assistant", Content: blocks})
		default:
			payload.Messages = append(payload.Messages, anthropicMessage{
				Role:    "user",
				Content: []any{anthropicTextBlock{Type: "text", Text: msg.Content}},
			})
		}
	}
	return payload
}

func (a *AnthropicClient) send(ctx context.Context, payload anthropicRequest) (*anthropicResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: creating HTTP request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	a.logger.Debug("sending request to Anthropic",
		slog.String("model", a.model),
		slog.Int("messages", len(payload.Messages)),
		slog.Int("tools", len(payload.Tools)),
	)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: reading response body (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &retry.RateLimitError{
			Service:    "anthropic",
			RetryAfter: parseRetryAfter(resp.Header.Get("retry-after")),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &retry.StatusError{
			Service:    "anthropic",
			StatusCode: resp.StatusCode,
			Message:    truncate(string(respBody), 500),
		}
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("anthropic: parsing response JSON: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("anthropic: API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	return &apiResp, nil
}

func mapStopReason(reason string) string {
	switch reason {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopIncomplete
	case "refusal":
		return StopRefusal
	default:
		return StopEnd
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
