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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianLedger/services/ledger/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *AnthropicClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewAnthropicClient("test-key", "claude-test", server.URL, nil)
}

func TestAnthropicClient_ChatWithTools_ToolUse(t *testing.T) {
	var captured anthropicRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("content-type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 120, "output_tokens": 45},
			"content": [
				{"type": "text", "text": "Checking revenue."},
				{"type": "tool_use", "id": "call_1", "name": "get_metrics",
				 "input": {"timeframe": "yesterday", "metrics": ["revenue"]}}
			]
		}`))
	})

	tools := []ToolDef{{
		Type: "function",
		Function: ToolFunction{
			Name:        "get_metrics",
			Description: "Aggregate sales metrics over a timeframe",
			Parameters:  ToolParameters{Type: "object"},
		},
	}}
	messages := []ChatMessage{
		{Role: RoleSystem, Content: "You are an analyst."},
		{Role: RoleUser, Content: "What was revenue yesterday?"},
	}

	result, err := client.ChatWithTools(context.Background(), messages, tools, ChatOptions{})
	if err != nil {
		t.Fatalf("ChatWithTools error = %v", err)
	}

	if result.StopReason != StopToolUse {
		t.Errorf("StopReason = %q, want %q", result.StopReason, StopToolUse)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(result.ToolCalls))
	}
	tc := result.ToolCalls[0]
	if tc.Name != "get_metrics" || tc.ID != "call_1" {
		t.Errorf("tool call = %+v", tc)
	}
	var args map[string]any
	if err := json.Unmarshal(tc.ArgumentsJSON(), &args); err != nil {
		t.Fatalf("arguments do not decode: %v", err)
	}
	if args["timeframe"] != "yesterday" {
		t.Errorf("timeframe arg = %v", args["timeframe"])
	}
	if result.Usage.InputTokens != 120 || result.Usage.OutputTokens != 45 {
		t.Errorf("Usage = %+v", result.Usage)
	}

	// System prompt travels as the top-level field, not as a message.
	if captured.System == "" {
		t.Error("system prompt missing from request")
	}
	if len(captured.Messages) != 1 {
		t.Errorf("got %d wire messages, want 1", len(captured.Messages))
	}
	if len(captured.Tools) != 1 || captured.Tools[0].Name != "get_metrics" {
		t.Errorf("tools = %+v", captured.Tools)
	}
}

func TestAnthropicClient_StopReasonMapping(t *testing.T) {
	tests := []struct {
		wire string
		want string
	}{
		{"end_turn", StopEnd},
		{"max_tokens", StopIncomplete},
		{"refusal", StopRefusal},
	}
	for _, tt := range tests {
		t.Run(tt.wire, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"type": "message", "stop_reason": "` + tt.wire + `",
					"content": [{"type": "text", "text": "partial answer"}]}`))
			})
			result, err := client.ChatWithTools(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, nil, ChatOptions{})
			if err != nil {
				t.Fatalf("ChatWithTools error = %v", err)
			}
			if result.StopReason != tt.want {
				t.Errorf("StopReason = %q, want %q", result.StopReason, tt.want)
			}
		})
	}
}

func TestAnthropicClient_RateLimitSurfacesTyped(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("retry-after", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"type": "rate_limit_error", "message": "slow down"}}`))
	})

	_, err := client.Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, ChatOptions{})
	var rle *retry.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("error = %v, want *retry.RateLimitError", err)
	}
	if rle.RetryAfter != 2*time.Second {
		t.Errorf("RetryAfter = %v, want 2s", rle.RetryAfter)
	}
	if !retry.Retryable(err) {
		t.Error("rate limit error should be classified retryable")
	}
}

func TestAnthropicClient_NonOKStatusSurfacesTyped(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"type": "invalid_request_error", "message": "bad model"}}`))
	})

	_, err := client.Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, ChatOptions{})
	var se *retry.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *retry.StatusError", err)
	}
	if se.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d", se.StatusCode)
	}
	if retry.Retryable(err) {
		t.Error("400 must not be retryable")
	}
}

func TestAnthropicClient_ToolResultRoundTrip(t *testing.T) {
	var captured anthropicRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"type": "message", "stop_reason": "end_turn",
			"usage": {"input_tokens": 300, "output_tokens": 20},
			"content": [{"type": "text", "text": "Revenue yesterday was $1,234.00."}]}`))
	})

	messages := []ChatMessage{
		{Role: RoleUser, Content: "What was revenue yesterday?"},
		{Role: RoleAssistant, ToolCalls: []ToolCallResponse{{
			ID: "call_1", Name: "get_metrics", Arguments: json.RawMessage(`{"timeframe":"yesterday"}`),
		}}},
		{Role: RoleTool, ToolCallID: "call_1", Content: `{"revenue": 1234.00}`},
	}

	result, err := client.Chat(context.Background(), messages, ChatOptions{})
	if err != nil {
		t.Fatalf("Chat error = %v", err)
	}
	if result.Content == "" {
		t.Error("empty synthesis text")
	}
	if result.Usage.InputTokens != 300 || result.Usage.OutputTokens != 20 {
		t.Errorf("Usage = %+v", result.Usage)
	}
	if len(captured.Messages) != 3 {
		t.Fatalf("got %d wire messages, want 3 (user, assistant tool_use, tool_result)", len(captured.Messages))
	}
	if captured.Messages[2].Role != "user" {
		t.Errorf("tool result wire role = %q, want user", captured.Messages[2].Role)
	}
}
