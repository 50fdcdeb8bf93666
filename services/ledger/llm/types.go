// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm is the reasoning-service boundary: provider-agnostic tool and
// message types, the Client interface the orchestrator depends on, and the
// Anthropic Messages implementation.
//
// The orchestrator never sees provider wire formats. It sends ChatMessage
// values plus a ToolDef catalog and receives a ChatWithToolsResult whose
// StopReason distinguishes tool proposals, plain answers, refusals, and
// truncated output.
package llm

import (
	"context"
	"encoding/json"
)

// Message roles on the reasoning-service boundary.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolDef is the generic tool definition passed to ChatWithTools. Follows the
// OpenAI function calling schema; each provider client converts it into its
// wire format (Anthropic input_schema, OpenAI function).
//
// Thread Safety: ToolDef is immutable and safe for concurrent read access.
type ToolDef struct {
	// Type is the tool type. Always "function" for function calling.
	Type string `json:"type"`

	// Function contains the function definition.
	Function ToolFunction `json:"function"`
}

// ToolFunction contains the function name, description, and parameter schema.
type ToolFunction struct {
	// Name is the function name the model will call.
	Name string `json:"name"`

	// Description explains what the function does.
	Description string `json:"description"`

	// Parameters defines the JSON Schema for function parameters.
	Parameters ToolParameters `json:"parameters"`
}

// ToolParameters defines the JSON Schema for tool parameters.
type ToolParameters struct {
	// Type is the JSON Schema type. Always "object" for tool parameters.
	Type string `json:"type"`

	// Properties maps parameter names to their definitions.
	Properties map[string]ToolParamDef `json:"properties,omitempty"`

	// Required lists parameter names that must be provided.
	Required []string `json:"required,omitempty"`
}

// ToolParamDef defines a single parameter in JSON Schema format.
type ToolParamDef struct {
	// Type is the JSON Schema type (string, integer, boolean, number, array).
	Type string `json:"type"`

	// Description explains what the parameter is for.
	Description string `json:"description,omitempty"`

	// Enum restricts values to a set of options.
	Enum []any `json:"enum,omitempty"`

	// Items describes array element types when Type is "array".
	Items *ToolParamDef `json:"items,omitempty"`

	// Default is the default value if not provided.
	Default any `json:"default,omitempty"`
}

// ChatMessage carries conversation content plus tool call metadata. Regular
// messages use Role + Content; assistant messages that proposed operations
// include ToolCalls; tool result messages link back via ToolCallID.
//
// Thread Safety: ChatMessage is safe for concurrent read access.
type ChatMessage struct {
	// Role is "system", "user", "assistant", or "tool".
	Role string `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content,omitempty"`

	// ToolCalls contains tool invocations (for assistant messages).
	ToolCalls []ToolCallResponse `json:"tool_calls,omitempty"`

	// ToolCallID links a tool result message back to a specific tool call.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCallResponse is a provider-agnostic tool call proposed by the model.
type ToolCallResponse struct {
	// ID is the unique identifier for this tool call.
	ID string `json:"id"`

	// Name is the function name to call.
	Name string `json:"name"`

	// Arguments is the raw JSON arguments for the function.
	Arguments json.RawMessage `json:"arguments"`
}

// ArgumentsJSON returns the arguments as a JSON object, substituting "{}"
// for nil/empty so downstream decoding never sees invalid input.
func (t *ToolCallResponse) ArgumentsJSON() json.RawMessage {
	if len(t.Arguments) == 0 {
		return json.RawMessage("{}")
	}
	return t.Arguments
}

// Stop reasons on ChatWithToolsResult.
const (
	// StopEnd is a normal completion: the answer is in Content.
	StopEnd = "end"

	// StopToolUse means ToolCalls carries one or more proposals.
	StopToolUse = "tool_use"

	// StopRefusal is an explicit model refusal.
	StopRefusal = "refusal"

	// StopIncomplete means output was truncated (token limit) and must not
	// be treated as a complete answer.
	StopIncomplete = "incomplete"
)

// Usage is the token accounting reported by the provider for one request.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ChatWithToolsResult is the provider-agnostic result from ChatWithTools.
type ChatWithToolsResult struct {
	// Content is the text response (may be empty if only tool calls).
	Content string

	// ToolCalls contains tool calls proposed by the model.
	ToolCalls []ToolCallResponse

	// StopReason is one of the Stop* constants.
	StopReason string

	// Usage is the token spend for this request.
	Usage Usage
}

// ChatResult is the provider-agnostic result from Chat.
type ChatResult struct {
	// Content is the assistant's response text. Never empty on success.
	Content string

	// Usage is the token spend for this request.
	Usage Usage
}

// ChatOptions holds provider-agnostic options for one request.
type ChatOptions struct {
	// Temperature controls randomness. Zero is the most deterministic
	// setting and what the extraction path always uses.
	Temperature float64

	// MaxTokens limits the response length. Zero means provider default.
	MaxTokens int
}

// Client is the reasoning-service capability the orchestrator depends on.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Client interface {
	// ChatWithTools sends messages plus a tool catalog; the model decides
	// whether to propose tool calls or answer directly.
	ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDef, opts ChatOptions) (*ChatWithToolsResult, error)

	// Chat sends messages and returns the assistant's response text plus
	// token accounting.
	Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (*ChatResult, error)
}
