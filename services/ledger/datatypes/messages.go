// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the plain data structures exchanged across the
// Ledger service boundary: conversation messages coming in from the caller
// and the final answer (text + structured rows + metadata) going back out.
//
// Nothing in this package has behavior beyond construction; the types exist
// so the orchestrator, handlers, and external collaborators can share one
// vocabulary without importing each other.
package datatypes

import "time"

// Message roles accepted in conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior conversation turn supplied by the caller.
//
// Thread Safety: Message is immutable after construction and safe for
// concurrent read access.
type Message struct {
	// Role is the speaker: "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// Timestamp is when the turn was recorded. Zero value is allowed for
	// callers that do not track timestamps.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ResultRow is one row of structured analytical output: dimension values
// keyed by dimension name, metric values keyed by metric name.
//
// Monetary metrics are expressed in major currency units (dollars); the
// conversion from stored cents happens exactly once, in the operation
// executors.
type ResultRow struct {
	Dimensions map[string]string  `json:"dimensions"`
	Metrics    map[string]float64 `json:"metrics"`
}

// StageTiming records how long one pipeline stage took.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// TokenUsage is the reasoning-service token spend for one turn, summed over
// the proposal and synthesis calls.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add returns the element-wise sum of two usages.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// Metadata is the bookkeeping attached to every answer.
type Metadata struct {
	// Complexity is the estimated complexity class of the executed plan:
	// "simple", "moderate", or "complex". Empty when no operation ran.
	Complexity string `json:"complexity,omitempty"`

	// Strategy is the chosen execution strategy ("direct", "bulk",
	// "preaggregate", "raw"). Advisory only.
	Strategy string `json:"strategy,omitempty"`

	// CacheEligible reports whether the executed window was closed enough
	// for result caching.
	CacheEligible bool `json:"cache_eligible"`

	// Operations is the number of operations the model proposed.
	Operations int `json:"operations"`

	// OperationFailures is how many of those failed during execution.
	OperationFailures int `json:"operation_failures"`

	// DirectAnswer is true when the model answered from context without
	// proposing any operation.
	DirectAnswer bool `json:"direct_answer"`

	// FallbackUsed is true when a deterministic fallback produced part of
	// the answer: the extraction fallback built the executed parameter set,
	// or the templated summary replaced a failed synthesis call.
	FallbackUsed bool `json:"fallback_used"`

	// Timings is the per-stage latency breakdown for the turn.
	Timings []StageTiming `json:"timings,omitempty"`

	// Tokens is the reasoning-service token spend for the turn. Zero on the
	// extraction-fallback path, which makes no model calls.
	Tokens TokenUsage `json:"tokens"`
}

// Answer is the final product of one user turn.
type Answer struct {
	// Text is the natural-language answer shown to the user.
	Text string `json:"text"`

	// Rows is the merged structured result set backing the answer. Empty
	// when the model answered directly from context.
	Rows []ResultRow `json:"rows,omitempty"`

	// Metadata carries complexity, strategy, and timing bookkeeping.
	Metadata Metadata `json:"metadata"`
}
