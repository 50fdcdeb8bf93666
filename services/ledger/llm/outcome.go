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
	"encoding/json"
	"strings"
)

// OutcomeKind enumerates the mutually-exclusive ways a proposal turn can end.
type OutcomeKind int

const (
	// OutcomeOperations means the model proposed one or more tool calls.
	OutcomeOperations OutcomeKind = iota

	// OutcomeText means the model answered directly with text.
	OutcomeText

	// OutcomeRefusal means the model explicitly declined.
	OutcomeRefusal

	// OutcomeIncomplete means output was truncated before completion.
	OutcomeIncomplete

	// OutcomeEmpty means the response carried neither proposals nor text.
	OutcomeEmpty
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOperations:
		return "operations"
	case OutcomeText:
		return "text"
	case OutcomeRefusal:
		return "refusal"
	case OutcomeIncomplete:
		return "incomplete"
	default:
		return "empty"
	}
}

// Outcome is the classified result of one proposal turn.
type Outcome struct {
	Kind      OutcomeKind
	Text      string
	ToolCalls []ToolCallResponse
}

// Classify turns a raw ChatWithToolsResult into exactly one Outcome.
//
// Description:
//
//	Tool calls win over text: a response carrying both is an operations
//	outcome and the text travels along as commentary. Refusal and incomplete
//	stop reasons are terminal kinds of their own so callers can present
//	specific messages. A response with neither proposals nor text is
//	OutcomeEmpty, which the orchestrator treats as a protocol failure.
//
// Thread Safety: Safe for concurrent use.
func Classify(result *ChatWithToolsResult) Outcome {
	if result == nil {
		return Outcome{Kind: OutcomeEmpty}
	}
	if len(result.ToolCalls) > 0 {
		return Outcome{Kind: OutcomeOperations, ToolCalls: result.ToolCalls, Text: result.Content}
	}
	switch result.StopReason {
	case StopRefusal:
		return Outcome{Kind: OutcomeRefusal, Text: result.Content}
	case StopIncomplete:
		return Outcome{Kind: OutcomeIncomplete, Text: result.Content}
	}
	if strings.TrimSpace(result.Content) == "" {
		return Outcome{Kind: OutcomeEmpty}
	}
	return Outcome{Kind: OutcomeText, Text: result.Content}
}

// ExtractJSONObject scans text for the first balanced top-level JSON object
// and returns it raw.
//
// Description:
//
//	Models occasionally answer with prose that embeds the structured payload
//	("Here are the parameters: {...}"). This is a defined-grammar scan, not
//	a throwing parse: braces are balanced while honoring string literals and
//	escape sequences, the candidate is verified with json.Valid, and a
//	non-match returns ok=false. Nested objects inside the first top-level
//	object are included; a second top-level object is ignored.
//
// Outputs:
//
//	json.RawMessage - The extracted object, nil when ok=false.
//	bool - Whether a valid object was found.
//
// Thread Safety: Safe for concurrent use.
func ExtractJSONObject(text string) (json.RawMessage, bool) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		if raw, ok := scanBalanced(text[start:]); ok {
			return raw, true
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += 1 + next
	}
	return nil, false
}

// scanBalanced reads one balanced {...} from the start of s.
func scanBalanced(s string) (json.RawMessage, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := []byte(s[:i+1])
				if json.Valid(candidate) {
					return json.RawMessage(candidate), true
				}
				return nil, false
			}
		}
	}
	return nil, false
}
