// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import "fmt"

// RefusalError is an explicit model refusal on the proposal turn. The caller
// decides how to present it; the pipeline never retries a refusal.
type RefusalError struct {
	// Reason is the model's stated refusal text, possibly empty.
	Reason string
}

func (e *RefusalError) Error() string {
	if e.Reason == "" {
		return "agent: model refused the request"
	}
	return fmt.Sprintf("agent: model refused the request: %s", e.Reason)
}

// IncompleteError means the proposal turn was truncated before producing a
// usable answer or operation set.
type IncompleteError struct{}

func (e *IncompleteError) Error() string {
	return "agent: model response was truncated before completion"
}

// ProtocolError is a malformed proposal turn: no text, no tool calls, no
// refusal. It indicates a provider or prompt problem, not a user problem.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("agent: malformed model turn: %s", e.Detail)
}
