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

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianLedger/services/ledger/catalog"
	"github.com/AleutianAI/AleutianLedger/services/ledger/datatypes"
	"github.com/AleutianAI/AleutianLedger/services/ledger/llm"
	"github.com/AleutianAI/AleutianLedger/services/ledger/params"
)

// proposalSystemPrompt frames the proposal turn: answer from context when the
// history already contains the numbers, otherwise call operations. The
// catalog of locations and items is inlined so the model emits canonical IDs.
func proposalSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are the analytics assistant for a small bakery chain. ")
	b.WriteString("Answer questions about sales using the provided operations. ")
	b.WriteString("If the conversation already contains the numbers needed, answer directly without calling any operation. ")
	b.WriteString("Never invent figures: every number you state must come from an operation result or from earlier turns.\n\n")

	b.WriteString("Locations (use the canonical IDs):\n")
	for _, e := range catalog.Locations {
		fmt.Fprintf(&b, "- %s: %s\n", e.ID, e.Name)
	}
	b.WriteString("Menu items (use the canonical IDs):\n")
	for _, e := range catalog.Items {
		fmt.Fprintf(&b, "- %s: %s\n", e.ID, e.Name)
	}
	b.WriteString("\nTime periods are interpreted in the business timezone (America/Toronto). ")
	b.WriteString("Prefer one operation per question; use several only when the question genuinely needs them.")
	return b.String()
}

// synthesisSystemPrompt frames the synthesis turn: turn executed results into
// a grounded answer.
const synthesisSystemPrompt = "You are the analytics assistant for a small bakery chain. " +
	"Write a concise answer to the user's question using ONLY the operation results below. " +
	"Quote monetary amounts in dollars with two decimals. If an operation failed, say which part " +
	"of the question you could not answer. Do not mention the operations themselves."

// buildProposalMessages assembles the proposal turn conversation.
func buildProposalMessages(history []datatypes.Message, utterance string) []llm.ChatMessage {
	msgs := make([]llm.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, llm.ChatMessage{Role: llm.RoleSystem, Content: proposalSystemPrompt()})
	for _, m := range history {
		role := m.Role
		if role != datatypes.RoleUser && role != datatypes.RoleAssistant {
			continue
		}
		msgs = append(msgs, llm.ChatMessage{Role: role, Content: m.Content})
	}
	msgs = append(msgs, llm.ChatMessage{Role: llm.RoleUser, Content: utterance})
	return msgs
}

// buildSynthesisMessages assembles the synthesis turn: the same filtered
// conversation the proposal saw, then the question plus a plain-text report
// of what each invocation did and returned.
func buildSynthesisMessages(utterance string, history []datatypes.Message, invocations []Invocation) []llm.ChatMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nOperation results:\n", utterance)
	for _, inv := range invocations {
		fmt.Fprintf(&b, "\n%s (args %s):\n", inv.Name, string(inv.Args))
		switch {
		case inv.Err != nil:
			fmt.Fprintf(&b, "  failed: %v\n", inv.Err)
		case inv.Result != nil && !inv.Result.Success:
			fmt.Fprintf(&b, "  rejected: %s\n", inv.Result.Error)
		case inv.Result != nil:
			fmt.Fprintf(&b, "  %s\n", inv.Result.Summary)
			for _, row := range inv.Result.Rows {
				fmt.Fprintf(&b, "  %s\n", formatRow(row))
			}
		}
	}

	msgs := make([]llm.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, llm.ChatMessage{Role: llm.RoleSystem, Content: synthesisSystemPrompt})
	for _, m := range history {
		if m.Role != datatypes.RoleUser && m.Role != datatypes.RoleAssistant {
			continue
		}
		msgs = append(msgs, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.ChatMessage{Role: llm.RoleUser, Content: b.String()})
	return msgs
}

// templatedAnswer is the deterministic synthesis fallback: a readable summary
// built purely from invocation outcomes, used when the synthesis call fails.
func templatedAnswer(invocations []Invocation) string {
	var parts []string
	failures := 0
	for _, inv := range invocations {
		if inv.Err != nil || inv.Result == nil || !inv.Result.Success {
			failures++
			continue
		}
		var b strings.Builder
		b.WriteString(inv.Result.Summary)
		for i, row := range inv.Result.Rows {
			if i == maxTemplatedRows {
				fmt.Fprintf(&b, "; and %d more", len(inv.Result.Rows)-i)
				break
			}
			b.WriteString("; ")
			b.WriteString(formatRow(row))
		}
		parts = append(parts, b.String())
	}
	if len(parts) == 0 {
		return "I could not compute an answer for that question. Please try rephrasing it."
	}
	text := strings.Join(parts, ". ") + "."
	if failures > 0 {
		text += fmt.Sprintf(" (%d operation(s) failed; the answer may be partial.)", failures)
	}
	return text
}

// maxTemplatedRows caps how many rows the templated fallback spells out.
const maxTemplatedRows = 8

// formatRow renders one result row as "dim=value metric $x.xx" text with
// stable key ordering.
func formatRow(row datatypes.ResultRow) string {
	var b strings.Builder

	dims := make([]string, 0, len(row.Dimensions))
	for k := range row.Dimensions {
		dims = append(dims, k)
	}
	sort.Strings(dims)
	for _, k := range dims {
		fmt.Fprintf(&b, "%s=%s ", k, displayName(row.Dimensions[k]))
	}

	metrics := make([]string, 0, len(row.Metrics))
	for k := range row.Metrics {
		metrics = append(metrics, k)
	}
	sort.Strings(metrics)
	for i, k := range metrics {
		if i > 0 {
			b.WriteString(", ")
		}
		v := row.Metrics[k]
		if k == params.MetricRevenue || k == params.MetricAvgOrderValue {
			fmt.Fprintf(&b, "%s $%.2f", k, v)
		} else {
			fmt.Fprintf(&b, "%s %g", k, v)
		}
	}
	return strings.TrimSpace(b.String())
}

// displayName swaps canonical IDs for human names where the catalog knows
// them; other dimension values (dates) pass through.
func displayName(id string) string {
	if e, ok := catalog.LocationByID(id); ok {
		return e.Name
	}
	if e, ok := catalog.ItemByID(id); ok {
		return e.Name
	}
	return id
}
