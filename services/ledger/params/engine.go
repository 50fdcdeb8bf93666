// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package params

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianLedger/services/ledger/catalog"
	"github.com/AleutianAI/AleutianLedger/services/ledger/timewindow"
)

// Engine validates candidate parameter sets and repairs or replaces the ones
// that fail.
//
// Thread Safety: Safe for concurrent use after construction.
type Engine struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewEngine creates a validation engine.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Validate runs the schema pass, the business pass, at most one repair pass,
// and finally the hard fallback.
//
// Description:
//
//	The contract is validate(candidate) -> valid set | (error, fallback):
//	a clean candidate returns (set, nil); a candidate fixed by the single
//	deterministic repair pass returns (set, nil) with set.Repaired true; a
//	candidate that still fails after repair returns (fallback, error) where
//	the fallback is always valid, so the caller never blocks on an unusable
//	parameter set. Repair uses the original utterance: the time phrase and
//	entity mentions are re-derived from it when the extracted fields are
//	missing or invalid. Extracted fields stay primary; the utterance scan is
//	repair-only.
//
// Inputs:
//
//	cand - Untrusted candidate, typically decoded from a model tool call.
//	utterance - The original user text, used only by repair.
//	now - Reference instant for window resolution and bounds.
//
// Outputs:
//
//	*Validated - Always non-nil and always internally consistent.
//	*ValidationError - Non-nil only when the hard fallback was used.
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) Validate(cand Candidate, utterance string, now time.Time) (*Validated, *ValidationError) {
	set, problems := e.check(cand, now)
	if len(problems) == 0 {
		return set, nil
	}
	e.logger.Debug("candidate parameter set failed validation",
		slog.Any("problems", problems),
	)

	repaired := e.repair(cand, utterance, now)
	set, problems = e.check(repaired, now)
	if len(problems) == 0 {
		set.Repaired = true
		return set, nil
	}

	// Repair is bounded to one pass; anything still broken goes to the hard
	// fallback.
	e.logger.Warn("repaired parameter set still invalid, using fallback",
		slog.Any("problems", problems),
	)
	return Fallback(now), &ValidationError{Stage: StageRepair, Problems: problems}
}

// Fallback is the hard-coded always-valid parameter set: trailing default
// window, no filters, revenue and count, no grouping.
func Fallback(now time.Time) *Validated {
	return &Validated{
		Window:   timewindow.DefaultWindow(now),
		Metrics:  []string{MetricRevenue, MetricOrders},
		Fallback: true,
	}
}

// check runs the schema and business passes and builds the Validated set.
// An empty problems slice means set is usable.
func (e *Engine) check(cand Candidate, now time.Time) (*Validated, []string) {
	problems := e.schemaProblems(cand)

	window, windowProblems := e.resolveWindow(cand, now)
	problems = append(problems, windowProblems...)
	problems = append(problems, e.businessProblems(cand)...)

	if len(problems) > 0 {
		return nil, problems
	}

	metrics := dedupe(cand.Metrics)
	// Derived items-per-sale needs the order count to divide by; auto-add
	// rather than fail.
	if slices.Contains(metrics, MetricItemsPerSale) && !slices.Contains(metrics, MetricOrders) {
		metrics = append(metrics, MetricOrders)
	}
	if slices.Contains(metrics, MetricAvgOrderValue) {
		if !slices.Contains(metrics, MetricOrders) {
			metrics = append(metrics, MetricOrders)
		}
		if !slices.Contains(metrics, MetricRevenue) {
			metrics = append(metrics, MetricRevenue)
		}
	}

	return &Validated{
		Window:        window,
		LocationIDs:   dedupe(cand.LocationIDs),
		ItemIDs:       dedupe(cand.ItemIDs),
		Metrics:       metrics,
		GroupBy:       dedupe(cand.GroupBy),
		OrderByMetric: cand.OrderByMetric,
		Descending:    cand.Descending,
		Limit:         cand.Limit,
	}, nil
}

// schemaProblems is the structural/type pass: size caps via validator tags,
// enum domains checked explicitly so each finding names the bad value.
func (e *Engine) schemaProblems(cand Candidate) []string {
	var problems []string

	if err := e.validate.Struct(cand); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("field %s fails %s", fe.Field(), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	for _, m := range cand.Metrics {
		if !KnownMetric(m) {
			problems = append(problems, fmt.Sprintf("unknown metric %q", m))
		}
	}
	for _, g := range cand.GroupBy {
		if !KnownGroupBy(g) {
			problems = append(problems, fmt.Sprintf("unknown grouping %q", g))
		}
	}
	if cand.OrderByMetric != "" && !KnownMetric(cand.OrderByMetric) {
		problems = append(problems, fmt.Sprintf("unknown order_by metric %q", cand.OrderByMetric))
	}
	if len(cand.Metrics) == 0 {
		problems = append(problems, "metric list is empty")
	}
	return problems
}

// resolveWindow turns the candidate's time fields into a window, reporting
// ordering and historical-bounds violations.
func (e *Engine) resolveWindow(cand Candidate, now time.Time) (timewindow.Window, []string) {
	if cand.Start != nil && cand.End != nil {
		w := timewindow.Window{Start: *cand.Start, End: *cand.End, Label: "explicit range"}
		var problems []string
		if !w.Start.Before(w.End) {
			problems = append(problems, "date range start is not before end")
		}
		if w.Start.Before(now.AddDate(-MaxYearsPast, 0, 0)) {
			problems = append(problems, fmt.Sprintf("date range starts more than %d years in the past", MaxYearsPast))
		}
		if w.End.After(now.AddDate(MaxYearsFuture, 0, 0)) {
			problems = append(problems, fmt.Sprintf("date range ends more than %d year in the future", MaxYearsFuture))
		}
		return w, problems
	}
	if cand.Start != nil || cand.End != nil {
		return timewindow.Window{}, []string{"date range has only one bound"}
	}
	if cand.TimeframeText != "" {
		w, err := timewindow.Resolve(cand.TimeframeText, now)
		if err != nil {
			return timewindow.Window{}, []string{fmt.Sprintf("unparseable timeframe %q", cand.TimeframeText)}
		}
		// Phrase-resolved windows honor the same historical bounds as
		// explicit ones.
		if !validWindow(w, now) {
			return timewindow.Window{}, []string{fmt.Sprintf("timeframe %q resolves outside the bounded historical window", cand.TimeframeText)}
		}
		return w, nil
	}
	return timewindow.Window{}, []string{"no time range"}
}

// businessProblems checks catalog membership.
func (e *Engine) businessProblems(cand Candidate) []string {
	var problems []string
	for _, id := range cand.LocationIDs {
		if !catalog.KnownLocation(id) {
			problems = append(problems, fmt.Sprintf("unknown location %q", id))
		}
	}
	for _, id := range cand.ItemIDs {
		if !catalog.KnownItem(id) {
			problems = append(problems, fmt.Sprintf("unknown item %q", id))
		}
	}
	return problems
}

// repair re-derives missing or invalid fields deterministically. One pass,
// no recursion.
func (e *Engine) repair(cand Candidate, utterance string, now time.Time) Candidate {
	out := cand

	// Time: prefer the extracted phrase, then the raw utterance, then the
	// default trailing window. Explicit bounds that survived the first pass
	// untouched would not be here, so they are dropped in favor of text.
	if _, problems := e.resolveWindow(cand, now); len(problems) > 0 {
		out.Start, out.End = nil, nil
		switch {
		case resolvesValid(cand.TimeframeText, now):
			out.TimeframeText = cand.TimeframeText
		case resolvesValid(utterance, now):
			out.TimeframeText = utterance
		default:
			d := timewindow.DefaultWindow(now)
			out.TimeframeText = ""
			out.Start, out.End = &d.Start, &d.End
		}
	}

	// Entities: the utterance keyword scan fills in only when extraction
	// produced nothing; invalid extracted IDs are dropped.
	out.LocationIDs = keep(out.LocationIDs, catalog.KnownLocation)
	if len(out.LocationIDs) == 0 {
		out.LocationIDs = catalog.MatchLocations(utterance)
	}
	out.ItemIDs = keep(out.ItemIDs, catalog.KnownItem)
	if len(out.ItemIDs) == 0 {
		out.ItemIDs = catalog.MatchItems(utterance)
	}

	// Metrics/groupings: remove invalid entries, inject safe defaults.
	out.Metrics = keep(dedupe(out.Metrics), KnownMetric)
	if len(out.Metrics) == 0 {
		out.Metrics = []string{MetricRevenue}
	}
	out.GroupBy = keep(dedupe(out.GroupBy), KnownGroupBy)
	if out.OrderByMetric != "" && !KnownMetric(out.OrderByMetric) {
		out.OrderByMetric = ""
	}

	// Size caps: truncate rather than reject.
	out.LocationIDs = truncateSlice(out.LocationIDs, MaxLocations)
	out.ItemIDs = truncateSlice(out.ItemIDs, MaxItems)
	out.Metrics = truncateSlice(out.Metrics, MaxMetrics)
	out.GroupBy = truncateSlice(out.GroupBy, MaxGroupBy)
	if out.Limit < 0 {
		out.Limit = 0
	}
	if out.Limit > MaxLimit {
		out.Limit = MaxLimit
	}
	return out
}

// validWindow re-applies the historical bounds to a resolved window.
func validWindow(w timewindow.Window, now time.Time) bool {
	return w.Start.Before(w.End) &&
		!w.Start.Before(now.AddDate(-MaxYearsPast, 0, 0)) &&
		!w.End.After(now.AddDate(MaxYearsFuture, 0, 0))
}

// resolvesValid reports whether phrase resolves to an in-bounds window.
func resolvesValid(phrase string, now time.Time) bool {
	if phrase == "" {
		return false
	}
	w, err := timewindow.Resolve(phrase, now)
	return err == nil && validWindow(w, now)
}

func keep(values []string, ok func(string) bool) []string {
	out := values[:0:0]
	for _, v := range values {
		if ok(v) {
			out = append(out, v)
		}
	}
	return out
}

func truncateSlice(values []string, n int) []string {
	if len(values) > n {
		return values[:n]
	}
	return values
}

