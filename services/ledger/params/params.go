// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package params defines the candidate/validated parameter-set pair and the
// validation-and-repair engine that guards every extracted parameter set
// before execution.
//
// A Candidate is untrusted input from the reasoning service or a rule-based
// fallback. A Validated set is internally consistent by construction and is
// the only parameter representation ever passed to execution. Validation
// never raises for malformed input: it returns either a valid set or a
// (error, valid fallback) pair.
package params

import (
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianLedger/services/ledger/timewindow"
)

// Metric names requested by parameter sets.
const (
	MetricRevenue       = "revenue"
	MetricOrders        = "count"
	MetricUnits         = "units"
	MetricAvgOrderValue = "avg_order_value"
	MetricItemsPerSale  = "items_per_sale"
)

// Grouping dimensions.
const (
	GroupByLocation = "location"
	GroupByItem     = "item"
	GroupByDay      = "day"
	GroupByWeek     = "week"
	GroupByMonth    = "month"
)

// Array size caps enforced by the schema pass.
const (
	MaxLocations = 5
	MaxItems     = 5
	MaxMetrics   = 5
	MaxGroupBy   = 2
	MaxLimit     = 100
)

// Historical bounds for date ranges: no more than five years in the past,
// no more than one year in the future.
const (
	MaxYearsPast   = 5
	MaxYearsFuture = 1
)

// Candidate is the raw, untrusted parameter set. Mutable during repair;
// superseded by a Validated set once accepted.
type Candidate struct {
	// TimeframeText is the raw time phrase ("last month"). Preferred over
	// Start/End when both are present and Start/End are invalid.
	TimeframeText string `json:"timeframe,omitempty"`

	// Start and End are explicit bounds, half-open [Start, End).
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`

	// LocationIDs and ItemIDs are canonical catalog identifiers.
	LocationIDs []string `json:"location_ids,omitempty" validate:"max=5"`
	ItemIDs     []string `json:"item_ids,omitempty" validate:"max=5"`

	// Metrics are requested metric names.
	Metrics []string `json:"metrics,omitempty" validate:"max=5"`

	// GroupBy are requested grouping dimensions.
	GroupBy []string `json:"group_by,omitempty" validate:"max=2"`

	// OrderByMetric optionally sorts results by a metric.
	OrderByMetric string `json:"order_by,omitempty"`

	// Descending sorts high-to-low when true.
	Descending bool `json:"descending,omitempty"`

	// Limit caps the result rows. Zero means no explicit cap.
	Limit int `json:"limit,omitempty" validate:"min=0,max=100"`
}

// Validated is the schema-conformant, business-rule-checked parameter set.
// Construct only through Engine.Validate or Fallback; treat as immutable.
type Validated struct {
	Window      timewindow.Window
	LocationIDs []string
	ItemIDs     []string
	Metrics     []string
	GroupBy     []string

	OrderByMetric string
	Descending    bool
	Limit         int

	// Repaired is true when the deterministic repair pass changed the
	// candidate; Fallback is true when the hard-coded fallback replaced it.
	Repaired bool
	Fallback bool
}

// Validation stages, recorded on ValidationError.
const (
	StageSchema   = "schema"
	StageBusiness = "business"
	StageRepair   = "repair"
)

// ValidationError reports why a candidate failed. It always travels with a
// usable fallback set, never alone.
type ValidationError struct {
	// Stage is the pass that gave up: schema, business, or repair.
	Stage string

	// Problems lists the individual findings.
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("params: %s validation failed: %s", e.Stage, strings.Join(e.Problems, "; "))
}

// knownMetrics is the closed metric domain.
var knownMetrics = map[string]bool{
	MetricRevenue:       true,
	MetricOrders:        true,
	MetricUnits:         true,
	MetricAvgOrderValue: true,
	MetricItemsPerSale:  true,
}

// knownGroupBy is the closed grouping domain.
var knownGroupBy = map[string]bool{
	GroupByLocation: true,
	GroupByItem:     true,
	GroupByDay:      true,
	GroupByWeek:     true,
	GroupByMonth:    true,
}

// KnownMetric reports whether name is in the metric domain.
func KnownMetric(name string) bool { return knownMetrics[name] }

// KnownGroupBy reports whether name is in the grouping domain.
func KnownGroupBy(name string) bool { return knownGroupBy[name] }

// dedupe keeps first occurrences, preserving order.
func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
