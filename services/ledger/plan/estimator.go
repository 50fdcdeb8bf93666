// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plan estimates query complexity and selects an execution strategy.
//
// The estimate is advisory metadata attached to an execution plan: it steers
// batching and cache decisions but never changes correctness. Scaling factors
// are calibrated against the production order volume and revisited when the
// catalog grows.
package plan

import (
	"time"

	"github.com/AleutianAI/AleutianLedger/services/ledger/catalog"
	"github.com/AleutianAI/AleutianLedger/services/ledger/timewindow"
)

// Complexity classes.
const (
	ClassSimple   = "simple"
	ClassModerate = "moderate"
	ClassComplex  = "complex"
)

// Execution strategies.
const (
	// StrategyDirect runs one per-request aggregate query.
	StrategyDirect = "direct"

	// StrategyBulk batches reads across group-by partitions.
	StrategyBulk = "bulk"

	// StrategyPreaggregate serves from precomputed daily rollups.
	StrategyPreaggregate = "preaggregate"

	// StrategyRaw drops to a hand-written low-level query.
	StrategyRaw = "raw"
)

// Baseline scaling factors.
const (
	// fullHistoryRows is the estimated line-item count across all history.
	fullHistoryRows = 400_000

	// dayFraction is the share of full history one day covers (~0.3%).
	dayFraction = 0.003

	// itemFilterFactor is the sharp scale-down per specific-item filter.
	itemFilterFactor = 0.05

	simpleThreshold   = 500
	moderateThreshold = 25_000
)

// Plan is the derived, read-only execution metadata. It never mutates the
// parameters it annotates.
type Plan struct {
	EstimatedRows int64
	Class         string
	Strategy      string
	CacheEligible bool
}

// Inputs describes one operation's resolved scope.
type Inputs struct {
	// Window is the resolved time window; zero-valued when AllTime.
	Window  timewindow.Window
	AllTime bool

	// LocationCount and ItemCount are the entity filter cardinalities
	// (zero means unfiltered).
	LocationCount int
	ItemCount     int

	// GroupByCount is the number of grouping dimensions.
	GroupByCount int
}

// Estimator derives Plans. The zero value is usable; the struct exists so a
// clock can be injected for cache-eligibility decisions.
//
// Thread Safety: Safe for concurrent use.
type Estimator struct {
	// Now returns the current instant; defaults to time.Now.
	Now func() time.Time
}

// New creates an Estimator on the real clock.
func New() *Estimator { return &Estimator{Now: time.Now} }

// Estimate predicts the result-set scale and picks a strategy.
//
// Description:
//
//	Expected cardinality starts from the full-history estimate and scales
//	down by window span (a one-day window covers ~0.3% of history),
//	proportionally by location filter against the fixed catalog, and
//	sharply per specific-item filter. Classification thresholds then pick
//	a strategy: direct for simple scans, bulk for moderate grouped reads,
//	precomputed rollups for complex grouped reads, raw for complex
//	ungrouped scans. Closed windows (fully in the past) that are not
//	complex are cache-eligible.
//
// Thread Safety: Safe for concurrent use.
func (e *Estimator) Estimate(in Inputs) Plan {
	rows := float64(fullHistoryRows)

	if !in.AllTime {
		days := in.Window.Days()
		if days < 1 {
			days = 1
		}
		fraction := dayFraction * float64(days)
		if fraction < 1 {
			rows *= fraction
		}
	}
	if in.LocationCount > 0 {
		rows *= float64(in.LocationCount) / float64(len(catalog.Locations))
	}
	if in.ItemCount > 0 {
		// Sharp scale-down for an item filter, growing with the number of
		// named items.
		rows *= itemFilterFactor * float64(in.ItemCount)
	}
	if rows < 1 {
		rows = 1
	}

	p := Plan{EstimatedRows: int64(rows)}
	switch {
	case rows <= simpleThreshold:
		p.Class = ClassSimple
	case rows <= moderateThreshold:
		p.Class = ClassModerate
	default:
		p.Class = ClassComplex
	}

	switch {
	case p.Class == ClassSimple:
		p.Strategy = StrategyDirect
	case p.Class == ClassModerate:
		p.Strategy = StrategyBulk
	case in.GroupByCount > 0:
		p.Strategy = StrategyPreaggregate
	default:
		p.Strategy = StrategyRaw
	}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	p.CacheEligible = p.Class != ClassComplex && !in.AllTime && !in.Window.End.After(now())
	return p
}
