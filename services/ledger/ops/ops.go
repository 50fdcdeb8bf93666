// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ops is the closed registry of analytical operations the reasoning
// service may invoke: each operation decodes and validates its own arguments,
// runs one scoped read against the sales store, and returns a structured
// result.
//
// Failures are values: malformed arguments come back as an unsuccessful
// Result the model can react to, while store failures surface as
// *ExecutionError so the orchestrator can isolate them per invocation.
// Monetary conversion from stored cents to dollars happens here, at
// result-formatting time, and nowhere else.
package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianLedger/services/ledger/datatypes"
	"github.com/AleutianAI/AleutianLedger/services/ledger/llm"
	"github.com/AleutianAI/AleutianLedger/services/ledger/params"
	"github.com/AleutianAI/AleutianLedger/services/ledger/plan"
	"github.com/AleutianAI/AleutianLedger/services/ledger/store"
	"github.com/AleutianAI/AleutianLedger/services/ledger/timewindow"
)

// Definition describes one operation for the reasoning-service catalog.
type Definition struct {
	Name        string
	Description string
	Parameters  llm.ToolParameters
}

// ToolDef converts the definition into the wire-level tool shape.
func (d Definition) ToolDef() llm.ToolDef {
	return llm.ToolDef{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		},
	}
}

// Result is the outcome of one operation invocation.
//
// Success false with a non-empty Error means the arguments were unusable; the
// message is written for the model to read and correct. Rows carry metrics in
// major currency units.
type Result struct {
	Success  bool
	Rows     []datatypes.ResultRow
	Summary  string
	Error    string
	Plan     plan.Plan
	Duration time.Duration
}

// ExecutionError is a store-level failure during one invocation. It never
// aborts sibling invocations.
type ExecutionError struct {
	Op  string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("ops: %s execution failed: %v", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Operation is one entry in the registry.
//
// Thread Safety: Implementations must be safe for concurrent use and must not
// mutate shared state during Execute.
type Operation interface {
	// Name is the stable identifier the model calls.
	Name() string

	// Definition describes the operation for the tool catalog.
	Definition() Definition

	// Execute decodes args strictly, runs the read, and formats the result.
	Execute(ctx context.Context, args json.RawMessage) (*Result, error)
}

// Operation names as advertised in the tool catalog.
const (
	OpGetMetrics       = "get_metrics"
	OpRankLocations    = "rank_locations"
	OpCompareLocations = "compare_locations"
	OpTopItems         = "top_items"
	OpSalesTrend       = "sales_trend"
)

// Registry is the closed operation set: one field per operation, so adding an
// operation means extending the struct, the constructor, and the dispatch
// switch together. There is no dynamic registration.
//
// Thread Safety: Safe for concurrent use after construction.
type Registry struct {
	getMetrics       *getMetricsOp
	rankLocations    *rankLocationsOp
	compareLocations *compareLocationsOp
	topItems         *topItemsOp
	salesTrend       *salesTrendOp
}

// NewRegistry builds the full operation set over one store.
//
// Inputs:
//
//	st - The sales store. Must not be nil.
//	est - Complexity estimator for plan metadata. Must not be nil.
//	clock - Reference clock for relative-timeframe resolution.
func NewRegistry(st store.Store, est *plan.Estimator, clock func() time.Time) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		getMetrics:       &getMetricsOp{store: st, estimator: est, clock: clock},
		rankLocations:    &rankLocationsOp{store: st, estimator: est, clock: clock},
		compareLocations: &compareLocationsOp{store: st, estimator: est, clock: clock},
		topItems:         &topItemsOp{store: st, estimator: est, clock: clock},
		salesTrend:       &salesTrendOp{store: st, estimator: est, clock: clock},
	}
}

// Lookup maps a model-proposed name onto the matching operation. The switch
// is the single decode point from untrusted strings into the closed set.
func (r *Registry) Lookup(name string) (Operation, bool) {
	switch name {
	case OpGetMetrics:
		return r.getMetrics, true
	case OpRankLocations:
		return r.rankLocations, true
	case OpCompareLocations:
		return r.compareLocations, true
	case OpTopItems:
		return r.topItems, true
	case OpSalesTrend:
		return r.salesTrend, true
	default:
		return nil, false
	}
}

// operations lists the closed set in catalog order.
func (r *Registry) operations() []Operation {
	return []Operation{r.getMetrics, r.rankLocations, r.compareLocations, r.topItems, r.salesTrend}
}

// Names lists the operation names in catalog order.
func (r *Registry) Names() []string {
	set := r.operations()
	names := make([]string, 0, len(set))
	for _, op := range set {
		names = append(names, op.Name())
	}
	return names
}

// Definitions returns the tool catalog for the proposal call.
func (r *Registry) Definitions() []llm.ToolDef {
	set := r.operations()
	defs := make([]llm.ToolDef, 0, len(set))
	for _, op := range set {
		defs = append(defs, op.Definition().ToolDef())
	}
	return defs
}

// decodeStrict unmarshals args into dst, rejecting unknown fields so a
// misspelled argument fails loudly instead of being silently dropped.
func decodeStrict(args json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// badArgs is the soft-failure result for unusable arguments. The message is
// phrased for the model so a retry can self-correct; the nil error keeps the
// failure a value rather than an invocation abort.
func badArgs(start time.Time, format string, a ...any) (*Result, error) {
	return &Result{
		Success:  false,
		Error:    fmt.Sprintf(format, a...),
		Duration: time.Since(start),
	}, nil
}

// resolveTimeframe turns an optional timeframe phrase into a window. Empty
// phrases mean all time for operations that declare that; an unparseable or
// out-of-bounds phrase is an argument error with a model-readable message.
func resolveTimeframe(phrase string, now time.Time) (timewindow.Window, bool, error) {
	if phrase == "" {
		return timewindow.Window{}, true, nil
	}
	w, err := timewindow.Resolve(phrase, now)
	if err != nil {
		return timewindow.Window{}, false, fmt.Errorf("could not understand timeframe %q", phrase)
	}
	if err := checkWindowBounds(w, now); err != nil {
		return timewindow.Window{}, false, fmt.Errorf("timeframe %q: %v", phrase, err)
	}
	return w, false, nil
}

// checkWindowBounds enforces the bounded historical window on a resolved
// range, mirroring the validation engine's date bounds.
func checkWindowBounds(w timewindow.Window, now time.Time) error {
	if w.Start.Before(now.AddDate(-params.MaxYearsPast, 0, 0)) {
		return fmt.Errorf("window starts more than %d years in the past", params.MaxYearsPast)
	}
	if w.End.After(now.AddDate(params.MaxYearsFuture, 0, 0)) {
		return fmt.Errorf("window ends more than %d year in the future", params.MaxYearsFuture)
	}
	return nil
}

// windowLabel names the queried period for summaries.
func windowLabel(w timewindow.Window, allTime bool) string {
	if allTime {
		return "all time"
	}
	return w.Label
}

// orderMetricFor maps a public metric name onto the store's ordering names.
// Derived metrics order by revenue, their dominant component.
func orderMetricFor(metric string) string {
	switch metric {
	case params.MetricOrders:
		return store.OrderByOrders
	case params.MetricUnits:
		return store.OrderByUnits
	default:
		return store.OrderByRevenue
	}
}

// convertRows maps store rows onto result rows, converting cents to dollars
// and computing derived metrics. Only the requested metrics appear.
func convertRows(rows []store.Row, metrics []string) []datatypes.ResultRow {
	out := make([]datatypes.ResultRow, 0, len(rows))
	for _, r := range rows {
		m := make(map[string]float64, len(metrics))
		for _, name := range metrics {
			switch name {
			case params.MetricRevenue:
				m[name] = float64(r.RevenueCents) / 100
			case params.MetricOrders:
				m[name] = float64(r.OrderCount)
			case params.MetricUnits:
				m[name] = float64(r.UnitCount)
			case params.MetricAvgOrderValue:
				if r.OrderCount > 0 {
					m[name] = float64(r.RevenueCents) / 100 / float64(r.OrderCount)
				} else {
					m[name] = 0
				}
			case params.MetricItemsPerSale:
				if r.OrderCount > 0 {
					m[name] = float64(r.UnitCount) / float64(r.OrderCount)
				} else {
					m[name] = 0
				}
			}
		}
		dims := make(map[string]string, len(r.Dimensions))
		for k, v := range r.Dimensions {
			dims[k] = v
		}
		out = append(out, datatypes.ResultRow{Dimensions: dims, Metrics: m})
	}
	return out
}

// estimate builds plan metadata for one scoped query.
func estimate(est *plan.Estimator, w timewindow.Window, allTime bool, locCount, itemCount, groupByCount int) plan.Plan {
	if est == nil {
		return plan.Plan{}
	}
	return est.Estimate(plan.Inputs{
		Window:        w,
		AllTime:       allTime,
		LocationCount: locCount,
		ItemCount:     itemCount,
		GroupByCount:  groupByCount,
	})
}

// Shared parameter schema fragments.
func timeframeParam() llm.ToolParamDef {
	return llm.ToolParamDef{
		Type:        "string",
		Description: "Natural-language time period, e.g. 'last month', 'Q1 2025', 'last 7 days'. Omit for all time.",
	}
}

func stringArrayParam(desc string) llm.ToolParamDef {
	return llm.ToolParamDef{
		Type:        "array",
		Description: desc,
		Items:       &llm.ToolParamDef{Type: "string"},
	}
}
