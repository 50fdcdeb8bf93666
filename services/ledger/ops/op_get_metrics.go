// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianLedger/services/ledger/catalog"
	"github.com/AleutianAI/AleutianLedger/services/ledger/llm"
	"github.com/AleutianAI/AleutianLedger/services/ledger/params"
	"github.com/AleutianAI/AleutianLedger/services/ledger/plan"
	"github.com/AleutianAI/AleutianLedger/services/ledger/store"
	"github.com/AleutianAI/AleutianLedger/services/ledger/timewindow"
)

var getMetricsTracer = otel.Tracer("ops.get_metrics")

// getMetricsArgs is the decoded argument set for get_metrics. Explicit
// start/end bounds take precedence over the timeframe phrase; the extraction
// fallback path relies on that to execute an already-resolved window.
type getMetricsArgs struct {
	Timeframe   string     `json:"timeframe,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	LocationIDs []string   `json:"location_ids,omitempty"`
	ItemIDs     []string   `json:"item_ids,omitempty"`
	Metrics     []string   `json:"metrics,omitempty"`
	GroupBy     []string   `json:"group_by,omitempty"`
}

// getMetricsOp answers "what were the numbers" questions: one or more metrics
// over a timeframe, optionally filtered and grouped.
//
// Thread Safety: Safe for concurrent use. All operations are read-only.
type getMetricsOp struct {
	store     store.Store
	estimator *plan.Estimator
	clock     func() time.Time
}

func (o *getMetricsOp) Name() string { return OpGetMetrics }

func (o *getMetricsOp) Definition() Definition {
	return Definition{
		Name: "get_metrics",
		Description: "Compute sales metrics (revenue, count, units, avg_order_value, items_per_sale) " +
			"over a time period, optionally filtered to specific locations or menu items and " +
			"optionally grouped by location, item, day, week, or month. " +
			"Use for direct 'how much / how many' questions. Omitting timeframe means all time.",
		Parameters: llm.ToolParameters{
			Type: "object",
			Properties: map[string]llm.ToolParamDef{
				"timeframe":    timeframeParam(),
				"start":        {Type: "string", Description: "Explicit window start, RFC 3339. Use with end instead of timeframe for exact date ranges."},
				"end":          {Type: "string", Description: "Explicit window end (exclusive), RFC 3339."},
				"location_ids": stringArrayParam("Canonical location IDs to filter to, e.g. loc_bloor."),
				"item_ids":     stringArrayParam("Canonical menu item IDs to filter to, e.g. item_croissant."),
				"metrics":      stringArrayParam("Metric names: revenue, count, units, avg_order_value, items_per_sale. Defaults to revenue."),
				"group_by":     stringArrayParam("Grouping dimensions: location, item, day, week, month. At most two."),
			},
		},
	}
}

// Execute runs the get_metrics operation.
func (o *getMetricsOp) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	now := o.clock()
	start := time.Now()

	var a getMetricsArgs
	if err := decodeStrict(args, &a); err != nil {
		return badArgs(start, "invalid get_metrics arguments: %v", err)
	}
	if len(a.Metrics) == 0 {
		a.Metrics = []string{params.MetricRevenue}
	}
	for _, m := range a.Metrics {
		if !params.KnownMetric(m) {
			return badArgs(start, "unknown metric %q; valid metrics are revenue, count, units, avg_order_value, items_per_sale", m)
		}
	}
	if len(a.GroupBy) > params.MaxGroupBy {
		return badArgs(start, "at most %d group_by dimensions are supported", params.MaxGroupBy)
	}
	for _, id := range a.LocationIDs {
		if !catalog.KnownLocation(id) {
			return badArgs(start, "unknown location id %q", id)
		}
	}
	for _, id := range a.ItemIDs {
		if !catalog.KnownItem(id) {
			return badArgs(start, "unknown item id %q", id)
		}
	}

	var window timewindow.Window
	var allTime bool
	switch {
	case a.Start != nil && a.End != nil:
		if !a.Start.Before(*a.End) {
			return badArgs(start, "start must be before end")
		}
		window = timewindow.Window{Start: *a.Start, End: *a.End, Label: "explicit range"}
		if err := checkWindowBounds(window, now); err != nil {
			return badArgs(start, "date range: %v", err)
		}
	case a.Start != nil || a.End != nil:
		return badArgs(start, "provide both start and end, or neither")
	default:
		var err error
		window, allTime, err = resolveTimeframe(a.Timeframe, now)
		if err != nil {
			return badArgs(start, "%v", err)
		}
	}

	groupBy, granularity, err := storeGrouping(a.GroupBy)
	if err != nil {
		return badArgs(start, "%v", err)
	}

	ctx, span := getMetricsTracer.Start(ctx, "getMetricsOp.Execute",
		trace.WithAttributes(
			attribute.String("op", "get_metrics"),
			attribute.String("window", windowLabel(window, allTime)),
			attribute.Int("locations", len(a.LocationIDs)),
			attribute.Int("items", len(a.ItemIDs)),
		),
	)
	defer span.End()

	rows, err := o.store.Aggregate(ctx, store.AggregateQuery{
		Start: window.Start, End: window.End, AllTime: allTime,
		LocationIDs: a.LocationIDs,
		ItemIDs:     a.ItemIDs,
		GroupBy:     groupBy,
		Granularity: granularity,
	})
	if err != nil {
		return nil, &ExecutionError{Op: "get_metrics", Err: err}
	}

	p := estimate(o.estimator, window, allTime, len(a.LocationIDs), len(a.ItemIDs), len(groupBy))
	return &Result{
		Success:  true,
		Rows:     convertRows(rows, a.Metrics),
		Summary:  fmt.Sprintf("%d result row(s) for %s", len(rows), windowLabel(window, allTime)),
		Plan:     p,
		Duration: time.Since(start),
	}, nil
}

// storeGrouping maps public group_by names onto store dimensions. Time
// groupings (day/week/month) share the bucket dimension; mixing two of them
// in one request is rejected.
func storeGrouping(groupBy []string) ([]string, string, error) {
	var dims []string
	granularity := ""
	for _, g := range groupBy {
		switch g {
		case params.GroupByLocation:
			dims = append(dims, store.DimLocation)
		case params.GroupByItem:
			dims = append(dims, store.DimItem)
		case params.GroupByDay, params.GroupByWeek, params.GroupByMonth:
			if granularity != "" {
				return nil, "", fmt.Errorf("only one time grouping (day, week, or month) is supported")
			}
			granularity = g
			dims = append(dims, store.DimBucket)
		default:
			return nil, "", fmt.Errorf("unknown group_by dimension %q; valid dimensions are location, item, day, week, month", g)
		}
	}
	return dims, granularity, nil
}
