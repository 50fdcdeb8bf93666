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

var salesTrendTracer = otel.Tracer("ops.sales_trend")

type salesTrendArgs struct {
	Timeframe   string   `json:"timeframe,omitempty"`
	Bucket      string   `json:"bucket,omitempty"`
	Metric      string   `json:"metric,omitempty"`
	LocationIDs []string `json:"location_ids,omitempty"`
	ItemIDs     []string `json:"item_ids,omitempty"`
}

// salesTrendOp produces a time-bucketed series of one metric. When the caller
// does not force a bucket size, one is chosen from the window span so the
// series stays readable.
//
// Thread Safety: Safe for concurrent use. All operations are read-only.
type salesTrendOp struct {
	store     store.Store
	estimator *plan.Estimator
	clock     func() time.Time
}

func (o *salesTrendOp) Name() string { return OpSalesTrend }

func (o *salesTrendOp) Definition() Definition {
	return Definition{
		Name: "sales_trend",
		Description: "Sales over time: a day/week/month-bucketed series of one metric over a time " +
			"period, optionally filtered to locations or items. Use for 'how are sales trending' " +
			"and 'sales by week' questions. Omitting timeframe uses the trailing 30 days.",
		Parameters: llm.ToolParameters{
			Type: "object",
			Properties: map[string]llm.ToolParamDef{
				"timeframe": timeframeParam(),
				"bucket": {
					Type:        "string",
					Description: "Bucket size. Omit to pick one automatically from the period length.",
					Enum:        []any{timewindow.BucketDay, timewindow.BucketWeek, timewindow.BucketMonth},
				},
				"metric": {
					Type:        "string",
					Description: "Series metric. Defaults to revenue.",
					Enum:        []any{params.MetricRevenue, params.MetricOrders, params.MetricUnits},
				},
				"location_ids": stringArrayParam("Canonical location IDs to filter to."),
				"item_ids":     stringArrayParam("Canonical menu item IDs to filter to."),
			},
		},
	}
}

// Execute runs the sales_trend operation.
func (o *salesTrendOp) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	now := o.clock()
	start := time.Now()

	var a salesTrendArgs
	if err := decodeStrict(args, &a); err != nil {
		return badArgs(start, "invalid sales_trend arguments: %v", err)
	}
	if a.Metric == "" {
		a.Metric = params.MetricRevenue
	}
	switch a.Metric {
	case params.MetricRevenue, params.MetricOrders, params.MetricUnits:
	default:
		return badArgs(start, "unknown series metric %q; valid metrics are revenue, count, units", a.Metric)
	}
	switch a.Bucket {
	case "", timewindow.BucketDay, timewindow.BucketWeek, timewindow.BucketMonth:
	default:
		return badArgs(start, "unknown bucket %q; use day, week, or month", a.Bucket)
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

	// A trend needs a bounded window; an absent timeframe gets the default
	// trailing window rather than all time.
	var window timewindow.Window
	if a.Timeframe == "" {
		window = timewindow.DefaultWindow(now)
	} else {
		w, _, err := resolveTimeframe(a.Timeframe, now)
		if err != nil {
			return badArgs(start, "%v", err)
		}
		window = w
	}
	bucket := a.Bucket
	if bucket == "" {
		bucket = timewindow.BucketForSpan(window)
	}

	ctx, span := salesTrendTracer.Start(ctx, "salesTrendOp.Execute",
		trace.WithAttributes(
			attribute.String("op", "sales_trend"),
			attribute.String("bucket", bucket),
			attribute.String("metric", a.Metric),
			attribute.String("window", window.Label),
		),
	)
	defer span.End()

	rows, err := o.store.Aggregate(ctx, store.AggregateQuery{
		Start: window.Start, End: window.End,
		LocationIDs: a.LocationIDs,
		ItemIDs:     a.ItemIDs,
		GroupBy:     []string{store.DimBucket},
		Granularity: bucket,
	})
	if err != nil {
		return nil, &ExecutionError{Op: "sales_trend", Err: err}
	}

	p := estimate(o.estimator, window, false, len(a.LocationIDs), len(a.ItemIDs), 1)
	return &Result{
		Success:  true,
		Rows:     convertRows(rows, []string{a.Metric}),
		Summary:  fmt.Sprintf("%d %s bucket(s) of %s for %s", len(rows), bucket, a.Metric, window.Label),
		Plan:     p,
		Duration: time.Since(start),
	}, nil
}
