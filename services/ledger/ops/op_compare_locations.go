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
)

var compareLocationsTracer = otel.Tracer("ops.compare_locations")

type compareLocationsArgs struct {
	Timeframe   string   `json:"timeframe,omitempty"`
	LocationIDs []string `json:"location_ids"`
	Metrics     []string `json:"metrics,omitempty"`
}

// compareLocationsOp puts two to five named locations side by side on the
// same metrics over the same window.
//
// Thread Safety: Safe for concurrent use. All operations are read-only.
type compareLocationsOp struct {
	store     store.Store
	estimator *plan.Estimator
	clock     func() time.Time
}

func (o *compareLocationsOp) Name() string { return OpCompareLocations }

func (o *compareLocationsOp) Definition() Definition {
	return Definition{
		Name: "compare_locations",
		Description: "Compare 2-5 specific store locations on the same metrics over the same time " +
			"period, one result row per location. Use for 'X vs Y' questions. For ranking all " +
			"locations use rank_locations instead.",
		Parameters: llm.ToolParameters{
			Type: "object",
			Properties: map[string]llm.ToolParamDef{
				"timeframe":    timeframeParam(),
				"location_ids": stringArrayParam("Canonical location IDs to compare. Between 2 and 5 entries."),
				"metrics":      stringArrayParam("Metric names: revenue, count, units, avg_order_value, items_per_sale. Defaults to revenue."),
			},
			Required: []string{"location_ids"},
		},
	}
}

// Execute runs the compare_locations operation.
func (o *compareLocationsOp) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	now := o.clock()
	start := time.Now()

	var a compareLocationsArgs
	if err := decodeStrict(args, &a); err != nil {
		return badArgs(start, "invalid compare_locations arguments: %v", err)
	}
	if len(a.LocationIDs) < 2 || len(a.LocationIDs) > params.MaxLocations {
		return badArgs(start, "compare_locations needs between 2 and %d location_ids, got %d", params.MaxLocations, len(a.LocationIDs))
	}
	for _, id := range a.LocationIDs {
		if !catalog.KnownLocation(id) {
			return badArgs(start, "unknown location id %q", id)
		}
	}
	if len(a.Metrics) == 0 {
		a.Metrics = []string{params.MetricRevenue}
	}
	for _, m := range a.Metrics {
		if !params.KnownMetric(m) {
			return badArgs(start, "unknown metric %q; valid metrics are revenue, count, units, avg_order_value, items_per_sale", m)
		}
	}

	window, allTime, err := resolveTimeframe(a.Timeframe, now)
	if err != nil {
		return badArgs(start, "%v", err)
	}

	ctx, span := compareLocationsTracer.Start(ctx, "compareLocationsOp.Execute",
		trace.WithAttributes(
			attribute.String("op", "compare_locations"),
			attribute.Int("locations", len(a.LocationIDs)),
			attribute.String("window", windowLabel(window, allTime)),
		),
	)
	defer span.End()

	rows, err := o.store.Aggregate(ctx, store.AggregateQuery{
		Start: window.Start, End: window.End, AllTime: allTime,
		LocationIDs:   a.LocationIDs,
		GroupBy:       []string{store.DimLocation},
		OrderByMetric: orderMetricFor(a.Metrics[0]),
		OrderDesc:     true,
	})
	if err != nil {
		return nil, &ExecutionError{Op: "compare_locations", Err: err}
	}

	p := estimate(o.estimator, window, allTime, len(a.LocationIDs), 0, 1)
	return &Result{
		Success:  true,
		Rows:     convertRows(rows, a.Metrics),
		Summary:  fmt.Sprintf("compared %d locations for %s", len(a.LocationIDs), windowLabel(window, allTime)),
		Plan:     p,
		Duration: time.Since(start),
	}, nil
}
