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

var topItemsTracer = otel.Tracer("ops.top_items")

// defaultTopN is the item count returned when the caller does not say.
const defaultTopN = 5

type topItemsArgs struct {
	Timeframe   string   `json:"timeframe,omitempty"`
	N           int      `json:"n,omitempty"`
	By          string   `json:"by,omitempty"`
	LocationIDs []string `json:"location_ids,omitempty"`
}

// topItemsOp returns the best-selling menu items by units or revenue.
//
// Thread Safety: Safe for concurrent use. All operations are read-only.
type topItemsOp struct {
	store     store.Store
	estimator *plan.Estimator
	clock     func() time.Time
}

func (o *topItemsOp) Name() string { return OpTopItems }

func (o *topItemsOp) Definition() Definition {
	return Definition{
		Name: "top_items",
		Description: "Top-N menu items by units sold or by revenue over a time period, optionally " +
			"restricted to specific locations. Use for 'best sellers' and 'most popular item' " +
			"questions. Omitting timeframe means all time.",
		Parameters: llm.ToolParameters{
			Type: "object",
			Properties: map[string]llm.ToolParamDef{
				"timeframe": timeframeParam(),
				"n": {
					Type:        "integer",
					Description: "How many items to return. Defaults to 5.",
					Default:     defaultTopN,
				},
				"by": {
					Type:        "string",
					Description: "Ranking basis. Defaults to units.",
					Enum:        []any{params.MetricUnits, params.MetricRevenue},
				},
				"location_ids": stringArrayParam("Canonical location IDs to restrict to."),
			},
		},
	}
}

// Execute runs the top_items operation.
func (o *topItemsOp) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	now := o.clock()
	start := time.Now()

	var a topItemsArgs
	if err := decodeStrict(args, &a); err != nil {
		return badArgs(start, "invalid top_items arguments: %v", err)
	}
	if a.N <= 0 {
		a.N = defaultTopN
	}
	if a.N > params.MaxLimit {
		a.N = params.MaxLimit
	}
	if a.By == "" {
		a.By = params.MetricUnits
	}
	if a.By != params.MetricUnits && a.By != params.MetricRevenue {
		return badArgs(start, "unknown ranking basis %q; use units or revenue", a.By)
	}
	for _, id := range a.LocationIDs {
		if !catalog.KnownLocation(id) {
			return badArgs(start, "unknown location id %q", id)
		}
	}

	window, allTime, err := resolveTimeframe(a.Timeframe, now)
	if err != nil {
		return badArgs(start, "%v", err)
	}

	ctx, span := topItemsTracer.Start(ctx, "topItemsOp.Execute",
		trace.WithAttributes(
			attribute.String("op", "top_items"),
			attribute.Int("n", a.N),
			attribute.String("by", a.By),
			attribute.String("window", windowLabel(window, allTime)),
		),
	)
	defer span.End()

	rows, err := o.store.Aggregate(ctx, store.AggregateQuery{
		Start: window.Start, End: window.End, AllTime: allTime,
		LocationIDs:   a.LocationIDs,
		GroupBy:       []string{store.DimItem},
		OrderByMetric: orderMetricFor(a.By),
		OrderDesc:     true,
		Limit:         a.N,
	})
	if err != nil {
		return nil, &ExecutionError{Op: "top_items", Err: err}
	}

	p := estimate(o.estimator, window, allTime, len(a.LocationIDs), 0, 1)
	return &Result{
		Success:  true,
		Rows:     convertRows(rows, []string{a.By}),
		Summary:  fmt.Sprintf("top %d item(s) by %s for %s", len(rows), a.By, windowLabel(window, allTime)),
		Plan:     p,
		Duration: time.Since(start),
	}, nil
}
