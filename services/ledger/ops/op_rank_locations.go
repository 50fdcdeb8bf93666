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

	"github.com/AleutianAI/AleutianLedger/services/ledger/llm"
	"github.com/AleutianAI/AleutianLedger/services/ledger/params"
	"github.com/AleutianAI/AleutianLedger/services/ledger/plan"
	"github.com/AleutianAI/AleutianLedger/services/ledger/store"
)

var rankLocationsTracer = otel.Tracer("ops.rank_locations")

type rankLocationsArgs struct {
	Timeframe string `json:"timeframe,omitempty"`
	Metric    string `json:"metric,omitempty"`
	Ascending bool   `json:"ascending,omitempty"`
}

// rankLocationsOp ranks every location by one metric over a timeframe.
// Highest first unless the caller asks for ascending order.
//
// Thread Safety: Safe for concurrent use. All operations are read-only.
type rankLocationsOp struct {
	store     store.Store
	estimator *plan.Estimator
	clock     func() time.Time
}

func (o *rankLocationsOp) Name() string { return OpRankLocations }

func (o *rankLocationsOp) Definition() Definition {
	return Definition{
		Name: "rank_locations",
		Description: "Rank ALL store locations by a single metric (revenue, count, or units) over a " +
			"time period, best first. Use for 'which location did best/worst' questions. " +
			"Omitting timeframe means all time.",
		Parameters: llm.ToolParameters{
			Type: "object",
			Properties: map[string]llm.ToolParamDef{
				"timeframe": timeframeParam(),
				"metric": {
					Type:        "string",
					Description: "Ranking metric. Defaults to revenue.",
					Enum:        []any{params.MetricRevenue, params.MetricOrders, params.MetricUnits},
				},
				"ascending": {
					Type:        "boolean",
					Description: "Rank worst first instead of best first.",
				},
			},
		},
	}
}

// Execute runs the rank_locations operation.
func (o *rankLocationsOp) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	now := o.clock()
	start := time.Now()

	var a rankLocationsArgs
	if err := decodeStrict(args, &a); err != nil {
		return badArgs(start, "invalid rank_locations arguments: %v", err)
	}
	if a.Metric == "" {
		a.Metric = params.MetricRevenue
	}
	switch a.Metric {
	case params.MetricRevenue, params.MetricOrders, params.MetricUnits:
	default:
		return badArgs(start, "unknown ranking metric %q; valid metrics are revenue, count, units", a.Metric)
	}

	window, allTime, err := resolveTimeframe(a.Timeframe, now)
	if err != nil {
		return badArgs(start, "%v", err)
	}

	ctx, span := rankLocationsTracer.Start(ctx, "rankLocationsOp.Execute",
		trace.WithAttributes(
			attribute.String("op", "rank_locations"),
			attribute.String("metric", a.Metric),
			attribute.String("window", windowLabel(window, allTime)),
		),
	)
	defer span.End()

	rows, err := o.store.Aggregate(ctx, store.AggregateQuery{
		Start: window.Start, End: window.End, AllTime: allTime,
		GroupBy:       []string{store.DimLocation},
		OrderByMetric: orderMetricFor(a.Metric),
		OrderDesc:     !a.Ascending,
	})
	if err != nil {
		return nil, &ExecutionError{Op: "rank_locations", Err: err}
	}

	p := estimate(o.estimator, window, allTime, 0, 0, 1)
	return &Result{
		Success:  true,
		Rows:     convertRows(rows, []string{a.Metric}),
		Summary:  fmt.Sprintf("%d location(s) ranked by %s for %s", len(rows), a.Metric, windowLabel(window, allTime)),
		Plan:     p,
		Duration: time.Since(start),
	}, nil
}
