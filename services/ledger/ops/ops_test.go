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
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianLedger/services/ledger/params"
	"github.com/AleutianAI/AleutianLedger/services/ledger/plan"
	"github.com/AleutianAI/AleutianLedger/services/ledger/store"
	"github.com/AleutianAI/AleutianLedger/services/ledger/timewindow"
)

// testClock pins "now" to the Wednesday after the seeded sales so relative
// timeframes resolve deterministically.
func testClock() time.Time {
	return time.Date(2025, time.September, 10, 15, 0, 0, 0, timewindow.Location())
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	loc := timewindow.Location()
	m := store.NewMemory()
	m.Seed(
		store.Sale{OrderID: "o1", LocationID: "loc_bloor", ItemID: "item_croissant", OccurredAt: time.Date(2025, 9, 9, 8, 0, 0, 0, loc), Quantity: 2, UnitPriceCents: 450},
		store.Sale{OrderID: "o1", LocationID: "loc_bloor", ItemID: "item_coffee", OccurredAt: time.Date(2025, 9, 9, 8, 0, 0, 0, loc), Quantity: 1, UnitPriceCents: 300},
		store.Sale{OrderID: "o2", LocationID: "loc_bloor", ItemID: "item_latte", OccurredAt: time.Date(2025, 9, 9, 12, 30, 0, 0, loc), Quantity: 2, UnitPriceCents: 550},
		store.Sale{OrderID: "o3", LocationID: "loc_kingston", ItemID: "item_croissant", OccurredAt: time.Date(2025, 9, 9, 9, 15, 0, 0, loc), Quantity: 1, UnitPriceCents: 450},
		store.Sale{OrderID: "o4", LocationID: "loc_kingston", ItemID: "item_sourdough", OccurredAt: time.Date(2025, 9, 8, 16, 0, 0, 0, loc), Quantity: 3, UnitPriceCents: 800},
	)
	est := &plan.Estimator{Now: testClock}
	return NewRegistry(m, est, testClock)
}

func execute(t *testing.T, r *Registry, name, args string) *Result {
	t.Helper()
	op, ok := r.Lookup(name)
	if !ok {
		t.Fatalf("operation %q not registered", name)
	}
	res, err := op.Execute(context.Background(), json.RawMessage(args))
	if err != nil {
		t.Fatalf("%s Execute error = %v", name, err)
	}
	return res
}

func TestRegistry_Catalog(t *testing.T) {
	r := testRegistry(t)

	want := []string{"get_metrics", "rank_locations", "compare_locations", "top_items", "sales_trend"}
	got := r.Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	for _, def := range r.Definitions() {
		if def.Type != "function" {
			t.Errorf("definition %q type = %q, want function", def.Function.Name, def.Type)
		}
		if def.Function.Description == "" {
			t.Errorf("definition %q has no description", def.Function.Name)
		}
		if def.Function.Parameters.Type != "object" {
			t.Errorf("definition %q parameters type = %q", def.Function.Name, def.Function.Parameters.Type)
		}
	}

	if _, ok := r.Lookup("drop_tables"); ok {
		t.Error("unknown operation resolved")
	}
}

func TestGetMetrics_TotalsInDollars(t *testing.T) {
	r := testRegistry(t)

	res := execute(t, r, "get_metrics", `{"timeframe":"yesterday"}`)
	if !res.Success {
		t.Fatalf("Execute failed: %s", res.Error)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("got %d rows, want 1 totals row", len(res.Rows))
	}
	// 2750 cents across three orders on Sep 9.
	if got := res.Rows[0].Metrics[params.MetricRevenue]; got != 27.50 {
		t.Errorf("revenue = %v, want 27.50 dollars", got)
	}
}

func TestGetMetrics_DerivedMetrics(t *testing.T) {
	r := testRegistry(t)

	res := execute(t, r, "get_metrics",
		`{"timeframe":"yesterday","metrics":["avg_order_value","items_per_sale"]}`)
	if !res.Success {
		t.Fatalf("Execute failed: %s", res.Error)
	}
	m := res.Rows[0].Metrics
	// 27.50 over 3 orders; 6 units over 3 orders.
	if got := m[params.MetricAvgOrderValue]; got < 9.16 || got > 9.17 {
		t.Errorf("avg_order_value = %v, want ~9.1667", got)
	}
	if got := m[params.MetricItemsPerSale]; got != 2 {
		t.Errorf("items_per_sale = %v, want 2", got)
	}
}

func TestGetMetrics_ArgumentErrorsAreValues(t *testing.T) {
	r := testRegistry(t)

	tests := map[string]struct {
		args     string
		wantHint string
	}{
		"unknown field":        {`{"timefame":"yesterday"}`, "invalid get_metrics arguments"},
		"unknown metric":       {`{"metrics":["profit"]}`, "unknown metric"},
		"unknown location":     {`{"location_ids":["loc_atlantis"]}`, "unknown location id"},
		"unknown group_by":     {`{"group_by":["hour"]}`, "unknown group_by dimension"},
		"two time groupings":   {`{"group_by":["day","week"]}`, "only one time grouping"},
		"unparseable timeframe": {`{"timeframe":"the blorp period"}`, "timeframe"},
		"timeframe too far back": {`{"timeframe":"2015"}`, "in the past"},
		"explicit range too far back": {`{"start":"2015-01-01T00:00:00Z","end":"2015-02-01T00:00:00Z"}`, "in the past"},
		"explicit range too far ahead": {`{"start":"2026-09-01T00:00:00Z","end":"2027-12-01T00:00:00Z"}`, "in the future"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			res := execute(t, r, "get_metrics", tt.args)
			if res.Success {
				t.Fatal("expected unsuccessful result")
			}
			if !strings.Contains(res.Error, tt.wantHint) {
				t.Errorf("error %q does not mention %q", res.Error, tt.wantHint)
			}
		})
	}
}

func TestRankLocations_Ordering(t *testing.T) {
	r := testRegistry(t)

	res := execute(t, r, "rank_locations", `{"timeframe":"yesterday"}`)
	if !res.Success {
		t.Fatalf("Execute failed: %s", res.Error)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(res.Rows))
	}
	if res.Rows[0].Dimensions[store.DimLocation] != "loc_bloor" {
		t.Errorf("top location = %q, want loc_bloor", res.Rows[0].Dimensions[store.DimLocation])
	}

	asc := execute(t, r, "rank_locations", `{"timeframe":"yesterday","ascending":true}`)
	if asc.Rows[0].Dimensions[store.DimLocation] != "loc_kingston" {
		t.Errorf("ascending top = %q, want loc_kingston", asc.Rows[0].Dimensions[store.DimLocation])
	}
}

func TestCompareLocations_Cardinality(t *testing.T) {
	r := testRegistry(t)

	res := execute(t, r, "compare_locations", `{"location_ids":["loc_bloor"]}`)
	if res.Success || !strings.Contains(res.Error, "between 2 and") {
		t.Errorf("single-location compare should fail with cardinality hint, got %+v", res)
	}

	res = execute(t, r, "compare_locations",
		`{"timeframe":"this week","location_ids":["loc_bloor","loc_kingston"]}`)
	if !res.Success {
		t.Fatalf("Execute failed: %s", res.Error)
	}
	if len(res.Rows) != 2 {
		t.Errorf("got %d rows, want one per compared location", len(res.Rows))
	}
}

func TestTopItems_Limit(t *testing.T) {
	r := testRegistry(t)

	res := execute(t, r, "top_items", `{"n":1}`)
	if !res.Success {
		t.Fatalf("Execute failed: %s", res.Error)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(res.Rows))
	}
	// Croissants (3) and sourdough (3) tie on units; either is acceptable,
	// but the row must carry the units metric.
	if _, ok := res.Rows[0].Metrics[params.MetricUnits]; !ok {
		t.Errorf("row missing units metric: %+v", res.Rows[0])
	}
}

func TestSalesTrend_AutoBucket(t *testing.T) {
	r := testRegistry(t)

	res := execute(t, r, "sales_trend", `{"timeframe":"this week"}`)
	if !res.Success {
		t.Fatalf("Execute failed: %s", res.Error)
	}
	// One-week span auto-selects day buckets; seeded sales cover two days.
	if len(res.Rows) != 2 {
		t.Fatalf("got %d rows, want 2 day buckets", len(res.Rows))
	}
	for _, row := range res.Rows {
		if row.Dimensions[store.DimBucket] == "" {
			t.Errorf("row missing bucket dimension: %+v", row)
		}
	}
	if !strings.Contains(res.Summary, "day") {
		t.Errorf("summary %q should name the day bucket", res.Summary)
	}
}

func TestSalesTrend_DefaultWindowIsBounded(t *testing.T) {
	r := testRegistry(t)

	res := execute(t, r, "sales_trend", `{}`)
	if !res.Success {
		t.Fatalf("Execute failed: %s", res.Error)
	}
	// The trailing default window includes the seeded Sep 8-9 sales.
	if len(res.Rows) == 0 {
		t.Error("default trailing window should cover seeded sales")
	}
}

func TestExecute_DurationUsesWallClock(t *testing.T) {
	r := testRegistry(t)

	// The registry runs on a pinned domain clock; timings must still come
	// from the wall clock, not from the pinned instant.
	res := execute(t, r, "get_metrics", `{"timeframe":"yesterday"}`)
	if res.Duration < 0 || res.Duration > time.Minute {
		t.Errorf("Duration = %v, want a small wall-clock elapsed time", res.Duration)
	}
}

func TestPlanMetadataAttached(t *testing.T) {
	r := testRegistry(t)

	res := execute(t, r, "get_metrics", `{"timeframe":"yesterday","location_ids":["loc_bloor"]}`)
	if !res.Success {
		t.Fatalf("Execute failed: %s", res.Error)
	}
	if res.Plan.Class != plan.ClassSimple {
		t.Errorf("plan class = %q, want simple for a one-day one-location query", res.Plan.Class)
	}
	if !res.Plan.CacheEligible {
		t.Error("closed one-day window should be cache eligible")
	}
}
