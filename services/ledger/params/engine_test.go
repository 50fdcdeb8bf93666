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
	"slices"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianLedger/services/ledger/timewindow"
)

func testNow() time.Time {
	return time.Date(2025, time.September, 10, 15, 0, 0, 0, timewindow.Location())
}

func TestValidate_CleanCandidate(t *testing.T) {
	e := NewEngine(nil)
	set, verr := e.Validate(Candidate{
		TimeframeText: "yesterday",
		LocationIDs:   []string{"loc_bloor"},
		Metrics:       []string{MetricRevenue},
	}, "What was revenue at Bloor yesterday?", testNow())

	if verr != nil {
		t.Fatalf("Validate error = %v", verr)
	}
	if set.Repaired || set.Fallback {
		t.Errorf("clean candidate flagged repaired=%v fallback=%v", set.Repaired, set.Fallback)
	}
	if set.Window.Label != "yesterday" {
		t.Errorf("window label = %q", set.Window.Label)
	}
	if !slices.Equal(set.LocationIDs, []string{"loc_bloor"}) {
		t.Errorf("locations = %v", set.LocationIDs)
	}
}

func TestValidate_DerivedMetricAutoAddsCount(t *testing.T) {
	e := NewEngine(nil)
	set, verr := e.Validate(Candidate{
		TimeframeText: "last week",
		Metrics:       []string{MetricItemsPerSale},
	}, "", testNow())

	if verr != nil {
		t.Fatalf("Validate error = %v", verr)
	}
	if !slices.Contains(set.Metrics, MetricOrders) {
		t.Errorf("metrics = %v, want count auto-added for items_per_sale", set.Metrics)
	}
	if set.Repaired {
		t.Error("auto-add must not count as repair")
	}
}

func TestValidate_RepairRecoversTimeFromUtterance(t *testing.T) {
	e := NewEngine(nil)
	set, verr := e.Validate(Candidate{
		Metrics: []string{MetricRevenue},
	}, "show me revenue for last month", testNow())

	if verr != nil {
		t.Fatalf("Validate error = %v", verr)
	}
	if !set.Repaired {
		t.Error("expected repaired set")
	}
	if set.Window.Label != "last month" {
		t.Errorf("window label = %q, want last month recovered from utterance", set.Window.Label)
	}
}

func TestValidate_RepairRecoversEntitiesFromUtterance(t *testing.T) {
	e := NewEngine(nil)
	set, verr := e.Validate(Candidate{
		TimeframeText: "last month",
		Metrics:       []string{"bogus_metric"},
	}, "Compare Bloor vs Kingston revenue last month", testNow())

	if verr != nil {
		t.Fatalf("Validate error = %v", verr)
	}
	if !set.Repaired {
		t.Error("expected repaired set")
	}
	if len(set.LocationIDs) != 2 {
		t.Errorf("locations = %v, want both mentions recovered", set.LocationIDs)
	}
	// Unknown metric dropped, safe default injected.
	if !slices.Equal(set.Metrics, []string{MetricRevenue}) {
		t.Errorf("metrics = %v, want [revenue]", set.Metrics)
	}
}

func TestValidate_UnparseableTimeframeGetsDefaultWindow(t *testing.T) {
	e := NewEngine(nil)
	now := testNow()
	set, verr := e.Validate(Candidate{
		TimeframeText: "the blorp period",
		Metrics:       []string{MetricRevenue},
	}, "show me sales during the blorp period", now)

	if verr != nil {
		t.Fatalf("Validate error = %v", verr)
	}
	if !set.Repaired {
		t.Error("expected repaired set")
	}
	want := timewindow.DefaultWindow(now)
	if !set.Window.Start.Equal(want.Start) || !set.Window.End.Equal(want.End) {
		t.Errorf("window = [%v, %v), want default trailing window", set.Window.Start, set.Window.End)
	}
}

func TestValidate_MalformedCandidatesAlwaysYieldUsableResult(t *testing.T) {
	e := NewEngine(nil)
	now := testNow()
	past := now.AddDate(-10, 0, 0)
	future := now.AddDate(3, 0, 0)
	reversedStart := now
	reversedEnd := now.AddDate(0, 0, -7)

	candidates := map[string]Candidate{
		"empty":             {},
		"unknown ids":       {TimeframeText: "last week", Metrics: []string{MetricRevenue}, LocationIDs: []string{"loc_atlantis"}},
		"out of range past": {Start: &past, End: &now, Metrics: []string{MetricRevenue}},
		"far future":        {Start: &now, End: &future, Metrics: []string{MetricRevenue}},
		"reversed range":    {Start: &reversedStart, End: &reversedEnd, Metrics: []string{MetricRevenue}},
		"one bound only":    {Start: &now, Metrics: []string{MetricRevenue}},
		"oversized arrays": {TimeframeText: "last week", Metrics: []string{MetricRevenue},
			ItemIDs: []string{"item_croissant", "item_sourdough", "item_baguette", "item_danish", "item_coffee", "item_latte"}},
		"garbage everywhere": {TimeframeText: "whenever", Metrics: []string{"x", "y"}, GroupBy: []string{"z"}, OrderByMetric: "q", Limit: 9999},
	}

	for name, cand := range candidates {
		t.Run(name, func(t *testing.T) {
			set, verr := e.Validate(cand, "some unrelated words", now)
			if set == nil {
				t.Fatal("Validate returned nil set")
			}
			if verr != nil && !set.Fallback {
				t.Errorf("error returned without fallback set: %v", verr)
			}
			// Every returned set must be internally consistent.
			if !set.Window.Start.Before(set.Window.End) {
				t.Errorf("window not ordered: [%v, %v)", set.Window.Start, set.Window.End)
			}
			if len(set.Metrics) == 0 {
				t.Error("metric list is empty")
			}
			if len(set.LocationIDs) > MaxLocations || len(set.ItemIDs) > MaxItems {
				t.Errorf("size caps violated: %d locations, %d items", len(set.LocationIDs), len(set.ItemIDs))
			}
			if set.Limit < 0 || set.Limit > MaxLimit {
				t.Errorf("limit out of range: %d", set.Limit)
			}
		})
	}
}

func TestValidate_OutOfBoundsPhraseIsRepaired(t *testing.T) {
	e := NewEngine(nil)
	now := testNow()
	set, verr := e.Validate(Candidate{
		TimeframeText: "2015",
		Metrics:       []string{MetricRevenue},
	}, "", now)

	if verr != nil {
		t.Fatalf("Validate error = %v", verr)
	}
	if !set.Repaired {
		t.Error("a phrase resolving ten years back must not validate cleanly")
	}
	want := timewindow.DefaultWindow(now)
	if !set.Window.Start.Equal(want.Start) || !set.Window.End.Equal(want.End) {
		t.Errorf("window = [%v, %v), want default trailing window", set.Window.Start, set.Window.End)
	}
}

func TestValidate_RepairIsSinglePass(t *testing.T) {
	e := NewEngine(nil)

	// Deterministic repair injects a default for every field, so even a
	// candidate with nothing recoverable settles in exactly one pass.
	set, verr := e.Validate(Candidate{
		TimeframeText: "whenever",
		Metrics:       []string{"x"},
		GroupBy:       []string{"z"},
	}, "no recoverable hints here", testNow())
	if verr != nil {
		t.Fatalf("Validate error = %v", verr)
	}
	if !set.Repaired || set.Fallback {
		t.Errorf("repaired=%v fallback=%v, want a single-pass repair", set.Repaired, set.Fallback)
	}

	// The hard fallback backs that guarantee up; pin its contract.
	fb := Fallback(testNow())
	if !fb.Fallback {
		t.Error("Fallback must be flagged")
	}
	if !slices.Equal(fb.Metrics, []string{MetricRevenue, MetricOrders}) {
		t.Errorf("fallback metrics = %v", fb.Metrics)
	}
	if fb.Window.Days() != timewindow.DefaultTrailingDays {
		t.Errorf("fallback window spans %d days", fb.Window.Days())
	}
	if len(fb.LocationIDs) != 0 || len(fb.ItemIDs) != 0 || len(fb.GroupBy) != 0 {
		t.Error("fallback must carry no filters and no grouping")
	}
}

func TestValidate_Deduplication(t *testing.T) {
	e := NewEngine(nil)
	set, verr := e.Validate(Candidate{
		TimeframeText: "today",
		Metrics:       []string{MetricRevenue, MetricRevenue, MetricOrders},
		LocationIDs:   []string{"loc_bloor", "loc_bloor"},
	}, "", testNow())

	if verr != nil {
		t.Fatalf("Validate error = %v", verr)
	}
	if !slices.Equal(set.Metrics, []string{MetricRevenue, MetricOrders}) {
		t.Errorf("metrics = %v, want de-duplicated", set.Metrics)
	}
	if !slices.Equal(set.LocationIDs, []string{"loc_bloor"}) {
		t.Errorf("locations = %v, want de-duplicated", set.LocationIDs)
	}
}
