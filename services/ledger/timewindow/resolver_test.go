// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package timewindow

import (
	"errors"
	"testing"
	"time"
)

// fixedNow is Wednesday 2025-09-10 15:04:05 Toronto time.
func fixedNow(t *testing.T) time.Time {
	t.Helper()
	return time.Date(2025, time.September, 10, 15, 4, 5, 0, Location())
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, Location())
}

func TestResolve_NamedPeriods(t *testing.T) {
	now := fixedNow(t)

	tests := []struct {
		phrase string
		start  time.Time
		end    time.Time
		label  string
	}{
		{"today", date(2025, time.September, 10), date(2025, time.September, 11), "today"},
		{"yesterday", date(2025, time.September, 9), date(2025, time.September, 10), "yesterday"},
		{"this week", date(2025, time.September, 8), date(2025, time.September, 15), "this week"},
		{"last week", date(2025, time.September, 1), date(2025, time.September, 8), "last week"},
		{"this month", date(2025, time.September, 1), date(2025, time.October, 1), "this month"},
		{"last month", date(2025, time.August, 1), date(2025, time.September, 1), "last month"},
		{"this year", date(2025, time.January, 1), date(2026, time.January, 1), "this year"},
		{"last year", date(2024, time.January, 1), date(2025, time.January, 1), "last year"},
	}

	for _, tt := range tests {
		t.Run(tt.phrase, func(t *testing.T) {
			w, err := Resolve(tt.phrase, now)
			if err != nil {
				t.Fatalf("Resolve(%q) error = %v", tt.phrase, err)
			}
			if !w.Start.Equal(tt.start) || !w.End.Equal(tt.end) {
				t.Errorf("got [%v, %v), want [%v, %v)", w.Start, w.End, tt.start, tt.end)
			}
			if w.Label != tt.label {
				t.Errorf("label = %q, want %q", w.Label, tt.label)
			}
		})
	}
}

func TestResolve_RelativeCounts(t *testing.T) {
	now := fixedNow(t)
	today := date(2025, time.September, 10)

	tests := []struct {
		phrase string
		start  time.Time
	}{
		{"last 7 days", today.AddDate(0, 0, -7)},
		{"past 14 days", today.AddDate(0, 0, -14)},
		{"last 3 weeks", today.AddDate(0, 0, -21)},
		{"last 2 months", today.AddDate(0, -2, 0)},
		{"previous 1 year", today.AddDate(-1, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.phrase, func(t *testing.T) {
			w, err := Resolve(tt.phrase, now)
			if err != nil {
				t.Fatalf("Resolve(%q) error = %v", tt.phrase, err)
			}
			if !w.Start.Equal(tt.start) {
				t.Errorf("start = %v, want %v", w.Start, tt.start)
			}
			if !w.End.Equal(today) {
				t.Errorf("end = %v, want %v", w.End, today)
			}
		})
	}
}

func TestResolve_ExplicitPeriods(t *testing.T) {
	now := fixedNow(t)

	t.Run("month and year is independent of now", func(t *testing.T) {
		for _, phrase := range []string{"August 2025", "aug 2025", "revenue for August 2025 please"} {
			w, err := Resolve(phrase, now)
			if err != nil {
				t.Fatalf("Resolve(%q) error = %v", phrase, err)
			}
			if !w.Start.Equal(date(2025, time.August, 1)) || !w.End.Equal(date(2025, time.September, 1)) {
				t.Errorf("Resolve(%q) = [%v, %v)", phrase, w.Start, w.End)
			}
		}
	})

	t.Run("quarter", func(t *testing.T) {
		w, err := Resolve("Q1 2024", now)
		if err != nil {
			t.Fatalf("Resolve error = %v", err)
		}
		if !w.Start.Equal(date(2024, time.January, 1)) || !w.End.Equal(date(2024, time.April, 1)) {
			t.Errorf("got [%v, %v)", w.Start, w.End)
		}
		if w.Label != "Q1 2024" {
			t.Errorf("label = %q", w.Label)
		}
	})

	t.Run("bare year", func(t *testing.T) {
		w, err := Resolve("2024", now)
		if err != nil {
			t.Fatalf("Resolve error = %v", err)
		}
		if !w.Start.Equal(date(2024, time.January, 1)) || !w.End.Equal(date(2025, time.January, 1)) {
			t.Errorf("got [%v, %v)", w.Start, w.End)
		}
	})
}

func TestResolve_Deterministic(t *testing.T) {
	now := fixedNow(t)
	a, err := Resolve("last month", now)
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	b, err := Resolve("last month", now)
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	if !a.Start.Equal(b.Start) || !a.End.Equal(b.End) {
		t.Errorf("repeated resolution differs: [%v, %v) vs [%v, %v)", a.Start, a.End, b.Start, b.End)
	}
}

func TestResolve_Unparseable(t *testing.T) {
	now := fixedNow(t)
	_, err := Resolve("during the blorp period", now)
	var ue *UnparseableError
	if !errors.As(err, &ue) {
		t.Fatalf("error = %v, want *UnparseableError", err)
	}

	w := ResolveOrDefault("during the blorp period", now)
	want := DefaultWindow(now)
	if !w.Start.Equal(want.Start) || !w.End.Equal(want.End) {
		t.Errorf("ResolveOrDefault = [%v, %v), want default [%v, %v)", w.Start, w.End, want.Start, want.End)
	}
}

func TestDefaultWindow(t *testing.T) {
	now := fixedNow(t)
	w := DefaultWindow(now)
	if !w.End.Equal(date(2025, time.September, 11)) {
		t.Errorf("end = %v, want start of tomorrow", w.End)
	}
	if !w.Start.Equal(date(2025, time.August, 12)) {
		t.Errorf("start = %v, want 30 days before end", w.Start)
	}
	if !w.Contains(now) {
		t.Error("default window should contain now")
	}
}

func TestBucketForSpan(t *testing.T) {
	now := fixedNow(t)
	tests := []struct {
		phrase string
		want   string
	}{
		{"last 7 days", BucketDay},
		{"last month", BucketDay},
		{"last 3 months", BucketWeek},
		{"this year", BucketMonth},
	}
	for _, tt := range tests {
		t.Run(tt.phrase, func(t *testing.T) {
			w, err := Resolve(tt.phrase, now)
			if err != nil {
				t.Fatalf("Resolve error = %v", err)
			}
			if got := BucketForSpan(w); got != tt.want {
				t.Errorf("BucketForSpan = %q, want %q", got, tt.want)
			}
		})
	}
}
