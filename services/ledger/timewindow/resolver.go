// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package timewindow resolves natural-language time expressions ("last month",
// "Q1 2024", "last 3 weeks") into concrete half-open [start, end) intervals in
// the business timezone.
//
// All boundaries are computed in the business timezone and carried as absolute
// instants, so comparisons against UTC timestamps in the data store never
// drift across DST transitions.
package timewindow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// BusinessTimezone is the IANA zone all interval math happens in. Every store
// location operates on Toronto time regardless of where the server runs.
const BusinessTimezone = "America/Toronto"

// DefaultTrailingDays is the window length used when the caller asks for a
// default rather than a failure.
const DefaultTrailingDays = 30

var businessLocation = mustLoadLocation()

func mustLoadLocation() *time.Location {
	loc, err := time.LoadLocation(BusinessTimezone)
	if err != nil {
		// The zone database is compiled into the binary via time/tzdata in
		// cmd; a missing zone here is a build configuration error.
		panic(fmt.Sprintf("timewindow: load %s: %v", BusinessTimezone, err))
	}
	return loc
}

// Location returns the business timezone location.
func Location() *time.Location { return businessLocation }

// Window is a half-open [Start, End) interval with a human-readable label.
//
// Thread Safety: Window is immutable and safe for concurrent read access.
type Window struct {
	Start time.Time
	End   time.Time

	// Label is a short human description ("last month", "Q1 2024").
	Label string
}

// Contains reports whether t falls inside the half-open interval.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Days returns the window span in whole days, rounded up.
func (w Window) Days() int {
	d := w.End.Sub(w.Start)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// UnparseableError reports a time phrase the resolver has no grammar for.
type UnparseableError struct {
	Phrase string
}

func (e *UnparseableError) Error() string {
	return fmt.Sprintf("timewindow: unparseable time expression %q", e.Phrase)
}

var (
	lastNPattern   = regexp.MustCompile(`\b(?:last|past|previous)\s+(\d{1,3})\s+(day|week|month|year)s?\b`)
	monthYearRe    = regexp.MustCompile(`\b(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|sept|oct|nov|dec)\.?\s+(\d{4})\b`)
	quarterRe      = regexp.MustCompile(`\bq([1-4])\s*(\d{4})\b`)
	bareYearRe     = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	monthsByPrefix = map[string]time.Month{
		"jan": time.January, "feb": time.February, "mar": time.March,
		"apr": time.April, "may": time.May, "jun": time.June,
		"jul": time.July, "aug": time.August, "sep": time.September,
		"oct": time.October, "nov": time.November, "dec": time.December,
	}
)

// Resolve parses a free-text time phrase relative to now and returns the
// matching half-open interval in the business timezone.
//
// Description:
//
//	Supported grammars, tried in order: named relative periods (today,
//	yesterday, this/last week|month|year), "last N days|weeks|months|years",
//	explicit month + year ("August 2025"), quarter + year ("Q1 2024"), and a
//	bare 4-digit year. Matching is case-insensitive and tolerant of
//	surrounding text ("revenue for last month, please").
//
// Inputs:
//
//	phrase - Free-text time expression. May contain unrelated words.
//	now - Reference instant. Converted to the business timezone internally.
//
// Outputs:
//
//	Window - Resolved [start, end) interval with label.
//	error - *UnparseableError when no grammar matches.
//
// Thread Safety: Safe for concurrent use.
func Resolve(phrase string, now time.Time) (Window, error) {
	text := strings.ToLower(strings.TrimSpace(phrase))
	if text == "" {
		return Window{}, &UnparseableError{Phrase: phrase}
	}
	local := now.In(businessLocation)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, businessLocation)

	if w, ok := resolveNamed(text, today); ok {
		return w, nil
	}
	if m := lastNPattern.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n > 0 {
			return resolveLastN(n, m[2], today), nil
		}
	}
	if m := monthYearRe.FindStringSubmatch(text); m != nil {
		month := monthsByPrefix[m[1][:3]]
		year, _ := strconv.Atoi(m[2])
		start := time.Date(year, month, 1, 0, 0, 0, 0, businessLocation)
		return Window{
			Start: start,
			End:   start.AddDate(0, 1, 0),
			Label: fmt.Sprintf("%s %d", start.Month(), year),
		}, nil
	}
	if m := quarterRe.FindStringSubmatch(text); m != nil {
		q, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[2])
		start := time.Date(year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, businessLocation)
		return Window{
			Start: start,
			End:   start.AddDate(0, 3, 0),
			Label: fmt.Sprintf("Q%d %d", q, year),
		}, nil
	}
	if m := bareYearRe.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, businessLocation)
		return Window{
			Start: start,
			End:   start.AddDate(1, 0, 0),
			Label: m[1],
		}, nil
	}

	return Window{}, &UnparseableError{Phrase: phrase}
}

// ResolveOrDefault resolves phrase, falling back to the trailing default
// window when no grammar matches. It never fails.
func ResolveOrDefault(phrase string, now time.Time) Window {
	w, err := Resolve(phrase, now)
	if err != nil {
		return DefaultWindow(now)
	}
	return w
}

// DefaultWindow returns the trailing 30-day window ending at the start of
// tomorrow (so "today so far" is included).
func DefaultWindow(now time.Time) Window {
	local := now.In(businessLocation)
	end := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, businessLocation).AddDate(0, 0, 1)
	return Window{
		Start: end.AddDate(0, 0, -DefaultTrailingDays),
		End:   end,
		Label: fmt.Sprintf("trailing %d days", DefaultTrailingDays),
	}
}

// resolveNamed handles the fixed relative-period vocabulary. today is
// midnight at the start of the current business day.
func resolveNamed(text string, today time.Time) (Window, bool) {
	has := func(s string) bool { return strings.Contains(text, s) }

	switch {
	case has("yesterday"):
		return Window{Start: today.AddDate(0, 0, -1), End: today, Label: "yesterday"}, true
	case has("today"):
		return Window{Start: today, End: today.AddDate(0, 0, 1), Label: "today"}, true
	case has("this week"):
		start := startOfWeek(today)
		return Window{Start: start, End: start.AddDate(0, 0, 7), Label: "this week"}, true
	case has("last week"):
		start := startOfWeek(today).AddDate(0, 0, -7)
		return Window{Start: start, End: start.AddDate(0, 0, 7), Label: "last week"}, true
	case has("this month"):
		start := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, businessLocation)
		return Window{Start: start, End: start.AddDate(0, 1, 0), Label: "this month"}, true
	case has("last month"):
		firstOfThis := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, businessLocation)
		return Window{Start: firstOfThis.AddDate(0, -1, 0), End: firstOfThis, Label: "last month"}, true
	case has("this year"):
		start := time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, businessLocation)
		return Window{Start: start, End: start.AddDate(1, 0, 0), Label: "this year"}, true
	case has("last year"):
		start := time.Date(today.Year()-1, time.January, 1, 0, 0, 0, 0, businessLocation)
		return Window{Start: start, End: start.AddDate(1, 0, 0), Label: "last year"}, true
	}
	return Window{}, false
}

// resolveLastN handles "last N days|weeks|months|years". The window ends at
// the start of today, matching how store reports treat "last 7 days".
func resolveLastN(n int, unit string, today time.Time) Window {
	label := fmt.Sprintf("last %d %ss", n, unit)
	if n == 1 {
		label = fmt.Sprintf("last %d %s", n, unit)
	}
	switch unit {
	case "day":
		return Window{Start: today.AddDate(0, 0, -n), End: today, Label: label}
	case "week":
		return Window{Start: today.AddDate(0, 0, -7*n), End: today, Label: label}
	case "month":
		return Window{Start: today.AddDate(0, -n, 0), End: today, Label: label}
	default: // year
		return Window{Start: today.AddDate(-n, 0, 0), End: today, Label: label}
	}
}

// startOfWeek returns the Monday at or before d.
func startOfWeek(d time.Time) time.Time {
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// Granularity names accepted by time-bucketed aggregations.
const (
	BucketDay   = "day"
	BucketWeek  = "week"
	BucketMonth = "month"
)

// BucketForSpan picks a sensible trend granularity for a window: daily up to
// ~6 weeks, weekly up to ~6 months, monthly beyond that.
func BucketForSpan(w Window) string {
	days := w.Days()
	switch {
	case days <= 42:
		return BucketDay
	case days <= 190:
		return BucketWeek
	default:
		return BucketMonth
	}
}
