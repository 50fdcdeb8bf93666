// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianLedger/services/ledger/timewindow"
)

// Sale is one line item in the in-memory store: an order line with its
// parent order's identity and timestamp denormalized in.
type Sale struct {
	OrderID        string
	LocationID     string
	ItemID         string
	OccurredAt     time.Time
	Quantity       int64
	UnitPriceCents int64
}

// Memory is a deterministic in-process Store implementation. It backs every
// test in the repository and mirrors the Postgres aggregate semantics:
// revenue from line items, orders counted distinct, half-open windows.
//
// Thread Safety: Safe for concurrent reads after construction. Seed before
// sharing.
type Memory struct {
	sales []Sale
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory { return &Memory{} }

// Seed appends sales.
func (m *Memory) Seed(sales ...Sale) { m.sales = append(m.sales, sales...) }

// Len returns the number of seeded line items.
func (m *Memory) Len() int { return len(m.sales) }

// Ping implements Store.
func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

// Aggregate implements Store.
func (m *Memory) Aggregate(ctx context.Context, q AggregateQuery) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type acc struct {
		revenue int64
		units   int64
		orders  map[string]bool
		dims    map[string]string
	}
	accs := map[string]*acc{}
	var keys []string

	for _, s := range m.sales {
		if !q.AllTime && (s.OccurredAt.Before(q.Start) || !s.OccurredAt.Before(q.End)) {
			continue
		}
		if len(q.LocationIDs) > 0 && !slices.Contains(q.LocationIDs, s.LocationID) {
			continue
		}
		if len(q.ItemIDs) > 0 && !slices.Contains(q.ItemIDs, s.ItemID) {
			continue
		}

		dims := map[string]string{}
		for _, dim := range q.GroupBy {
			switch dim {
			case DimLocation:
				dims[dim] = s.LocationID
			case DimItem:
				dims[dim] = s.ItemID
			case DimBucket:
				dims[dim] = bucketKey(s.OccurredAt, q.Granularity)
			}
		}
		key := dimKey(q.GroupBy, dims)

		a, ok := accs[key]
		if !ok {
			a = &acc{orders: map[string]bool{}, dims: dims}
			accs[key] = a
			keys = append(keys, key)
		}
		a.revenue += s.Quantity * s.UnitPriceCents
		a.units += s.Quantity
		a.orders[s.OrderID] = true
	}

	if len(accs) == 0 {
		return []Row{}, nil
	}

	sort.Strings(keys)
	rows := make([]Row, 0, len(keys))
	for _, key := range keys {
		a := accs[key]
		rows = append(rows, Row{
			Dimensions:   a.dims,
			RevenueCents: a.revenue,
			OrderCount:   int64(len(a.orders)),
			UnitCount:    a.units,
		})
	}

	if q.OrderByMetric != "" {
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := metricOf(rows[i], q.OrderByMetric), metricOf(rows[j], q.OrderByMetric)
			if q.OrderDesc {
				return a > b
			}
			return a < b
		})
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

func metricOf(r Row, metric string) int64 {
	switch metric {
	case OrderByOrders:
		return r.OrderCount
	case OrderByUnits:
		return r.UnitCount
	default:
		return r.RevenueCents
	}
}

func dimKey(groupBy []string, dims map[string]string) string {
	parts := make([]string, len(groupBy))
	for i, dim := range groupBy {
		parts[i] = dims[dim]
	}
	return strings.Join(parts, "\x1f")
}

// bucketKey truncates t to its bucket start in the business timezone,
// matching Postgres date_trunc semantics.
func bucketKey(t time.Time, granularity string) string {
	local := t.In(timewindow.Location())
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, timewindow.Location())
	switch granularity {
	case timewindow.BucketWeek:
		offset := (int(day.Weekday()) + 6) % 7
		day = day.AddDate(0, 0, -offset)
	case timewindow.BucketMonth:
		day = time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, timewindow.Location())
	}
	return fmt.Sprintf("%04d-%02d-%02d", day.Year(), day.Month(), day.Day())
}
