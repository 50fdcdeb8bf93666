// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store is the read-only data store boundary: parameterized
// aggregate/group/rank queries over the transactional sales tables.
//
// Amounts stay in integer minor units (cents) on this boundary; conversion
// to dollars happens in the operation executors at result-formatting time,
// never here. The package assumes read-committed or stronger isolation from
// the backing store and implements no locking of its own.
package store

import (
	"context"
	"time"
)

// Dimension names that aggregate queries can group by.
const (
	DimLocation = "location"
	DimItem     = "item"
	DimBucket   = "bucket"
)

// Metric names accepted for ordering.
const (
	OrderByRevenue = "revenue"
	OrderByOrders  = "orders"
	OrderByUnits   = "units"
)

// AggregateQuery scopes one aggregation read.
//
// Thread Safety: AggregateQuery is a value type; callers own their copy.
type AggregateQuery struct {
	// Start and End bound the half-open [Start, End) window. Ignored when
	// AllTime is set.
	Start time.Time
	End   time.Time

	// AllTime disables the time filter entirely.
	AllTime bool

	// LocationIDs restricts to the given canonical locations. Empty means
	// all locations.
	LocationIDs []string

	// ItemIDs restricts to the given canonical menu items. Empty means all
	// items.
	ItemIDs []string

	// GroupBy lists result dimensions: DimLocation, DimItem, DimBucket.
	// Empty produces a single totals row.
	GroupBy []string

	// Granularity is the bucket size (day/week/month) when GroupBy contains
	// DimBucket.
	Granularity string

	// OrderByMetric optionally sorts rows by a metric.
	OrderByMetric string

	// OrderDesc sorts descending when true.
	OrderDesc bool

	// Limit caps the number of returned rows. Zero means no cap.
	Limit int
}

// Row is one aggregated result row. Dimensions holds the group-by values
// (canonical IDs for location/item, RFC 3339 date for bucket); metrics stay
// in minor units.
type Row struct {
	Dimensions   map[string]string
	RevenueCents int64
	OrderCount   int64
	UnitCount    int64
}

// Store is the narrow read capability the operation executors depend on.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Store interface {
	// Aggregate runs one aggregation read. A query matching no sales
	// returns an empty slice, not an error.
	Aggregate(ctx context.Context, q AggregateQuery) ([]Row, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}
