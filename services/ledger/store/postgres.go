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
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AleutianAI/AleutianLedger/services/ledger/timewindow"
)

// Postgres implements Store over a pgx connection pool.
//
// Schema assumed:
//
//	orders(id, location_id, occurred_at timestamptz)
//	order_items(order_id, item_id, quantity, unit_price_cents)
//
// Thread Safety: Safe for concurrent use; pgxpool handles connection
// checkout.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres connects a pool and verifies reachability.
func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

// Ping implements Store.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Aggregate implements Store by building one SQL aggregate over the orders
// and order_items tables.
func (p *Postgres) Aggregate(ctx context.Context, q AggregateQuery) ([]Row, error) {
	sql, args := buildAggregateSQL(q)

	start := time.Now()
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("store: aggregate query: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row := Row{Dimensions: map[string]string{}}
		dims := make([]any, 0, len(q.GroupBy))
		for range q.GroupBy {
			var v string
			dims = append(dims, &v)
		}
		dest := append(dims, &row.RevenueCents, &row.OrderCount, &row.UnitCount)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("store: scan aggregate row: %w", err)
		}
		for i, dim := range q.GroupBy {
			row.Dimensions[dim] = *(dims[i].(*string))
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: read aggregate rows: %w", err)
	}

	p.logger.Debug("aggregate query executed",
		slog.Int("rows", len(out)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// buildAggregateSQL renders the parameterized aggregate. All user-derived
// values travel as query arguments; only validated dimension/granularity
// constants are interpolated.
func buildAggregateSQL(q AggregateQuery) (string, []any) {
	var (
		selects []string
		groups  []string
		wheres  []string
		args    []any
	)

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	for _, dim := range q.GroupBy {
		switch dim {
		case DimLocation:
			selects = append(selects, "o.location_id")
			groups = append(groups, "o.location_id")
		case DimItem:
			selects = append(selects, "oi.item_id")
			groups = append(groups, "oi.item_id")
		case DimBucket:
			gran := q.Granularity
			switch gran {
			case timewindow.BucketDay, timewindow.BucketWeek, timewindow.BucketMonth:
			default:
				gran = timewindow.BucketDay
			}
			expr := fmt.Sprintf(
				"to_char(date_trunc('%s', o.occurred_at AT TIME ZONE '%s'), 'YYYY-MM-DD')",
				gran, timewindow.BusinessTimezone,
			)
			selects = append(selects, expr)
			groups = append(groups, expr)
		}
	}

	selects = append(selects,
		"COALESCE(SUM(oi.quantity * oi.unit_price_cents), 0) AS revenue_cents",
		"COUNT(DISTINCT o.id) AS order_count",
		"COALESCE(SUM(oi.quantity), 0) AS unit_count",
	)

	if !q.AllTime {
		wheres = append(wheres, fmt.Sprintf("o.occurred_at >= %s", arg(q.Start.UTC())))
		wheres = append(wheres, fmt.Sprintf("o.occurred_at < %s", arg(q.End.UTC())))
	}
	if len(q.LocationIDs) > 0 {
		wheres = append(wheres, fmt.Sprintf("o.location_id = ANY(%s)", arg(q.LocationIDs)))
	}
	if len(q.ItemIDs) > 0 {
		wheres = append(wheres, fmt.Sprintf("oi.item_id = ANY(%s)", arg(q.ItemIDs)))
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(selects, ", "))
	sb.WriteString(" FROM orders o JOIN order_items oi ON oi.order_id = o.id")
	if len(wheres) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(wheres, " AND "))
	}
	if len(groups) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(groups, ", "))
	}
	if order := orderClause(q.OrderByMetric, q.OrderDesc); order != "" {
		sb.WriteString(order)
	}
	if q.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", q.Limit))
	}
	return sb.String(), args
}

func orderClause(metric string, desc bool) string {
	var col string
	switch metric {
	case OrderByRevenue:
		col = "revenue_cents"
	case OrderByOrders:
		col = "order_count"
	case OrderByUnits:
		col = "unit_count"
	default:
		return ""
	}
	dir := " ASC"
	if desc {
		dir = " DESC"
	}
	return " ORDER BY " + col + dir
}
