package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Operation kinds.
const (
	OpOpen  = "OPEN"
	OpClose = "CLOSE"
)

// Operation is one row of the append-only audit trail.
type Operation struct {
	ID              string    `json:"id"`
	InstanceID      string    `json:"instance_id"`
	Kind            string    `json:"kind"`
	Asset           string    `json:"asset"`
	Side            string    `json:"side"`
	Size            float64   `json:"size"`
	Price           float64   `json:"price"`
	Capital         float64   `json:"capital"`
	PnL             float64   `json:"pnl"`
	PnLPct          float64   `json:"pnl_pct"`
	Reason          string    `json:"reason"`
	EntryPrice      float64   `json:"entry_price"`
	DurationSeconds float64   `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
}

// Line renders the classic one-line audit format for the log file.
func (o Operation) Line() string {
	if o.Kind == OpClose {
		return fmt.Sprintf("CLOSE | %s | %s | %.6f | %.2f | %.2f | %.2f | %.2f%% | %s | %.2f | %.0fs",
			o.Asset, o.Side, o.Size, o.Price, o.Capital, o.PnL, o.PnLPct, o.Reason, o.EntryPrice, o.DurationSeconds)
	}
	return fmt.Sprintf("OPEN | %s | %s | %.6f | %.2f | %.2f", o.Asset, o.Side, o.Size, o.Price, o.Capital)
}

// InsertOperation appends one audit row.
func (d *Database) InsertOperation(ctx context.Context, o Operation) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO operations (id, instance_id, kind, asset, side, size, price, capital,
		                        pnl, pnl_pct, reason, entry_price, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, o.ID, o.InstanceID, o.Kind, o.Asset, o.Side, o.Size, o.Price, o.Capital,
		o.PnL, o.PnLPct, o.Reason, o.EntryPrice, o.DurationSeconds, nullableTime(o.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

// RecentOperations returns the latest audit rows, newest first.
func (d *Database) RecentOperations(ctx context.Context, limit int) ([]Operation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, instance_id, kind, asset, side, size, price, capital,
		       pnl, pnl_pct, reason, entry_price, duration_seconds, created_at
		FROM operations
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var o Operation
		if err := rows.Scan(&o.ID, &o.InstanceID, &o.Kind, &o.Asset, &o.Side, &o.Size, &o.Price, &o.Capital,
			&o.PnL, &o.PnLPct, &o.Reason, &o.EntryPrice, &o.DurationSeconds, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, o)
	}
	return ops, rows.Err()
}

// UpsertPosition stores the current tracked position snapshot for asset.
func (d *Database) UpsertPosition(ctx context.Context, asset, side string, size, entryPrice, capitalUsed float64, entryTime time.Time) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (asset, side, size, entry_price, capital_used, entry_time, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(asset) DO UPDATE SET
			side = excluded.side,
			size = excluded.size,
			entry_price = excluded.entry_price,
			capital_used = excluded.capital_used,
			entry_time = excluded.entry_time,
			updated_at = CURRENT_TIMESTAMP
	`, asset, side, size, entryPrice, capitalUsed, entryTime)
	return err
}

// DeletePosition removes the snapshot for asset.
func (d *Database) DeletePosition(ctx context.Context, asset string) error {
	_, err := d.DB.ExecContext(ctx, `DELETE FROM positions WHERE asset = ?`, asset)
	return err
}

// InsertReconciliation records the outcome of one reconciliation pass.
func (d *Database) InsertReconciliation(ctx context.Context, adopted, removed, skipped int, reservedBefore, reservedAfter float64) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO reconciliations (adopted, removed, skipped, reserved_before, reserved_after)
		VALUES (?, ?, ?, ?, ?)
	`, adopted, removed, skipped, reservedBefore, reservedAfter)
	return err
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return t
}
