// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/bidmart/bidmart/internal/bulk"
)

// poolIface is the subset of pgxpool.Pool used by repositories here.
// pgxmock.PgxPoolIface satisfies it in tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Compile-time interface check.
var _ bulk.AuditLog = (*BulkAuditRepository)(nil)

// BulkAuditRepository persists one row per executed bulk operation.
type BulkAuditRepository struct {
	pool poolIface
}

// NewBulkAuditRepository creates a new PostgreSQL bulk audit repository.
func NewBulkAuditRepository(pool poolIface) *BulkAuditRepository {
	return &BulkAuditRepository{pool: pool}
}

// Record implements bulk.AuditLog.
func (r *BulkAuditRepository) Record(ctx context.Context, entry bulk.AuditEntry) error {
	var message *string
	if entry.Message != "" {
		message = &entry.Message
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO bulk_operations (
			id, caller_id, collection, action, transactional, item_count,
			success, success_count, failed_count, message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID,
		entry.CallerID,
		entry.Collection,
		entry.Action,
		entry.Transactional,
		entry.ItemCount,
		entry.Success,
		entry.SuccessCount,
		entry.FailedCount,
		message,
		entry.CreatedAt,
	)
	if err != nil {
		return oops.Code("BULK_AUDIT_FAILED").
			With("operation", "insert bulk operation").
			With("id", entry.ID).
			Wrap(err)
	}
	return nil
}

// ListByCaller returns the most recent operations started by callerID, newest first.
func (r *BulkAuditRepository) ListByCaller(ctx context.Context, callerID string, limit int) ([]bulk.AuditEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, caller_id, collection, action, transactional, item_count,
		        success, success_count, failed_count, message, created_at
		 FROM bulk_operations
		 WHERE caller_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		callerID, limit)
	if err != nil {
		return nil, oops.With("operation", "list bulk operations").With("caller_id", callerID).Wrap(err)
	}
	defer rows.Close()

	var entries []bulk.AuditEntry
	for rows.Next() {
		var e bulk.AuditEntry
		var message *string
		if err := rows.Scan(&e.ID, &e.CallerID, &e.Collection, &e.Action, &e.Transactional, &e.ItemCount,
			&e.Success, &e.SuccessCount, &e.FailedCount, &message, &e.CreatedAt); err != nil {
			return nil, oops.With("operation", "scan bulk operation row").Wrap(err)
		}
		if message != nil {
			e.Message = *message
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate bulk operations").Wrap(err)
	}
	return entries, nil
}
