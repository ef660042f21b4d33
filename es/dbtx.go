package es

import (
	"context"
	"database/sql"
)

// DBTX is a minimal interface for database operations, implemented by both
// *sql.DB and *sql.Tx.
//
// The SQL adapters manage their own transaction boundaries - a commit is
// atomic by construction - so DBTX is the seam their internal helpers share:
// the same query code runs against the root handle for one-shot reads and
// against an open transaction inside a commit.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Ensure standard library types implement DBTX
var (
	_ DBTX = (*sql.DB)(nil)
	_ DBTX = (*sql.Tx)(nil)
)
