// Package store persists branches, transfers, their status history, the
// product catalog and stored files in SQLite.
//
// Lookups return (nil, nil) when a row does not exist. Operations that
// must act on an existing row return ErrNotFound instead.
package store

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNotFound is returned when an operation targets a row that does not exist.
var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
