package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS branches (
    id            TEXT PRIMARY KEY,
    password_hash TEXT NOT NULL,
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS transfers (
    id                    TEXT PRIMARY KEY,
    requester_branch      TEXT NOT NULL REFERENCES branches(id),
    supplier_branch       TEXT NOT NULL REFERENCES branches(id),
    product               TEXT NOT NULL,
    product_barcode       TEXT,
    product_internal_code TEXT,
    quantity              INTEGER NOT NULL CHECK (quantity > 0),
    observations          TEXT,
    invoice_key           TEXT,
    invoice_url           TEXT,
    product_image_url     TEXT,
    status                TEXT NOT NULL DEFAULT 'Solicitado'
                          CHECK (status IN ('Solicitado', 'Em preparo', 'Enviado', 'Concluído')),
    request_date          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CHECK (requester_branch <> supplier_branch)
);

CREATE INDEX IF NOT EXISTS idx_transfers_requester ON transfers(requester_branch);
CREATE INDEX IF NOT EXISTS idx_transfers_supplier ON transfers(supplier_branch);

CREATE TABLE IF NOT EXISTS status_history (
    id          TEXT PRIMARY KEY,
    transfer_id TEXT NOT NULL REFERENCES transfers(id) ON DELETE CASCADE,
    status      TEXT NOT NULL,
    updated_by  TEXT NOT NULL,
    seq         INTEGER NOT NULL,
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (transfer_id, seq)
);

CREATE TABLE IF NOT EXISTS products (
    id            INTEGER PRIMARY KEY,
    barcode       TEXT,
    internal_code TEXT,
    name          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_products_barcode ON products(barcode);
CREATE INDEX IF NOT EXISTS idx_products_internal_code ON products(internal_code);

CREATE TABLE IF NOT EXISTS files (
    bucket     TEXT NOT NULL,
    path       TEXT NOT NULL,
    mime       TEXT NOT NULL,
    size       INTEGER NOT NULL,
    checksum   TEXT NOT NULL,
    data       BLOB NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (bucket, path)
);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);
`

// migrations are applied in order after schema creation. Each must be
// idempotent. Append new migrations at the end.
var migrations = []string{
	`CREATE INDEX IF NOT EXISTS idx_status_history_transfer ON status_history(transfer_id, seq)`,
}

// EnsureSchema creates all tables and indexes if they don't already exist
// and applies pending migrations.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}

	return nil
}
