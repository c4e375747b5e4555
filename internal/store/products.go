package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/filial/internal/model"
)

// ReplaceProducts swaps the whole catalog for products in one transaction.
// Rows without a name are skipped. Returns the number of rows stored.
func ReplaceProducts(ctx context.Context, db *sql.DB, products []model.Product) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM products`); err != nil {
		return 0, fmt.Errorf("clearing products: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO products (barcode, internal_code, name) VALUES (NULLIF(?, ''), NULLIF(?, ''), ?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("preparing product insert: %w", err)
	}
	defer stmt.Close()

	n := 0
	for _, p := range products {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, strings.TrimSpace(p.Barcode), strings.TrimSpace(p.InternalCode), name); err != nil {
			return 0, fmt.Errorf("inserting product %q: %w", name, err)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing products: %w", err)
	}
	return n, nil
}

// FindProductsByBarcode returns catalog rows with exactly this barcode.
func FindProductsByBarcode(ctx context.Context, db *sql.DB, barcode string) ([]model.Product, error) {
	return queryProducts(ctx, db,
		`SELECT barcode, internal_code, name FROM products WHERE barcode = ? ORDER BY name`,
		strings.TrimSpace(barcode),
	)
}

// FindProductsByInternalCode returns catalog rows with exactly this code.
func FindProductsByInternalCode(ctx context.Context, db *sql.DB, code string) ([]model.Product, error) {
	return queryProducts(ctx, db,
		`SELECT barcode, internal_code, name FROM products WHERE internal_code = ? ORDER BY name`,
		strings.TrimSpace(code),
	)
}

// ListProducts returns the whole catalog ordered by name.
func ListProducts(ctx context.Context, db *sql.DB) ([]model.Product, error) {
	return queryProducts(ctx, db, `SELECT barcode, internal_code, name FROM products ORDER BY name`)
}

func queryProducts(ctx context.Context, db *sql.DB, query string, args ...any) ([]model.Product, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying products: %w", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		var barcode, code sql.NullString
		if err := rows.Scan(&barcode, &code, &p.Name); err != nil {
			return nil, fmt.Errorf("scanning product: %w", err)
		}
		p.Barcode = barcode.String
		p.InternalCode = code.String
		products = append(products, p)
	}
	return products, rows.Err()
}
