package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/erazemk/filial/internal/lifecycle"
	"github.com/erazemk/filial/internal/model"
)

const transferColumns = `id, requester_branch, supplier_branch, product, product_barcode,
	product_internal_code, quantity, observations, invoice_key, invoice_url,
	product_image_url, status, request_date`

// CreateTransfer stores a new transfer in status Requested together with its
// first history entry, attributed to the requester, in a single transaction.
// ID, Status and RequestDate of t are ignored.
func CreateTransfer(ctx context.Context, db *sql.DB, t *model.Transfer) (*model.Transfer, error) {
	if t.RequesterBranch == t.SupplierBranch {
		return nil, fmt.Errorf("cannot request a transfer from the same branch")
	}
	if t.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}
	if strings.TrimSpace(t.Product) == "" {
		return nil, fmt.Errorf("product required")
	}

	id := uuid.NewString()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transfers (id, requester_branch, supplier_branch, product, product_barcode,
		                        product_internal_code, quantity, observations, status)
		 VALUES (?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, NULLIF(?, ''), ?)`,
		id, t.RequesterBranch, t.SupplierBranch, strings.TrimSpace(t.Product), t.ProductBarcode,
		t.ProductInternalCode, t.Quantity, t.Observations, model.StatusRequested,
	)
	if err != nil {
		return nil, fmt.Errorf("creating transfer: %w", err)
	}

	if err := appendHistory(ctx, tx, id, model.StatusRequested, t.RequesterBranch); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transfer: %w", err)
	}

	return GetTransfer(ctx, db, id)
}

// ApplyTransition moves transfer id to the next status on behalf of actor.
// The status change, the invoice metadata (when entering Shipped) and the
// history entry are written in one transaction; a rejected transition
// leaves the transfer untouched. Lifecycle errors are returned wrapped, so
// errors.Is works with the lifecycle sentinels.
func ApplyTransition(ctx context.Context, db *sql.DB, id, actor string, req lifecycle.Request) (*model.Transfer, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Take the write lock before reading so concurrent transitions of the
	// same transfer serialize instead of both passing the check.
	result, err := tx.ExecContext(ctx, `UPDATE transfers SET status = status WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("locking transfer: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	current, err := getTransfer(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNotFound
	}

	next, err := lifecycle.Plan(current, actor, req)
	if err != nil {
		return nil, fmt.Errorf("transfer %s: %w", id, err)
	}

	if next == model.StatusShipped {
		result, err = tx.ExecContext(ctx,
			`UPDATE transfers SET status = ?, invoice_key = ?, invoice_url = NULLIF(?, '')
			 WHERE id = ? AND status = ?`,
			next, lifecycle.NormalizeInvoiceKey(req.InvoiceKey), req.InvoiceURL, id, current.Status,
		)
	} else {
		result, err = tx.ExecContext(ctx,
			`UPDATE transfers SET status = ? WHERE id = ? AND status = ?`,
			next, id, current.Status,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("updating transfer status: %w", err)
	}
	if n, _ := result.RowsAffected(); n != 1 {
		return nil, fmt.Errorf("transfer %s: %w", id, lifecycle.ErrInvalidTransition)
	}

	if err := appendHistory(ctx, tx, id, next, actor); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transition: %w", err)
	}

	return GetTransfer(ctx, db, id)
}

func appendHistory(ctx context.Context, tx *sql.Tx, transferID string, status model.Status, by string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO status_history (id, transfer_id, status, updated_by, seq)
		 SELECT ?, ?, ?, ?, COALESCE(MAX(seq), 0) + 1 FROM status_history WHERE transfer_id = ?`,
		uuid.NewString(), transferID, status, by, transferID,
	)
	if err != nil {
		return fmt.Errorf("recording status history: %w", err)
	}
	return nil
}

// GetTransfer returns a transfer with its status history.
func GetTransfer(ctx context.Context, db *sql.DB, id string) (*model.Transfer, error) {
	t, err := getTransfer(ctx, db, id)
	if err != nil || t == nil {
		return t, err
	}

	t.History, err = ListStatusHistory(ctx, db, id)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func getTransfer(ctx context.Context, q querier, id string) (*model.Transfer, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE id = ?`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("getting transfer: %w", err)
	}
	defer rows.Close()

	transfers, err := scanTransfers(rows)
	if err != nil {
		return nil, err
	}
	if len(transfers) == 0 {
		return nil, nil
	}
	return &transfers[0], nil
}

// TransferFilter narrows ListTransfers. Zero fields do not filter.
type TransferFilter struct {
	// Branch matches transfers where the branch is requester or supplier.
	Branch string
	Status model.Status
	// Query matches a case-insensitive substring of the product name or id.
	Query string
	// Date matches the request day, formatted YYYY-MM-DD (UTC).
	Date string
}

// ListTransfers returns transfers matching f, newest first, with history.
func ListTransfers(ctx context.Context, db *sql.DB, f TransferFilter) ([]model.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE 1=1`
	var args []any

	if f.Branch != "" {
		query += ` AND (requester_branch = ? OR supplier_branch = ?)`
		args = append(args, f.Branch, f.Branch)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
		query += ` AND (LOWER(product) LIKE ? ESCAPE '\' OR LOWER(id) LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern)
	}
	if f.Date != "" {
		query += ` AND date(request_date) = ?`
		args = append(args, f.Date)
	}

	query += ` ORDER BY request_date DESC, rowid DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transfers: %w", err)
	}
	transfers, err := scanTransfers(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if err := attachHistory(ctx, db, transfers); err != nil {
		return nil, err
	}
	return transfers, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// attachHistory loads the history of all transfers in one query.
func attachHistory(ctx context.Context, db *sql.DB, transfers []model.Transfer) error {
	if len(transfers) == 0 {
		return nil
	}

	index := make(map[string]int, len(transfers))
	placeholders := make([]string, len(transfers))
	args := make([]any, len(transfers))
	for i, t := range transfers {
		index[t.ID] = i
		placeholders[i] = "?"
		args[i] = t.ID
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, transfer_id, status, updated_by, created_at FROM status_history
		 WHERE transfer_id IN (`+strings.Join(placeholders, ", ")+`)
		 ORDER BY transfer_id, seq`, args...,
	)
	if err != nil {
		return fmt.Errorf("listing status history: %w", err)
	}
	defer rows.Close()

	entries, err := scanHistory(rows)
	if err != nil {
		return err
	}
	for _, e := range entries {
		i := index[e.TransferID]
		transfers[i].History = append(transfers[i].History, e)
	}
	return nil
}

// ListStatusHistory returns a transfer's history in the order it happened.
func ListStatusHistory(ctx context.Context, db *sql.DB, transferID string) ([]model.StatusHistoryEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, transfer_id, status, updated_by, created_at FROM status_history
		 WHERE transfer_id = ? ORDER BY seq`, transferID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing status history: %w", err)
	}
	defer rows.Close()

	return scanHistory(rows)
}

func scanHistory(rows *sql.Rows) ([]model.StatusHistoryEntry, error) {
	var entries []model.StatusHistoryEntry
	for rows.Next() {
		var e model.StatusHistoryEntry
		if err := rows.Scan(&e.ID, &e.TransferID, &e.Status, &e.UpdatedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning status history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SetProductImage records the URL of the product photo for a transfer.
func SetProductImage(ctx context.Context, db *sql.DB, id, url string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE transfers SET product_image_url = ? WHERE id = ?`, url, id,
	)
	if err != nil {
		return fmt.Errorf("setting product image: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestProductImage returns the most recent photo URL recorded for a
// product name, or "" if none was ever uploaded.
func LatestProductImage(ctx context.Context, db *sql.DB, product string) (string, error) {
	var url string
	err := db.QueryRowContext(ctx,
		`SELECT product_image_url FROM transfers
		 WHERE product = ? AND product_image_url IS NOT NULL AND product_image_url <> ''
		 ORDER BY request_date DESC, rowid DESC LIMIT 1`,
		strings.TrimSpace(product),
	).Scan(&url)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting latest product image: %w", err)
	}
	return url, nil
}

func scanTransfers(rows *sql.Rows) ([]model.Transfer, error) {
	var transfers []model.Transfer
	for rows.Next() {
		var t model.Transfer
		var barcode, internalCode, observations, invoiceKey, invoiceURL, imageURL sql.NullString
		if err := rows.Scan(&t.ID, &t.RequesterBranch, &t.SupplierBranch, &t.Product, &barcode,
			&internalCode, &t.Quantity, &observations, &invoiceKey, &invoiceURL,
			&imageURL, &t.Status, &t.RequestDate); err != nil {
			return nil, fmt.Errorf("scanning transfer: %w", err)
		}
		t.ProductBarcode = barcode.String
		t.ProductInternalCode = internalCode.String
		t.Observations = observations.String
		t.InvoiceKey = invoiceKey.String
		t.InvoiceURL = invoiceURL.String
		t.ProductImageURL = imageURL.String
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}
