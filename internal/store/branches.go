package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/filial/internal/model"
)

// CreateBranch creates a branch with the given password hash.
func CreateBranch(ctx context.Context, db *sql.DB, id, passwordHash string) (*model.Branch, error) {
	if id == "" {
		return nil, fmt.Errorf("branch id required")
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO branches (id, password_hash) VALUES (?, ?)`,
		id, passwordHash,
	)
	if err != nil {
		return nil, fmt.Errorf("creating branch: %w", err)
	}

	return GetBranch(ctx, db, id)
}

// GetBranch returns a branch by id.
func GetBranch(ctx context.Context, db *sql.DB, id string) (*model.Branch, error) {
	b := &model.Branch{}
	err := db.QueryRowContext(ctx,
		`SELECT id, password_hash, created_at FROM branches WHERE id = ?`, id,
	).Scan(&b.ID, &b.PasswordHash, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting branch: %w", err)
	}
	return b, nil
}

// ListBranches returns every stored branch ordered by id.
func ListBranches(ctx context.Context, db *sql.DB) ([]model.Branch, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, password_hash, created_at FROM branches ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	defer rows.Close()

	var branches []model.Branch
	for rows.Next() {
		var b model.Branch
		if err := rows.Scan(&b.ID, &b.PasswordHash, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning branch: %w", err)
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

// UpdateBranchPassword replaces a branch's password hash.
func UpdateBranchPassword(ctx context.Context, db *sql.DB, id, passwordHash string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE branches SET password_hash = ? WHERE id = ?`,
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("updating branch password: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
