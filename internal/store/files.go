package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/filial/internal/model"
)

// PutFile stores f, replacing any existing object at the same bucket and path.
func PutFile(ctx context.Context, db *sql.DB, f *model.File) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO files (bucket, path, mime, size, checksum, data)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (bucket, path) DO UPDATE SET
		     mime = excluded.mime, size = excluded.size, checksum = excluded.checksum,
		     data = excluded.data, created_at = CURRENT_TIMESTAMP`,
		f.Bucket, f.Path, f.MIME, f.Size, f.Checksum, f.Data,
	)
	if err != nil {
		return fmt.Errorf("storing file: %w", err)
	}
	return nil
}

// GetFile returns a stored object including its data.
func GetFile(ctx context.Context, db *sql.DB, bucket, path string) (*model.File, error) {
	f := &model.File{}
	err := db.QueryRowContext(ctx,
		`SELECT bucket, path, mime, size, checksum, data, created_at
		 FROM files WHERE bucket = ? AND path = ?`, bucket, path,
	).Scan(&f.Bucket, &f.Path, &f.MIME, &f.Size, &f.Checksum, &f.Data, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting file: %w", err)
	}
	return f, nil
}
