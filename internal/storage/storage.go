// Package storage keeps uploaded objects (invoice files, product photos)
// in named buckets and hands out the URLs they are served from.
package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/erazemk/filial/internal/model"
	"github.com/erazemk/filial/internal/store"
)

// Buckets.
const (
	BucketInvoices      = "danfe-files"
	BucketProductImages = "product-images"
)

// Uploader stores an object and returns the URL it is reachable at.
type Uploader interface {
	Upload(ctx context.Context, bucket, objectPath string, data []byte, mime string) (string, error)
}

// DB is an Uploader backed by the files table.
type DB struct {
	DB *sql.DB
	// BaseURL prefixes returned URLs. Empty yields root-relative URLs.
	BaseURL string
}

// Upload stores data at bucket/objectPath, replacing any existing object.
func (s *DB) Upload(ctx context.Context, bucket, objectPath string, data []byte, mime string) (string, error) {
	if bucket == "" || objectPath == "" {
		return "", fmt.Errorf("bucket and path required")
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty object")
	}

	f := &model.File{
		Bucket:   bucket,
		Path:     objectPath,
		MIME:     mime,
		Size:     int64(len(data)),
		Checksum: Checksum(data),
		Data:     data,
	}
	if err := store.PutFile(ctx, s.DB, f); err != nil {
		return "", fmt.Errorf("uploading %s/%s: %w", bucket, objectPath, err)
	}
	return s.URL(bucket, objectPath), nil
}

// URL returns the public URL of an object.
func (s *DB) URL(bucket, objectPath string) string {
	segments := strings.Split(objectPath, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.TrimRight(s.BaseURL, "/") + "/files/" + bucket + "/" + strings.Join(segments, "/")
}

// Checksum returns the hex BLAKE3-256 digest of data.
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// CleanFileName reduces a client-supplied file name to a safe path segment.
func CleanFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "file"
	}
	return name
}

// InvoicePath is where a transfer's invoice file lives. Re-uploading for the
// same transfer and name overwrites it.
func InvoicePath(transferID, fileName string) string {
	return transferID + "/" + transferID + "_" + CleanFileName(fileName)
}

// ProductImagePath is where a product photo uploaded at t lives.
func ProductImagePath(transferID string, t time.Time, fileName string) string {
	return transferID + "/" + strconv.FormatInt(t.UnixMilli(), 10) + "_" + CleanFileName(fileName)
}
