package api

import (
	"database/sql"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/erazemk/filial/internal/store"
)

// FilesHandler serves stored objects at their public URLs.
type FilesHandler struct {
	DB *sql.DB
}

// Get handles GET /files/{bucket}/{path...}.
func (h *FilesHandler) Get(w http.ResponseWriter, r *http.Request) {
	bucket, objectPath := r.PathValue("bucket"), r.PathValue("path")

	f, err := store.GetFile(r.Context(), h.DB, bucket, objectPath)
	if err != nil {
		slog.Error("reading file", "bucket", bucket, "path", objectPath, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	if f == nil {
		jsonError(w, http.StatusNotFound, "file not found")
		return
	}

	w.Header().Set("X-Content-Type-Options", "nosniff")
	if !strings.HasPrefix(f.MIME, "image/") {
		w.Header().Set("Content-Disposition",
			mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(objectPath)}))
	}

	etag := `"` + f.Checksum + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", f.MIME)
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	w.Write(f.Data)
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}
