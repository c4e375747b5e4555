package api

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"

	"github.com/erazemk/filial/internal/barcode"
	"github.com/erazemk/filial/internal/imaging"
	"github.com/erazemk/filial/internal/metrics"
)

// BarcodeHandler decodes barcodes from uploaded photos, for devices whose
// camera cannot be streamed.
type BarcodeHandler struct {
	Decoder  *barcode.Decoder
	MaxBytes int64
}

// Decode handles POST /api/barcode/decode with a multipart "image" field.
func (h *BarcodeHandler) Decode(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes+formOverhead)
	if err := r.ParseMultipartForm(h.MaxBytes); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	image, err := formFile(r, "image")
	if err != nil || image == nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}

	img, _, err := imaging.Decode(bytes.NewReader(image.Data))
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.Decoder.Decode(img)
	switch {
	case errors.Is(err, barcode.ErrNotFound):
		metrics.BarcodeDecodes.WithLabelValues("not_found").Inc()
		jsonError(w, http.StatusUnprocessableEntity, "no barcode found")
		return
	case err != nil:
		metrics.BarcodeDecodes.WithLabelValues("error").Inc()
		slog.Error("decoding barcode", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to decode image")
		return
	}

	metrics.BarcodeDecodes.WithLabelValues("found").Inc()
	jsonResponse(w, http.StatusOK, res)
}
