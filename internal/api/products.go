package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/erazemk/filial/internal/catalog"
	"github.com/erazemk/filial/internal/metrics"
	"github.com/erazemk/filial/internal/model"
	"github.com/erazemk/filial/internal/store"
)

// ProductsHandler serves catalog lookups.
type ProductsHandler struct {
	DB      *sql.DB
	Catalog catalog.Source
	// Source names the catalog in metrics.
	Source string
}

// Search handles GET /api/products/search?field=&value=.
func (h *ProductsHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	field, err := catalog.ParseField(q.Get("field"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	timer := prometheus.NewTimer(metrics.CatalogSearchDuration.WithLabelValues(h.Source))
	products, err := h.Catalog.Search(r.Context(), field, q.Get("value"))
	timer.ObserveDuration()

	if errors.Is(err, catalog.ErrEmptyQuery) {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("catalog search failed", "source", h.Source, "field", field, "error", err)
		jsonError(w, http.StatusBadGateway, "product lookup failed")
		return
	}
	if products == nil {
		products = []model.Product{}
	}
	jsonResponse(w, http.StatusOK, products)
}

// Image handles GET /api/products/image?name=. It returns the most recent
// photo uploaded for the product on any earlier transfer.
func (h *ProductsHandler) Image(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		jsonError(w, http.StatusBadRequest, "name required")
		return
	}

	url, err := store.LatestProductImage(r.Context(), h.DB, name)
	if err != nil {
		slog.Error("looking up product image", "product", name, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to look up image")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"url": url})
}
