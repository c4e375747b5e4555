package api

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/filial/internal/barcode"
	"github.com/erazemk/filial/internal/catalog"
	"github.com/erazemk/filial/internal/model"
	"github.com/erazemk/filial/internal/storage"
)

// Options wires the router to its collaborators.
type Options struct {
	DB        *sql.DB
	JWTSecret string
	// Branches are the configured branch ids in display order.
	Branches []string
	Storage  storage.Uploader
	Catalog  catalog.Source
	// CatalogName labels catalog metrics (local or remote).
	CatalogName string
	Decoder     *barcode.Decoder

	MaxImageBytes   int64
	MaxInvoiceBytes int64
}

// NewRouter creates the router with all API and file endpoints registered.
func NewRouter(opts Options) http.Handler {
	mux := http.NewServeMux()

	branches := model.NewBranchSet(opts.Branches)
	v := newValidator(branches)

	authHandler := &AuthHandler{DB: opts.DB, JWTSecret: opts.JWTSecret, Branches: branches, Validate: v}
	branchesHandler := &BranchesHandler{Branches: opts.Branches}
	transfersHandler := &TransfersHandler{
		DB:              opts.DB,
		Storage:         opts.Storage,
		Validate:        v,
		MaxImageBytes:   opts.MaxImageBytes,
		MaxInvoiceBytes: opts.MaxInvoiceBytes,
	}
	productsHandler := &ProductsHandler{DB: opts.DB, Catalog: opts.Catalog, Source: opts.CatalogName}
	barcodeHandler := &BarcodeHandler{Decoder: opts.Decoder, MaxBytes: opts.MaxImageBytes}
	filesHandler := &FilesHandler{DB: opts.DB}

	authMW := AuthMiddleware(opts.JWTSecret, opts.DB, branches)
	protect := func(h http.HandlerFunc) http.Handler { return authMW(h) }

	// Public: login and stored files.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("GET /files/{bucket}/{path...}", filesHandler.Get)

	// Authenticated routes.
	mux.Handle("POST /api/auth/logout", protect(authHandler.Logout))
	mux.Handle("PUT /api/auth/password", protect(authHandler.ChangePassword))

	mux.Handle("GET /api/branches", protect(branchesHandler.List))

	mux.Handle("GET /api/transfers", protect(transfersHandler.List))
	mux.Handle("POST /api/transfers", protect(transfersHandler.Create))
	mux.Handle("GET /api/transfers/{id}", protect(transfersHandler.Get))
	mux.Handle("GET /api/transfers/{id}/history", protect(transfersHandler.History))
	mux.Handle("GET /api/transfers/{id}/next", protect(transfersHandler.Next))
	mux.Handle("POST /api/transfers/{id}/status", protect(transfersHandler.Transition))
	mux.Handle("PUT /api/transfers/{id}/image", protect(transfersHandler.UploadImage))
	mux.Handle("GET /api/transfers/{id}/invoice/barcode.png", protect(transfersHandler.InvoiceBarcode))

	mux.Handle("GET /api/products/search", protect(productsHandler.Search))
	mux.Handle("GET /api/products/image", protect(productsHandler.Image))

	mux.Handle("POST /api/barcode/decode", protect(barcodeHandler.Decode))

	return mux
}
