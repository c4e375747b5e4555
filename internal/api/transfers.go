package api

import (
	"bytes"
	"database/sql"
	"errors"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/erazemk/filial/internal/auth"
	"github.com/erazemk/filial/internal/barcode"
	"github.com/erazemk/filial/internal/imaging"
	"github.com/erazemk/filial/internal/lifecycle"
	"github.com/erazemk/filial/internal/metrics"
	"github.com/erazemk/filial/internal/model"
	"github.com/erazemk/filial/internal/storage"
	"github.com/erazemk/filial/internal/store"
)

// formOverhead is the room left for the text fields of a multipart form
// on top of its file.
const formOverhead = 1 << 20

// TransfersHandler handles transfer endpoints.
type TransfersHandler struct {
	DB       *sql.DB
	Storage  storage.Uploader
	Validate *validator.Validate

	MaxImageBytes   int64
	MaxInvoiceBytes int64
}

type createTransferRequest struct {
	SupplierBranch      string `json:"supplier_branch" validate:"required,branch"`
	Product             string `json:"product" validate:"required,max=200"`
	ProductBarcode      string `json:"product_barcode" validate:"omitempty,max=64"`
	ProductInternalCode string `json:"product_internal_code" validate:"omitempty,max=64"`
	Quantity            int    `json:"quantity" validate:"gt=0"`
	Observations        string `json:"observations" validate:"max=1000"`
}

type transitionRequest struct {
	Status     model.Status `json:"status" validate:"required,status"`
	InvoiceKey string       `json:"invoice_key" validate:"max=64"`
}

// transferResponse is a transfer plus the problems that did not stop the
// request from succeeding, such as a failed upload.
type transferResponse struct {
	*model.Transfer
	Warnings []string `json:"warnings,omitempty"`
}

type nextResponse struct {
	Current         model.Status  `json:"current"`
	Role            string        `json:"role"`
	Next            *model.Status `json:"next"`
	InvoiceRequired bool          `json:"invoice_required"`
	Terminal        bool          `json:"terminal"`
}

// upload is a file received in a multipart form.
type upload struct {
	Name string
	MIME string
	Data []byte
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// formFile reads an optional file field. It returns nil if the field is absent.
func formFile(r *http.Request, field string) (*upload, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return readUpload(file, header)
}

func readUpload(file multipart.File, header *multipart.FileHeader) (*upload, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	mime := header.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return &upload{Name: header.Filename, MIME: mime, Data: data}, nil
}

// invoiceMIME returns the stored content type of an invoice file. Only PDF
// and XML (the DANFE and NF-e formats) are accepted, judged by content.
func invoiceMIME(u *upload) (string, bool) {
	if bytes.HasPrefix(u.Data, []byte("%PDF-")) {
		return "application/pdf", true
	}
	sniffed := http.DetectContentType(u.Data)
	if strings.HasPrefix(sniffed, "text/xml") {
		return "application/xml", true
	}
	body := bytes.TrimSpace(bytes.TrimPrefix(u.Data, []byte("\xef\xbb\xbf")))
	if strings.EqualFold(path.Ext(u.Name), ".xml") && strings.HasPrefix(sniffed, "text/plain") && bytes.HasPrefix(body, []byte("<")) {
		return "application/xml", true
	}
	return "", false
}

// loadForCaller fetches the transfer named in the path and checks that the
// caller takes part in it. Non-participants get the same 404 as unknown ids.
func (h *TransfersHandler) loadForCaller(w http.ResponseWriter, r *http.Request) (*model.Transfer, *auth.Claims, bool) {
	claims := GetClaims(r.Context())
	if claims == nil {
		jsonError(w, http.StatusUnauthorized, "not authenticated")
		return nil, nil, false
	}

	t, err := store.GetTransfer(r.Context(), h.DB, r.PathValue("id"))
	if err != nil {
		slog.Error("loading transfer", "transfer", r.PathValue("id"), "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get transfer")
		return nil, nil, false
	}
	if t == nil || lifecycle.RoleOf(t, claims.Branch) == lifecycle.RoleNone {
		jsonError(w, http.StatusNotFound, "transfer not found")
		return nil, nil, false
	}
	return t, claims, true
}

// Create handles POST /api/transfers. It accepts JSON or a multipart form
// with an optional product_image file.
func (h *TransfersHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		jsonError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req createTransferRequest
	var image *upload
	if isMultipart(r) {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxImageBytes+formOverhead)
		if err := r.ParseMultipartForm(h.MaxImageBytes); err != nil {
			jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
			return
		}
		req.SupplierBranch = r.FormValue("supplier_branch")
		req.Product = r.FormValue("product")
		req.ProductBarcode = r.FormValue("product_barcode")
		req.ProductInternalCode = r.FormValue("product_internal_code")
		req.Observations = r.FormValue("observations")
		if v := r.FormValue("quantity"); v != "" {
			q, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				jsonError(w, http.StatusBadRequest, "quantity must be a whole number")
				return
			}
			req.Quantity = q
		}

		var err error
		image, err = formFile(r, "product_image")
		if err != nil {
			jsonError(w, http.StatusBadRequest, "failed to read product image")
			return
		}
	} else if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Product = strings.TrimSpace(req.Product)
	if errs := validateStruct(h.Validate, &req); len(errs) > 0 {
		jsonError(w, http.StatusBadRequest, validationMessage(errs))
		return
	}
	if req.SupplierBranch == claims.Branch {
		jsonError(w, http.StatusBadRequest, "cannot request a transfer from your own branch")
		return
	}

	// Reject a bad photo before anything is stored.
	var photo *imaging.ProcessResult
	if image != nil {
		var err error
		photo, err = imaging.Process(bytes.NewReader(image.Data))
		if err != nil {
			jsonError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	t, err := store.CreateTransfer(r.Context(), h.DB, &model.Transfer{
		RequesterBranch:     claims.Branch,
		SupplierBranch:      req.SupplierBranch,
		Product:             req.Product,
		ProductBarcode:      strings.TrimSpace(req.ProductBarcode),
		ProductInternalCode: strings.TrimSpace(req.ProductInternalCode),
		Quantity:            req.Quantity,
		Observations:        strings.TrimSpace(req.Observations),
	})
	if err != nil {
		slog.Error("creating transfer", "branch", claims.Branch, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to create transfer")
		return
	}

	metrics.TransfersCreated.Inc()
	slog.Info("transfer created", "transfer", t.ID,
		"requester", t.RequesterBranch, "supplier", t.SupplierBranch,
		"product", t.Product, "quantity", t.Quantity)

	resp := transferResponse{Transfer: t}
	if photo != nil {
		url, err := h.storeProductImage(r, t.ID, image.Name, photo)
		if err != nil {
			slog.Warn("product image upload failed", "transfer", t.ID, "error", err)
			resp.Warnings = append(resp.Warnings, "product image could not be uploaded")
		} else {
			t.ProductImageURL = url
		}
	}

	jsonResponse(w, http.StatusCreated, resp)
}

func (h *TransfersHandler) storeProductImage(r *http.Request, id, name string, photo *imaging.ProcessResult) (string, error) {
	objectPath := storage.ProductImagePath(id, time.Now(), name)
	url, err := h.Storage.Upload(r.Context(), storage.BucketProductImages, objectPath, photo.Data, photo.MIME)
	if err != nil {
		metrics.UploadFailures.WithLabelValues(storage.BucketProductImages).Inc()
		return "", err
	}
	if err := store.SetProductImage(r.Context(), h.DB, id, url); err != nil {
		return "", err
	}
	return url, nil
}

// List handles GET /api/transfers. Only transfers the caller takes part in
// are returned. Filters: status, branch (the other party), q (product or id
// substring) and date (YYYY-MM-DD).
func (h *TransfersHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		jsonError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	q := r.URL.Query()
	f := store.TransferFilter{
		Branch: claims.Branch,
		Query:  strings.TrimSpace(q.Get("q")),
		Date:   q.Get("date"),
	}
	if v := q.Get("status"); v != "" {
		s := model.Status(v)
		if !s.Valid() {
			jsonError(w, http.StatusBadRequest, "invalid status")
			return
		}
		f.Status = s
	}
	if f.Date != "" {
		if _, err := time.Parse(time.DateOnly, f.Date); err != nil {
			jsonError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
	}

	transfers, err := store.ListTransfers(r.Context(), h.DB, f)
	if err != nil {
		slog.Error("listing transfers", "branch", claims.Branch, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list transfers")
		return
	}

	if other := q.Get("branch"); other != "" {
		kept := transfers[:0]
		for _, t := range transfers {
			if t.RequesterBranch == other || t.SupplierBranch == other {
				kept = append(kept, t)
			}
		}
		transfers = kept
	}
	if transfers == nil {
		transfers = []model.Transfer{}
	}
	jsonResponse(w, http.StatusOK, transfers)
}

// Get handles GET /api/transfers/{id}.
func (h *TransfersHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, _, ok := h.loadForCaller(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, t)
}

// History handles GET /api/transfers/{id}/history.
func (h *TransfersHandler) History(w http.ResponseWriter, r *http.Request) {
	t, _, ok := h.loadForCaller(w, r)
	if !ok {
		return
	}
	history := t.History
	if history == nil {
		history = []model.StatusHistoryEntry{}
	}
	jsonResponse(w, http.StatusOK, history)
}

// Next handles GET /api/transfers/{id}/next.
func (h *TransfersHandler) Next(w http.ResponseWriter, r *http.Request) {
	t, claims, ok := h.loadForCaller(w, r)
	if !ok {
		return
	}

	role := lifecycle.RoleOf(t, claims.Branch)
	resp := nextResponse{Current: t.Status, Role: role.String()}
	if lifecycle.Terminal(t.Status) {
		resp.Terminal = true
		jsonResponse(w, http.StatusOK, resp)
		return
	}
	if next, ok := lifecycle.NextAllowedStatus(t.Status, role == lifecycle.RoleSupplier, role == lifecycle.RoleRequester); ok {
		resp.Next = &next
		resp.InvoiceRequired = next == model.StatusShipped
	}
	jsonResponse(w, http.StatusOK, resp)
}

// Transition handles POST /api/transfers/{id}/status. Shipping takes an
// invoice_key and, in a multipart form, an optional invoice_file. A failed
// invoice upload is reported as a warning; the status still changes.
func (h *TransfersHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	var invoice *upload
	if isMultipart(r) {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxInvoiceBytes+formOverhead)
		if err := r.ParseMultipartForm(h.MaxInvoiceBytes); err != nil {
			jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
			return
		}
		req.Status = model.Status(r.FormValue("status"))
		req.InvoiceKey = r.FormValue("invoice_key")

		var err error
		invoice, err = formFile(r, "invoice_file")
		if err != nil {
			jsonError(w, http.StatusBadRequest, "failed to read invoice file")
			return
		}
		if invoice != nil {
			mime, ok := invoiceMIME(invoice)
			if !ok {
				jsonError(w, http.StatusBadRequest, "invoice file must be PDF or XML")
				return
			}
			invoice.MIME = mime
		}
	} else if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if errs := validateStruct(h.Validate, &req); len(errs) > 0 {
		jsonError(w, http.StatusBadRequest, validationMessage(errs))
		return
	}

	t, claims, ok := h.loadForCaller(w, r)
	if !ok {
		return
	}

	lreq := lifecycle.Request{Target: req.Status, InvoiceKey: req.InvoiceKey}

	// Check before uploading so a refused transition leaves no orphan file.
	next, err := lifecycle.Plan(t, claims.Branch, lreq)
	if err != nil {
		transitionError(w, t.ID, claims.Branch, err)
		return
	}

	var warnings []string
	if next == model.StatusShipped && invoice != nil {
		objectPath := storage.InvoicePath(t.ID, invoice.Name)
		url, err := h.Storage.Upload(r.Context(), storage.BucketInvoices, objectPath, invoice.Data, invoice.MIME)
		if err != nil {
			metrics.UploadFailures.WithLabelValues(storage.BucketInvoices).Inc()
			slog.Warn("invoice upload failed", "transfer", t.ID, "error", err)
			warnings = append(warnings, "invoice file could not be uploaded")
		} else {
			lreq.InvoiceURL = url
		}
	}

	updated, err := store.ApplyTransition(r.Context(), h.DB, t.ID, claims.Branch, lreq)
	if err != nil {
		transitionError(w, t.ID, claims.Branch, err)
		return
	}

	metrics.Transitions.WithLabelValues(string(updated.Status)).Inc()
	slog.Info("transfer status changed", "transfer", updated.ID,
		"branch", claims.Branch, "from", t.Status, "status", updated.Status)
	jsonResponse(w, http.StatusOK, transferResponse{Transfer: updated, Warnings: warnings})
}

// transitionError maps lifecycle and store errors to responses.
func transitionError(w http.ResponseWriter, id, branch string, err error) {
	var status int
	var reason, message string
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, lifecycle.ErrNotParticipant):
		status, reason, message = http.StatusNotFound, "not_participant", "transfer not found"
	case errors.Is(err, lifecycle.ErrMissingInvoiceKey):
		status, reason, message = http.StatusUnprocessableEntity, "missing_invoice_key", "invoice key required to ship"
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		status, reason, message = http.StatusConflict, "invalid_transition", "status change not allowed"
	default:
		slog.Error("applying transition", "transfer", id, "branch", branch, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update status")
		return
	}

	metrics.TransitionRejections.WithLabelValues(reason).Inc()
	slog.Warn("transition rejected", "transfer", id, "branch", branch, "reason", reason)
	jsonError(w, status, message)
}

// UploadImage handles PUT /api/transfers/{id}/image.
func (h *TransfersHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxImageBytes+formOverhead)
	if err := r.ParseMultipartForm(h.MaxImageBytes); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	image, err := formFile(r, "image")
	if err != nil || image == nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}

	t, claims, ok := h.loadForCaller(w, r)
	if !ok {
		return
	}

	photo, err := imaging.Process(bytes.NewReader(image.Data))
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	url, err := h.storeProductImage(r, t.ID, image.Name, photo)
	if err != nil {
		slog.Error("product image upload failed", "transfer", t.ID, "error", err)
		jsonError(w, http.StatusBadGateway, "failed to store image")
		return
	}
	t.ProductImageURL = url

	slog.Info("product image updated", "transfer", t.ID, "branch", claims.Branch,
		"width", photo.Width, "height", photo.Height)
	jsonResponse(w, http.StatusOK, t)
}

// InvoiceBarcode handles GET /api/transfers/{id}/invoice/barcode.png.
func (h *TransfersHandler) InvoiceBarcode(w http.ResponseWriter, r *http.Request) {
	t, _, ok := h.loadForCaller(w, r)
	if !ok {
		return
	}
	if t.InvoiceKey == "" {
		jsonError(w, http.StatusNotFound, "no invoice key")
		return
	}

	img, err := barcode.Render(t.InvoiceKey, 800, 120)
	if err != nil {
		slog.Error("rendering invoice barcode", "transfer", t.ID, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to render barcode")
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to encode barcode")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(buf.Bytes())
}
