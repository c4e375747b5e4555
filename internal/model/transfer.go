package model

import "time"

// Status is the lifecycle stage of a transfer. The values are the labels
// branches see and are stored verbatim.
type Status string

// Transfer statuses, in lifecycle order.
const (
	StatusRequested Status = "Solicitado"
	StatusPreparing Status = "Em preparo"
	StatusShipped   Status = "Enviado"
	StatusCompleted Status = "Concluído"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusRequested, StatusPreparing, StatusShipped, StatusCompleted}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Transfer is a request from one branch for stock held by another.
type Transfer struct {
	ID                  string    `json:"id"`
	RequesterBranch     string    `json:"requester_branch"`
	SupplierBranch      string    `json:"supplier_branch"`
	Product             string    `json:"product"`
	ProductBarcode      string    `json:"product_barcode,omitempty"`
	ProductInternalCode string    `json:"product_internal_code,omitempty"`
	Quantity            int       `json:"quantity"`
	Observations        string    `json:"observations,omitempty"`
	InvoiceKey          string    `json:"invoice_key,omitempty"`
	InvoiceURL          string    `json:"invoice_url,omitempty"`
	ProductImageURL     string    `json:"product_image_url,omitempty"`
	Status              Status    `json:"status"`
	RequestDate         time.Time `json:"request_date"`

	// Populated by lookups that join the history table.
	History []StatusHistoryEntry `json:"history,omitempty"`
}

// StatusHistoryEntry records one status a transfer entered.
type StatusHistoryEntry struct {
	ID         string    `json:"id"`
	TransferID string    `json:"transfer_id"`
	Status     Status    `json:"status"`
	UpdatedBy  string    `json:"updated_by"`
	CreatedAt  time.Time `json:"created_at"`
}
