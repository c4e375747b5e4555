package model

// Product is a catalog entry used to fill in transfer requests.
type Product struct {
	Barcode      string `json:"barcode"`
	InternalCode string `json:"internal_code"`
	Name         string `json:"name"`
}
