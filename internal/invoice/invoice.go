package invoice

import "time"

// Status is the lifecycle state of an invoice
type Status string

const (
	StatusUploaded Status = "uploaded"
	StatusAnalyzed Status = "analyzed"
	StatusError    Status = "error"
)

// CanAnalyze reports whether an extraction may run from this status.
// Both a fresh upload and a failed attempt are eligible; analyzed is terminal.
func (s Status) CanAnalyze() bool {
	return s == StatusUploaded || s == StatusError
}

// Invoice represents an uploaded document and its extraction state
type Invoice struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	FileURL     string    `json:"file_url"`
	StoragePath string    `json:"storage_path"`
	OwnerID     string    `json:"user_id"`
	Status      Status    `json:"status"`
	Supplier    *string   `json:"supplier"`
	CreatedAt   time.Time `json:"created_at"`
}

// SupplierName returns the supplier or an empty string when extraction has not run
func (i *Invoice) SupplierName() string {
	if i.Supplier == nil {
		return ""
	}
	return *i.Supplier
}

// Item is a single line item belonging to an invoice
type Item struct {
	ID          string  `json:"id" db:"id"`
	InvoiceID   string  `json:"invoice_id" db:"invoice_id"`
	Description string  `json:"description" db:"description"`
	Quantity    float64 `json:"quantity" db:"quantity"`
	UnitPrice   float64 `json:"unit_price" db:"unit_price"`
	TotalPrice  float64 `json:"total_price" db:"total_price"`
}

// InvoiceRef is the slice of the owning invoice joined onto an item listing
type InvoiceRef struct {
	Filename  string    `json:"filename"`
	FileURL   string    `json:"file_url"`
	OwnerID   string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ItemWithInvoice is an item joined with its invoice
type ItemWithInvoice struct {
	Item
	Invoice InvoiceRef `json:"invoice"`
}

// ItemUpdate carries the fields a user may edit on an item.
// Nil fields are left unchanged. The total is always recomputed.
type ItemUpdate struct {
	Description *string  `json:"description,omitempty"`
	Quantity    *float64 `json:"quantity,omitempty"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
}

// Apply merges the update into item and recomputes its total
func (u ItemUpdate) Apply(item *Item) error {
	if u.Description != nil {
		item.Description = *u.Description
	}
	if u.Quantity != nil {
		item.Quantity = *u.Quantity
	}
	if u.UnitPrice != nil {
		item.UnitPrice = *u.UnitPrice
	}
	if item.Quantity < 0 || item.UnitPrice < 0 {
		return ErrInvalidItem
	}
	item.TotalPrice = item.Quantity * item.UnitPrice
	return nil
}
