// Package model contains the struct definitions shared across packages.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus describes the processing lifecycle of an uploaded invoice.
type InvoiceStatus string

const (
	StatusUploaded   InvoiceStatus = "UPLOADED"
	StatusProcessing InvoiceStatus = "PROCESSING"
	StatusCompleted  InvoiceStatus = "COMPLETED"
	StatusFailed     InvoiceStatus = "FAILED"
)

// Terminal reports whether no further automatic transition exists.
func (s InvoiceStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known lifecycle states.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// File size and type limits enforced at grant time.
const (
	MinFileSize = 1
	MaxFileSize = 10 << 20 // 10 MiB
)

// AllowedMimeTypes is the closed set of document types the scanner accepts.
var AllowedMimeTypes = map[string]struct{}{
	"application/pdf": {},
	"image/jpeg":      {},
	"image/png":       {},
	"image/tiff":      {},
	"image/bmp":       {},
}

// InvoiceRecord is the canonical metadata row for one uploaded invoice.
// ID and OwnerID are immutable after creation; status mutations go through
// the store's typed transition methods only.
type InvoiceRecord struct {
	ID                    string         `json:"id"`
	OwnerID               string         `json:"ownerId"`
	FileName              string         `json:"fileName"`
	FileSize              int64          `json:"fileSize"`
	MimeType              string         `json:"mimeType"`
	BlobKey               string         `json:"-"`
	Status                InvoiceStatus  `json:"status"`
	ErrorMessage          *string        `json:"error,omitempty"`
	ExtractedData         *ExtractedData `json:"extractedData,omitempty"`
	CreatedAt             time.Time      `json:"createdAt"`
	UpdatedAt             time.Time      `json:"updatedAt"`
	ProcessingStartedAt   *time.Time     `json:"processingStartedAt,omitempty"`
	ProcessingCompletedAt *time.Time     `json:"processingCompletedAt,omitempty"`
}

// ExtractedData is the structured payload produced by a successful
// processing pass. Every field is best-effort; sparsity is not an error.
// Dates are kept verbatim as printed on the document.
type ExtractedData struct {
	InvoiceNumber string            `json:"invoiceNumber,omitempty"`
	InvoiceDate   string            `json:"invoiceDate,omitempty"`
	DueDate       string            `json:"dueDate,omitempty"`
	VendorName    string            `json:"vendorName,omitempty"`
	VendorAddress string            `json:"vendorAddress,omitempty"`
	CustomerName  string            `json:"customerName,omitempty"`
	Subtotal      *decimal.Decimal  `json:"subtotal,omitempty"`
	TaxAmount     *decimal.Decimal  `json:"taxAmount,omitempty"`
	TotalAmount   *decimal.Decimal  `json:"totalAmount,omitempty"`
	Currency      string            `json:"currency,omitempty"`
	LineItems     []LineItem        `json:"lineItems,omitempty"`
	Confidence    ConfidenceSummary `json:"confidence"`
}

// LineItem is one row of the invoice body.
type LineItem struct {
	Description string           `json:"description"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unitPrice"`
	Total       decimal.Decimal  `json:"total"`
	TaxRate     *decimal.Decimal `json:"taxRate,omitempty"`
}

// ConfidenceSummary carries the OCR confidence reduction: Overall is the
// arithmetic mean of per-block scores in [0,1], Fields holds optional
// per-field scores from the structuring capability.
type ConfidenceSummary struct {
	Overall float64            `json:"overall"`
	Fields  map[string]float64 `json:"fields,omitempty"`
}
