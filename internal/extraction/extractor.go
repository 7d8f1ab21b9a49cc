package extraction

import (
	"context"
	"errors"
)

// PDFMimeType is the declared type of every document sent for extraction
const PDFMimeType = "application/pdf"

// ErrNotConfigured is returned by an extractor that has no usable backend
var ErrNotConfigured = errors.New("extraction backend not configured")

// Extractor sends a document to a document-understanding model and returns its raw text answer
type Extractor interface {
	// Extract runs the invoice instruction against document and returns the model's text
	Extract(ctx context.Context, document []byte, mimeType string) (string, error)
	// Close releases backend resources
	Close() error
}

// Unconfigured is an Extractor that always fails with ErrNotConfigured.
// It lets the service start without credentials and report the problem per analyze call.
type Unconfigured struct {
	Reason string
}

// Extract always fails
func (u Unconfigured) Extract(context.Context, []byte, string) (string, error) {
	if u.Reason == "" {
		return "", ErrNotConfigured
	}
	return "", errors.Join(ErrNotConfigured, errors.New(u.Reason))
}

// Close is a no-op
func (Unconfigured) Close() error {
	return nil
}

// invoicePrompt is the instruction shared by all model backends
const invoicePrompt = `You are analyzing a supplier invoice. Read every page of the document and extract:

1. **Supplier**: the name of the business that issued the invoice. If you cannot identify it with confidence, use "Unknown".

2. **Line items**: every purchased product or service line. For each line extract:
   - "description": the product or service text exactly as printed
   - "quantity": the number of units
   - "unit_price": the price of one unit
   - "total_price": the line total as printed on the invoice

Return ONLY valid JSON in this exact format:
{
  "supplier": "Supplier Name",
  "items": [
    {"description": "Product", "quantity": 1, "unit_price": 0.00, "total_price": 0.00}
  ]
}

Important:
- Numbers must be JSON numbers, not strings, using a dot as decimal separator
- Do not include subtotals, taxes or grand totals as items
- Do not include any text before or after the JSON
- Do not use markdown code blocks`
