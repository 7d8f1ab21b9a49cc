package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/franmartos11/mvm-facturas/internal/extraction"
)

// DefaultExtractTimeout bounds a single document-understanding call
const DefaultExtractTimeout = 2 * time.Minute

// AnalysisResult is the outcome of a successful extraction
type AnalysisResult struct {
	Supplier  string `json:"supplier"`
	ItemCount int    `json:"item_count"`
}

// Orchestrator runs the extraction of a single invoice.
// It writes through a privileged ExtractionStore and performs no ownership
// checks; it must only be invoked after the caller verified ownership.
type Orchestrator struct {
	store       ExtractionStore
	fetcher     Fetcher
	extractor   extraction.Extractor
	idGenerator IDGenerator
	timeout     time.Duration
}

// NewOrchestrator creates an Orchestrator. A zero timeout uses DefaultExtractTimeout.
func NewOrchestrator(store ExtractionStore, fetcher Fetcher, extractor extraction.Extractor, idGen IDGenerator, timeout time.Duration) *Orchestrator {
	if idGen == nil {
		idGen = &defaultIDGenerator{}
	}
	if timeout <= 0 {
		timeout = DefaultExtractTimeout
	}
	return &Orchestrator{
		store:       store,
		fetcher:     fetcher,
		extractor:   extractor,
		idGenerator: idGen,
		timeout:     timeout,
	}
}

// Analyze extracts the supplier and line items of an invoice.
// Any failure after the status check moves the invoice to error and is returned.
func (o *Orchestrator) Analyze(ctx context.Context, invoiceID string) (*AnalysisResult, error) {
	logger := slog.With("invoice_id", invoiceID)

	inv, err := o.store.LoadInvoice(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: loading invoice: %w", ErrPersistence, err)
	}
	if !inv.Status.CanAnalyze() {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, ErrAlreadyAnalyzed)
	}

	result, err := o.extract(ctx, inv)
	if err != nil {
		if errors.Is(err, ErrAlreadyAnalyzed) {
			logger.Info("Invoice analyzed concurrently", "error", err)
			return nil, err
		}
		logger.Error("Extraction failed", "filename", inv.Filename, "error", err)
		if failErr := o.store.FailExtraction(context.WithoutCancel(ctx), invoiceID); failErr != nil {
			logger.Error("Failed to record extraction failure", "error", failErr)
		}
		return nil, err
	}

	logger.Info("Invoice analyzed", "supplier", result.Supplier, "items", result.ItemCount)
	return result, nil
}

func (o *Orchestrator) extract(ctx context.Context, inv *Invoice) (*AnalysisResult, error) {
	if o.extractor == nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, extraction.ErrNotConfigured)
	}

	document, err := o.fetcher.Fetch(ctx, inv.FileURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	text, err := o.extractor.Extract(callCtx, document, extraction.PDFMimeType)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	parsed, err := extraction.ParseResponse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	items := make([]*Item, 0, len(parsed.Items))
	for _, line := range parsed.Items {
		items = append(items, &Item{
			ID:          o.idGenerator.Generate(),
			InvoiceID:   inv.ID,
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			TotalPrice:  line.TotalPrice,
		})
	}

	if err := o.store.CompleteExtraction(ctx, inv.ID, parsed.Supplier, items); err != nil {
		if errors.Is(err, ErrAlreadyAnalyzed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	return &AnalysisResult{Supplier: parsed.Supplier, ItemCount: len(items)}, nil
}
