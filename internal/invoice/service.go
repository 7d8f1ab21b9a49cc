package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IDGenerator generates unique IDs for invoices and items
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates time-ordered UUIDs so that id order follows creation order
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service exposes the owner-scoped invoice operations
type Service struct {
	repo         Repository
	gateway      *Gateway
	orchestrator *Orchestrator
	validate     DocumentValidator
	idGenerator  IDGenerator
	timeSource   TimeSource
}

// NewService creates a Service that accepts only valid PDFs
func NewService(repo Repository, gateway *Gateway, orchestrator *Orchestrator) *Service {
	return NewServiceWithDeps(repo, gateway, orchestrator, ValidatePDF, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a Service with custom dependencies for testing
func NewServiceWithDeps(repo Repository, gateway *Gateway, orchestrator *Orchestrator, validate DocumentValidator, idGen IDGenerator, timeSrc TimeSource) *Service {
	if validate == nil {
		validate = ValidatePDF
	}
	if idGen == nil {
		idGen = &defaultIDGenerator{}
	}
	if timeSrc == nil {
		timeSrc = &defaultTimeSource{}
	}
	return &Service{
		repo:         repo,
		gateway:      gateway,
		orchestrator: orchestrator,
		validate:     validate,
		idGenerator:  idGen,
		timeSource:   timeSrc,
	}
}

func requireOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return ErrAuthenticationRequired
	}
	return nil
}

// storeError wraps unexpected store failures in ErrPersistence and leaves
// the domain errors that callers match on untouched
func storeError(op string, err error) error {
	for _, known := range []error{ErrNotFound, ErrOwnershipViolation, ErrAlreadyAnalyzed, ErrInvalidItem, ErrPersistence} {
		if errors.Is(err, known) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// Upload stores a PDF and records it as an uploaded invoice
func (s *Service) Upload(ctx context.Context, ownerID, fileName string, data []byte) (*Invoice, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	pages, err := s.validate(data)
	if err != nil {
		return nil, err
	}

	stored, err := s.gateway.Upload(ctx, ownerID, data, fileName)
	if err != nil {
		return nil, err
	}

	inv := &Invoice{
		ID:          s.idGenerator.Generate(),
		Filename:    fileName,
		FileURL:     stored.URL,
		StoragePath: stored.Path,
		OwnerID:     ownerID,
		Status:      StatusUploaded,
		CreatedAt:   s.timeSource.Now().UTC(),
	}
	if err := s.repo.CreateInvoice(ctx, inv); err != nil {
		s.gateway.Delete(context.WithoutCancel(ctx), stored.Path)
		return nil, storeError("saving invoice", err)
	}

	slog.Info("Invoice uploaded", "invoice_id", inv.ID, "filename", fileName, "pages", pages, "size", len(data))
	return inv, nil
}

// GetInvoice returns one of the owner's invoices
func (s *Service) GetInvoice(ctx context.Context, ownerID, id string) (*Invoice, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	inv, err := s.repo.GetInvoice(ctx, ownerID, id)
	if err != nil {
		return nil, storeError("getting invoice", err)
	}
	return inv, nil
}

// ListInvoices returns the owner's invoices, newest first
func (s *Service) ListInvoices(ctx context.Context, ownerID string) ([]*Invoice, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	invoices, err := s.repo.ListInvoices(ctx, ownerID)
	if err != nil {
		return nil, storeError("listing invoices", err)
	}
	return invoices, nil
}

// ListItems returns the items of one of the owner's invoices
func (s *Service) ListItems(ctx context.Context, ownerID, invoiceID string) ([]*Item, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	items, err := s.repo.ListItems(ctx, ownerID, invoiceID)
	if err != nil {
		return nil, storeError("listing items", err)
	}
	return items, nil
}

// ListAllItems returns every item of the owner joined with its invoice.
// A non-empty query keeps items whose description or invoice filename contains it.
func (s *Service) ListAllItems(ctx context.Context, ownerID, query string) ([]*ItemWithInvoice, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	items, err := s.repo.ListOwnerItems(ctx, ownerID)
	if err != nil {
		return nil, storeError("listing items", err)
	}

	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return items, nil
	}
	filtered := make([]*ItemWithInvoice, 0, len(items))
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.Description), query) ||
			strings.Contains(strings.ToLower(item.Invoice.Filename), query) {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}

// Analyze runs extraction on one of the owner's invoices and returns the updated invoice
func (s *Service) Analyze(ctx context.Context, ownerID, id string) (*Invoice, error) {
	inv, err := s.GetInvoice(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !inv.Status.CanAnalyze() {
		return nil, fmt.Errorf("invoice %s: %w", id, ErrAlreadyAnalyzed)
	}

	if _, err := s.orchestrator.Analyze(ctx, id); err != nil {
		return nil, err
	}
	return s.GetInvoice(ctx, ownerID, id)
}

// Delete removes one of the owner's invoices, its items and its stored document.
// A failure to delete the document is logged and does not stop the row deletion.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	inv, err := s.GetInvoice(ctx, ownerID, id)
	if err != nil {
		return err
	}

	_ = s.gateway.Delete(ctx, inv.StoragePath)

	if err := s.repo.DeleteInvoice(ctx, ownerID, id); err != nil {
		return storeError("deleting invoice", err)
	}
	slog.Info("Invoice deleted", "invoice_id", id)
	return nil
}

// UpdateItem edits an item of one of the owner's invoices and recomputes its total
func (s *Service) UpdateItem(ctx context.Context, ownerID, itemID string, update ItemUpdate) (*Item, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	item, err := s.repo.UpdateItem(ctx, ownerID, itemID, update)
	if err != nil {
		return nil, storeError("updating item", err)
	}
	return item, nil
}

// OpenDocument reads a stored document by its object path
func (s *Service) OpenDocument(ctx context.Context, path string) ([]byte, error) {
	return s.gateway.Open(ctx, path)
}
