package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Operation is the action a batch applies to each target
type Operation string

const (
	OperationAnalyze Operation = "analyze"
	OperationDelete  Operation = "delete"
)

// ErrUnknownOperation is returned for a batch operation other than analyze or delete
var ErrUnknownOperation = errors.New("unknown batch operation")

// BatchFailure records why one target failed
type BatchFailure struct {
	ID    string `json:"id"`
	Err   error  `json:"-"`
	Error string `json:"error"`
}

// BatchResult aggregates per-target outcomes.
// Targets never started because the caller went away are listed in Skipped.
type BatchResult struct {
	Succeeded []string       `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
	Skipped   []string       `json:"skipped,omitempty"`
}

// FailureCount returns the number of failed targets
func (r *BatchResult) FailureCount() int {
	return len(r.Failed)
}

// runSequential applies fn to each target in order and keeps going after failures.
// Cancellation of ctx stops the batch between targets; the target in flight
// runs on a context detached from cancellation so it can finish.
func runSequential(ctx context.Context, targets []string, fn func(ctx context.Context, target string) error) *BatchResult {
	result := &BatchResult{Succeeded: []string{}, Failed: []BatchFailure{}}
	for i, target := range targets {
		if ctx.Err() != nil {
			result.Skipped = append(result.Skipped, targets[i:]...)
			slog.Warn("Batch interrupted", "processed", i, "skipped", len(targets)-i)
			break
		}
		if err := fn(context.WithoutCancel(ctx), target); err != nil {
			slog.Warn("Batch target failed", "target", target, "error", err)
			result.Failed = append(result.Failed, BatchFailure{ID: target, Err: err, Error: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, target)
	}
	return result
}

// RunBatch applies op to each of the owner's invoices sequentially.
// Earlier results stand when a later target fails.
func (s *Service) RunBatch(ctx context.Context, ownerID string, ids []string, op Operation) (*BatchResult, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	var fn func(ctx context.Context, id string) error
	switch op {
	case OperationAnalyze:
		fn = func(ctx context.Context, id string) error {
			_, err := s.Analyze(ctx, ownerID, id)
			return err
		}
	case OperationDelete:
		fn = func(ctx context.Context, id string) error {
			return s.Delete(ctx, ownerID, id)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}

	result := runSequential(ctx, ids, fn)
	slog.Info("Batch finished", "operation", op, "succeeded", len(result.Succeeded), "failed", result.FailureCount())
	return result, nil
}

// AnalyzableIDs drops the invoices that are already analyzed.
// Unknown ids are kept so the batch reports them.
func (s *Service) AnalyzableIDs(ctx context.Context, ownerID string, ids []string) ([]string, error) {
	invoices, err := s.ListInvoices(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	analyzed := make(map[string]bool, len(invoices))
	for _, inv := range invoices {
		if inv.Status == StatusAnalyzed {
			analyzed[inv.ID] = true
		}
	}
	targets := make([]string, 0, len(ids))
	for _, id := range ids {
		if !analyzed[id] {
			targets = append(targets, id)
		}
	}
	return targets, nil
}

// UploadFile is one document of a bulk upload
type UploadFile struct {
	Name string
	Data []byte
}

// UploadReport is the outcome of a bulk upload. Targets are file names.
type UploadReport struct {
	*BatchResult
	Invoices []*Invoice `json:"invoices"`
}

// UploadBatch uploads files one after another and reports per-file outcomes
func (s *Service) UploadBatch(ctx context.Context, ownerID string, files []UploadFile) (*UploadReport, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	byName := make(map[string][]UploadFile, len(files))
	names := make([]string, 0, len(files))
	for _, f := range files {
		byName[f.Name] = append(byName[f.Name], f)
		names = append(names, f.Name)
	}

	report := &UploadReport{Invoices: []*Invoice{}}
	report.BatchResult = runSequential(ctx, names, func(ctx context.Context, name string) error {
		f := byName[name][0]
		byName[name] = byName[name][1:]
		inv, err := s.Upload(ctx, ownerID, f.Name, f.Data)
		if err != nil {
			return err
		}
		report.Invoices = append(report.Invoices, inv)
		return nil
	})
	return report, nil
}
