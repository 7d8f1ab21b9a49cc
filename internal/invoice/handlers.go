package invoice

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
)

// writeJSON writes v as a JSON response with the given status
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes err as a JSON error body with its mapped status.
// Unclassified failures are reported without their detail.
func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
		message = "Internal server error"
	}
	writeJSON(w, code, map[string]string{"error": message})
}

// writeBadRequest writes a 400 with a user-facing message
func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}

// parseUpload parses a multipart request within the server's size limit
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": "File is too large. Maximum size is " + strconv.FormatInt(s.maxUploadBytes>>20, 10) + "MB.",
			})
			return false
		}
		writeBadRequest(w, "Error parsing form")
		return false
	}
	return true
}

// readPart reads one uploaded file
func readPart(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// handleUploadInvoice stores a single PDF
func (s *Server) handleUploadInvoice(w http.ResponseWriter, r *http.Request) {
	if !s.parseUpload(w, r) {
		return
	}

	_, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeBadRequest(w, "No file was selected. Please choose a PDF to upload.")
		return
	}

	data, err := readPart(header)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, err)
		return
	}

	inv, err := s.service.Upload(r.Context(), PrincipalFrom(r.Context()), header.Filename, data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// handleBulkUpload stores every file of a multipart request
func (s *Server) handleBulkUpload(w http.ResponseWriter, r *http.Request) {
	if !s.parseUpload(w, r) {
		return
	}

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeBadRequest(w, "No files were selected.")
		return
	}

	files := make([]UploadFile, 0, len(headers))
	for _, header := range headers {
		data, err := readPart(header)
		if err != nil {
			slog.Error("Error reading file data", "error", err, "filename", header.Filename)
			writeError(w, err)
			return
		}
		files = append(files, UploadFile{Name: header.Filename, Data: data})
	}

	report, err := s.service.UploadBatch(r.Context(), PrincipalFrom(r.Context()), files)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleListInvoices returns the caller's invoices
func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.service.ListInvoices(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

// handleGetInvoice returns one invoice
func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.service.GetInvoice(r.Context(), PrincipalFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// handleListInvoiceItems returns the items of one invoice
func (s *Server) handleListInvoiceItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListItems(r.Context(), PrincipalFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// handleAnalyzeInvoice runs extraction on one invoice
func (s *Server) handleAnalyzeInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.service.Analyze(r.Context(), PrincipalFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// handleDeleteInvoice removes one invoice
func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.Context(), PrincipalFrom(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type batchRequest struct {
	Operation Operation `json:"operation"`
	IDs       []string  `json:"ids"`
}

type batchResponse struct {
	*BatchResult
	FailureCount int `json:"failure_count"`
}

// handleBatch analyzes or deletes a selection of invoices
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		writeBadRequest(w, "No invoices selected")
		return
	}

	ctx := r.Context()
	owner := PrincipalFrom(ctx)
	ids := req.IDs
	if req.Operation == OperationAnalyze {
		var err error
		if ids, err = s.service.AnalyzableIDs(ctx, owner, ids); err != nil {
			writeError(w, err)
			return
		}
	}

	result, err := s.service.RunBatch(ctx, owner, ids, req.Operation)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{BatchResult: result, FailureCount: result.FailureCount()})
}

// handleUpdateItem edits one item
func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var update ItemUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}

	item, err := s.service.UpdateItem(r.Context(), PrincipalFrom(r.Context()), r.PathValue("id"), update)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleListItems returns every item of the caller, optionally filtered by q
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListAllItems(r.Context(), PrincipalFrom(r.Context()), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// handleTrends returns the price trend per normalized description
func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Trends(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleProductHistory returns the purchases of one product
func (s *Server) handleProductHistory(w http.ResponseWriter, r *http.Request) {
	description := r.URL.Query().Get("description")
	if strings.TrimSpace(description) == "" {
		writeBadRequest(w, "description is required")
		return
	}

	history, err := s.service.ProductHistory(r.Context(), PrincipalFrom(r.Context()), description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// handleSummary returns the dashboard summary
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	days := s.chartDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 366 {
			writeBadRequest(w, "days must be between 1 and 366")
			return
		}
		days = n
	}

	dashboard, err := s.service.Dashboard(r.Context(), PrincipalFrom(r.Context()), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

// handleFile serves a stored document
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.OpenDocument(r.Context(), r.PathValue("path"))
	if err != nil {
		slog.Error("Error reading stored document", "error", err, "path", r.PathValue("path"))
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		slog.Error("Error writing document", "error", err)
	}
}
