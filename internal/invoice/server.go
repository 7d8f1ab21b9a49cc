package invoice

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/franmartos11/mvm-facturas/internal/trends"
)

// defaultMaxUploadBytes caps a multipart upload request
const defaultMaxUploadBytes = int64(50 << 20)

// Authenticator resolves the user id of a request
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

type principalKey struct{}

// WithPrincipal returns a context carrying the authenticated user id
func WithPrincipal(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, principalKey{}, userID)
}

// PrincipalFrom returns the authenticated user id, or an empty string
func PrincipalFrom(ctx context.Context) string {
	userID, _ := ctx.Value(principalKey{}).(string)
	return userID
}

// Server handles HTTP requests for invoices
type Server struct {
	service        *Service
	auth           Authenticator
	mux            *http.ServeMux
	maxUploadBytes int64
	chartDays      int
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithMaxUploadBytes caps the size of upload requests
func WithMaxUploadBytes(n int64) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithChartDays sets how many days the dashboard spend chart covers
func WithChartDays(days int) ServerOption {
	return func(s *Server) {
		if days > 0 {
			s.chartDays = days
		}
	}
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, auth Authenticator, opts ...ServerOption) *Server {
	return NewServerWithMux(service, auth, http.NewServeMux(), opts...)
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, auth Authenticator, mux *http.ServeMux, opts ...ServerOption) *Server {
	s := &Server{
		service:        service,
		auth:           auth,
		mux:            mux,
		maxUploadBytes: defaultMaxUploadBytes,
		chartDays:      trends.DefaultChartDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// requireAuth resolves the principal and stores it in the request context
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			writeError(w, ErrAuthenticationRequired)
			return
		}
		userID, err := s.auth.Authenticate(r)
		if err != nil || userID == "" {
			slog.Debug("Rejected request", "path", r.URL.Path, "error", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="facturas"`)
			writeError(w, ErrAuthenticationRequired)
			return
		}
		next(w, r.WithContext(WithPrincipal(r.Context(), userID)))
	}
}

// corsMiddleware adds CORS headers and answers preflight requests
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/invoices/bulk", s.requireAuth(s.handleBulkUpload))
	s.mux.HandleFunc("POST /api/invoices/batch", s.requireAuth(s.handleBatch))
	s.mux.HandleFunc("GET /api/invoices/{id}/items", s.requireAuth(s.handleListInvoiceItems))
	s.mux.HandleFunc("POST /api/invoices/{id}/analyze", s.requireAuth(s.handleAnalyzeInvoice))
	s.mux.HandleFunc("GET /api/invoices/{id}", s.requireAuth(s.handleGetInvoice))
	s.mux.HandleFunc("DELETE /api/invoices/{id}", s.requireAuth(s.handleDeleteInvoice))
	s.mux.HandleFunc("GET /api/invoices", s.requireAuth(s.handleListInvoices))
	s.mux.HandleFunc("POST /api/invoices", s.requireAuth(s.handleUploadInvoice))

	s.mux.HandleFunc("PATCH /api/items/{id}", s.requireAuth(s.handleUpdateItem))
	s.mux.HandleFunc("GET /api/items", s.requireAuth(s.handleListItems))

	s.mux.HandleFunc("GET /api/trends", s.requireAuth(s.handleTrends))
	s.mux.HandleFunc("GET /api/products/history", s.requireAuth(s.handleProductHistory))
	s.mux.HandleFunc("GET /api/summary", s.requireAuth(s.handleSummary))

	// Stored documents are public, like a public bucket
	s.mux.HandleFunc("GET /files/{path...}", s.handleFile)
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrAuthenticationRequired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrOwnershipViolation):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyAnalyzed):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidItem), errors.Is(err, ErrInvalidDocument), errors.Is(err, ErrUnknownOperation):
		return http.StatusBadRequest
	case errors.Is(err, ErrParse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrFetch), errors.Is(err, ErrStorageWrite):
		return http.StatusBadGateway
	case errors.Is(err, ErrConfiguration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
