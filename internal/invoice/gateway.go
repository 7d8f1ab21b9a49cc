package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/franmartos11/mvm-facturas/internal/extraction"
)

// Storage is the object store that holds uploaded documents
type Storage interface {
	Save(ctx context.Context, path string, data []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	PublicURL(path string) string
}

// StoredObject is the location of an uploaded document
type StoredObject struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// Gateway builds unique object paths and wraps storage failures in the error taxonomy
type Gateway struct {
	storage Storage
	clock   TimeSource

	mu   sync.Mutex
	last int64
}

// NewGateway creates a Gateway over storage
func NewGateway(storage Storage, clock TimeSource) *Gateway {
	if clock == nil {
		clock = &defaultTimeSource{}
	}
	return &Gateway{storage: storage, clock: clock}
}

var (
	whitespaceRun  = regexp.MustCompile(`\s+`)
	unsafeNameChar = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// sanitizeFilename collapses whitespace to underscores and drops characters
// that would need escaping in an object key
func sanitizeFilename(filename string) string {
	filename = filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = whitespaceRun.ReplaceAllString(strings.TrimSpace(base), "_")
	base = unsafeNameChar.ReplaceAllString(base, "")
	ext = unsafeNameChar.ReplaceAllString(ext, "")

	const maxLen = 80
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	base = strings.Trim(base, ".")
	if base == "" {
		base = "invoice"
	}
	return base + ext
}

func sanitizeSegment(s string) string {
	s = unsafeNameChar.ReplaceAllString(s, "_")
	if strings.Trim(s, "._") == "" {
		return "_"
	}
	return s
}

// nextStamp returns a millisecond timestamp that never repeats within the process
func (g *Gateway) nextStamp() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	stamp := g.clock.Now().UnixMilli()
	if stamp <= g.last {
		stamp = g.last + 1
	}
	g.last = stamp
	return stamp
}

// ObjectPath returns uploads/<owner>/<stamp>_<sanitized name>
func (g *Gateway) ObjectPath(ownerID, fileName string) string {
	return fmt.Sprintf("uploads/%s/%d_%s", sanitizeSegment(ownerID), g.nextStamp(), sanitizeFilename(fileName))
}

// Upload stores a document under a fresh path owned by ownerID
func (g *Gateway) Upload(ctx context.Context, ownerID string, data []byte, fileName string) (*StoredObject, error) {
	path := g.ObjectPath(ownerID, fileName)
	if err := g.storage.Save(ctx, path, data, extraction.PDFMimeType); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	return &StoredObject{Path: path, URL: g.storage.PublicURL(path)}, nil
}

// Delete removes a stored document. Failures are logged and returned
// wrapped in ErrStorageDelete; callers treat them as non-fatal.
func (g *Gateway) Delete(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	if err := g.storage.Delete(ctx, path); err != nil {
		slog.Warn("Failed to delete stored document", "path", path, "error", err)
		return fmt.Errorf("%w: %w", ErrStorageDelete, err)
	}
	return nil
}

// Open reads a stored document
func (g *Gateway) Open(ctx context.Context, path string) ([]byte, error) {
	return g.storage.Get(ctx, path)
}
