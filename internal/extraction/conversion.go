package extraction

import (
	"bytes"
	"fmt"
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
)

// renderPages renders up to maxPages pages of a PDF to PNG images
func renderPages(document []byte, maxPages int) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(document)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if maxPages > 0 && n > maxPages {
		n = maxPages
	}

	pages := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		img, err := doc.Image(i)
		if err != nil {
			return nil, fmt.Errorf("rendering PDF page %d: %w", i+1, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encoding PNG: %w", err)
		}
		pages = append(pages, buf.Bytes())
	}
	return pages, nil
}

// readText runs a text layer reader and turns a panic in the PDF parser into an error
func readText(read func(document []byte) (string, error), document []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("reading PDF text layer: %v", r)
		}
	}()
	return read(document)
}

// textLayer returns the embedded text of a PDF, or an empty string for scanned documents
func textLayer(document []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(document), int64(len(document)))
	if err != nil {
		return "", fmt.Errorf("opening PDF text layer: %w", err)
	}

	var text strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text.WriteString(content)
		text.WriteString("\n")
	}
	return strings.TrimSpace(text.String()), nil
}
