package invoice

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// DocumentValidator checks an upload and returns its page count
type DocumentValidator func(data []byte) (int, error)

// ValidatePDF accepts only documents pdfcpu can read in relaxed mode
func ValidatePDF(data []byte) (int, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-")) {
		return 0, fmt.Errorf("%w: missing PDF header", ErrInvalidDocument)
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if pages == 0 {
		return 0, fmt.Errorf("%w: no pages", ErrInvalidDocument)
	}
	return pages, nil
}
