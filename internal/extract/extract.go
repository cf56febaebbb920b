// Package extract converts stored CV documents into plain text. Dispatch is
// by the declared MIME type; extraction failure is non-fatal to the rest of
// the pipeline.
package extract

import (
	"errors"
	"fmt"

	"github.com/recruitly/cvsync/internal/model"
)

var (
	// ErrExtractionFailed wraps any parse failure from an extraction backend.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrUnsupportedFormat is returned for MIME types with no extractor.
	ErrUnsupportedFormat = errors.New("unsupported document format")
)

// Result is the output of a successful extraction. The pipeline only needs
// Text; Pages and Warnings are kept for operator visibility.
type Result struct {
	Text     string
	Pages    int
	Warnings []string
}

// Extractor converts raw document bytes into plain text.
type Extractor interface {
	Extract(data []byte) (Result, error)
}

// ForMIME returns the extractor for a declared MIME type.
func ForMIME(mimeType string) (Extractor, error) {
	switch mimeType {
	case model.MIMEPDF:
		return pdfExtractor{}, nil
	case model.MIMEWordOpenXML:
		return wordExtractor{}, nil
	case model.MIMEWordLegacy:
		return wordExtractor{legacy: true}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}
}
