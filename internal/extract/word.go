package extract

import (
	"bytes"
	"fmt"
	"strings"

	"code.sajari.com/docconv"
)

// wordExtractor handles both the OpenXML (.docx) and legacy (.doc) formats.
// Styling is discarded; only raw text survives.
type wordExtractor struct {
	legacy bool
}

func (w wordExtractor) Extract(data []byte) (Result, error) {
	convert := docconv.ConvertDocx
	if w.legacy {
		convert = docconv.ConvertDoc
	}
	text, _, err := convert(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	var warnings []string
	if strings.TrimSpace(text) == "" {
		warnings = append(warnings, "document produced no text")
	}
	return Result{Text: text, Warnings: warnings}, nil
}
