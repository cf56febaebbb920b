package extract

import (
	"bytes"
	"fmt"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

type pdfExtractor struct{}

// Extract parses the PDF structure and concatenates page text in document
// order using ledongthuc/pdf.
func (pdfExtractor) Extract(data []byte) (Result, error) {
	reader := bytes.NewReader(data)
	doc, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("%w: new pdf reader: %v", ErrExtractionFailed, err)
	}
	var builder strings.Builder
	var warnings []string
	total := doc.NumPage()
	for page := 1; page <= total; page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return Result{}, fmt.Errorf("%w: page %d: %v", ErrExtractionFailed, page, err)
		}
		builder.WriteString(content)
		builder.WriteString("\n")
	}
	text := builder.String()
	if strings.TrimSpace(text) == "" {
		warnings = append(warnings, "document produced no text")
	}
	return Result{Text: text, Pages: total, Warnings: warnings}, nil
}
