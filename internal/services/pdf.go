package services

import (
	"bytes"
	"errors"
	"strings"

	"github.com/ledongthuc/pdf"
)

var (
	// ErrInvalidPDF is returned when the upload cannot be parsed as a PDF.
	ErrInvalidPDF = errors.New("could not read PDF file: it may be corrupt or not a valid PDF")
	// ErrNoExtractableText is returned when no page yields any text.
	ErrNoExtractableText = errors.New("no extractable text was found in the PDF")
)

type PDFService struct{}

func NewPDFService() *PDFService {
	return &PDFService{}
}

// ExtractText pulls the plain text out of an uploaded PDF, page by page.
// Pages that fail extraction or contain only whitespace are skipped; the
// remaining pages are joined in original order with a blank line between
// them. It also reports the document's page count.
func (s *PDFService) ExtractText(data []byte) (string, int, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, ErrInvalidPDF
	}

	numPages := r.NumPage()
	var parts []string
	for pageIndex := 1; pageIndex <= numPages; pageIndex++ {
		p := r.Page(pageIndex)
		if p.V.IsNull() {
			continue
		}

		text, err := p.GetPlainText(nil)
		if err != nil {
			// A single bad page must not abort the document.
			continue
		}
		if cleaned := strings.TrimSpace(text); cleaned != "" {
			parts = append(parts, cleaned)
		}
	}

	if len(parts) == 0 {
		return "", numPages, ErrNoExtractableText
	}
	return strings.Join(parts, "\n\n"), numPages, nil
}
