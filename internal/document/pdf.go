// Package document extracts and chunks text from uploaded documents.
package document

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedDocument is returned when a payload is not a readable PDF
// or carries no extractable text.
var ErrUnsupportedDocument = errors.New("unsupported document")

// Page is the plain text of one document page.
type Page struct {
	Number int
	Text   string
}

// ExtractPages pulls plain text out of a PDF, one entry per page that
// carries text. Returns ErrUnsupportedDocument for payloads that cannot
// be parsed or yield nothing.
func ExtractPages(r io.ReaderAt, size int64) ([]Page, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedDocument, err)
	}

	var pages []Page
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not sink the document.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no extractable text", ErrUnsupportedDocument)
	}
	return pages, nil
}
