package ingest

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"tenderpipe/internal/logging"
)

// extractPDF concatenates the plain text of every page.
func extractPDF(path string) (text string, err error) {
	defer func() {
		// The PDF parser panics on some malformed inputs.
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var parts []string
	pages := r.NumPage()
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if strings.TrimSpace(pageText) == "" {
			logging.Get(logging.CategoryIngest).Debug("page %d: no text extracted", i)
			continue
		}
		parts = append(parts, pageText)
	}
	logging.Ingest("PDF %s: %d pages, %d with text", path, pages, len(parts))
	return strings.Join(parts, "\n"), nil
}
