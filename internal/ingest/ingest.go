// Package ingest reads input documents (text, markdown, PDF, HTML) into
// the content record pipelines consume.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"tenderpipe/internal/logging"
)

// LongContextTokens is the estimated token count above which a document is
// flagged as needing a long-context model.
const LongContextTokens = 8000

// Document is an ingested file.
type Document struct {
	Name                string `json:"name"`
	Path                string `json:"path"`
	Content             string `json:"content"`
	ContentLength       int    `json:"content_length"`
	EstimatedTokens     int    `json:"estimated_tokens"`
	RequiresLongContext bool   `json:"requires_long_context"`
}

// Map returns the document in the shape templates see under inputs.<name>.
func (d Document) Map() map[string]any {
	return map[string]any{
		"name":                  d.Name,
		"path":                  d.Path,
		"content":               d.Content,
		"content_length":        d.ContentLength,
		"estimated_tokens":      d.EstimatedTokens,
		"requires_long_context": d.RequiresLongContext,
	}
}

// Extractor turns a file into text.
type Extractor func(path string) (string, error)

var extractors = map[string]Extractor{
	".txt":  readText,
	".md":   readText,
	".csv":  readText,
	".json": readText,
	".yaml": readText,
	".yml":  readText,
	".pdf":  extractPDF,
	".html": extractHTML,
	".htm":  extractHTML,
}

// ReadFile ingests path. Only a missing or unreadable file is an error;
// extraction problems are reported inline in Content.
func ReadFile(path string) (Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Document{}, fmt.Errorf("file not found: %s: %w", path, err)
	}
	if info.IsDir() {
		return Document{}, fmt.Errorf("%s is a directory", path)
	}

	name := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(path))

	var content string
	if fn, ok := extractors[ext]; ok {
		content, err = fn(path)
		if err != nil {
			if ext == ".pdf" {
				logging.Get(logging.CategoryIngest).Warn("PDF extraction failed for %s: %v", name, err)
				content = fmt.Sprintf("[PDF extraction failed: %v]", err)
			} else {
				return Document{}, err
			}
		}
	} else {
		content, err = readUnknown(path)
		if err != nil {
			return Document{}, err
		}
	}

	doc := FromText(name, content)
	doc.Path = path
	logging.Ingest("Ingested %s (%d chars, ~%d tokens)", name, doc.ContentLength, doc.EstimatedTokens)
	return doc, nil
}

// FromText builds a Document around already-extracted text.
func FromText(name, content string) Document {
	tokens := len(content) / 4
	return Document{
		Name:                name,
		Content:             content,
		ContentLength:       len(content),
		EstimatedTokens:     tokens,
		RequiresLongContext: tokens > LongContextTokens,
	}
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// readUnknown treats unknown extensions as text unless they are not UTF-8.
func readUnknown(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return fmt.Sprintf("[Binary file: %s]", filepath.Base(path)), nil
	}
	return string(data), nil
}
