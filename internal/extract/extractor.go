// Package extract turns uploaded course documents into page-ordered text blocks.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Extractor extracts page-level text blocks from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Supported reports whether ext (with leading dot) has a dedicated extractor.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".docx", ".pptx", ".odp", ".ods", ".xlsx", ".txt", ".md", ".rst":
		return true
	}
	return false
}

// Extract reads the file at path and returns its text blocks in page order.
func (e *Extractor) Extract(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text blocks from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf"). PDF pages, presentation slides and
// spreadsheet sheets each become one block; other formats yield a single block.
// Unknown extensions are treated as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) ([]string, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".docx", ".odt", ".rtf":
		return extractDOCX(content)
	case ".pptx":
		return extractPPTX(content)
	case ".odp":
		return extractODP(content)
	case ".ods":
		return extractODS(content)
	case ".xlsx":
		return extractExcel(content)
	default:
		return extractPlain(content)
	}
}

// Join concatenates blocks the way the chunker sees them.
func Join(blocks []string) string {
	return strings.Join(blocks, "\n\n")
}
