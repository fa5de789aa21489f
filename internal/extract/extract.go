// Package extract turns uploaded files into plain text.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/homilia/internal/domain"
	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

const (
	MethodText = "text"
	MethodPDF  = "pdf"
)

// textExtensions are accepted as text even when content sniffing is unsure.
var textExtensions = []string{".txt", ".md", ".markdown", ".html", ".htm", ".csv"}

// Extractor detects the file type from content and extracts its text.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, data []byte, filename string) (*domain.Extraction, error) {
	mtype := mimetype.Detect(data)
	result := &domain.Extraction{
		FileType: mtype.String(),
		FileSize: int64(len(data)),
	}

	switch {
	case mtype.Is("application/pdf"):
		text, err := extractPDF(data)
		if err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrExtractionFailed.Code, domain.ErrExtractionFailed.Message, err)
		}
		result.Text = text
		result.Method = MethodPDF
	case isText(mtype, filename, data):
		result.Text = strings.ToValidUTF8(string(data), "\uFFFD")
		result.Method = MethodText
	default:
		return nil, domain.NewDomainErrorWithCause(domain.ErrUnsupportedFormat.Code, domain.ErrUnsupportedFormat.Message,
			fmt.Errorf("%s (%s)", mtype.String(), filename))
	}

	return result, nil
}

func isText(mtype *mimetype.MIME, filename string, data []byte) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range textExtensions {
		if ext == e {
			return utf8.Valid(data)
		}
	}
	return false
}

// extractPDF reads the text layer of a PDF. The parser panics on some
// malformed inputs, so panics are reported as errors.
func extractPDF(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to read pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("failed to read pdf buffer: %w", err)
	}
	return buf.String(), nil
}
