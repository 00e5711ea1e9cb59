// Package textlayer reads text that is already embedded in a file: the text
// layer of a PDF, or the body of a text, markup or office document.
package textlayer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgallion1/docintake/internal/runner"
)

// Extractor returns the embedded text of the file at path.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Format names a family of documents that share an extractor.
type Format string

const (
	FormatPDF      Format = "PDF"
	FormatText     Format = "text"
	FormatMarkdown Format = "Markdown"
	FormatHTML     Format = "HTML"
	FormatCSV      Format = "CSV"
	FormatDOCX     Format = "DOCX"
	FormatXLSX     Format = "XLSX"
)

const (
	MIMEPDF  = "application/pdf"
	MIMEDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var formatsByMIME = map[string]Format{
	MIMEPDF:            FormatPDF,
	"text/plain":       FormatText,
	"application/json": FormatText,
	"text/markdown":    FormatMarkdown,
	"text/x-markdown":  FormatMarkdown,
	"text/html":        FormatHTML,
	"text/csv":         FormatCSV,
	MIMEDOCX:           FormatDOCX,
	MIMEXLSX:           FormatXLSX,
}

var mimeByExtension = map[string]string{
	".pdf":      MIMEPDF,
	".txt":      "text/plain",
	".json":     "application/json",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".html":     "text/html",
	".htm":      "text/html",
	".csv":      "text/csv",
	".docx":     MIMEDOCX,
	".xlsx":     MIMEXLSX,
	".png":      "image/png",
	".jpg":      "image/jpeg",
	".jpeg":     "image/jpeg",
	".tif":      "image/tiff",
	".tiff":     "image/tiff",
	".bmp":      "image/bmp",
	".gif":      "image/gif",
	".webp":     "image/webp",
}

// FormatFor maps a MIME type to its text-layer format. Parameters such as
// "; charset=utf-8" are ignored.
func FormatFor(mimeType string) (Format, bool) {
	f, ok := formatsByMIME[baseMIME(mimeType)]
	return f, ok
}

// MIMEForFilename guesses a MIME type from the file extension. Unknown
// extensions map to application/octet-stream.
func MIMEForFilename(name string) string {
	if m, ok := mimeByExtension[strings.ToLower(filepath.Ext(name))]; ok {
		return m
	}
	return "application/octet-stream"
}

// IsImage reports whether mimeType is an image/* type.
func IsImage(mimeType string) bool {
	return strings.HasPrefix(baseMIME(mimeType), "image/")
}

func baseMIME(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// Registry holds one extractor per format.
type Registry struct {
	extractors map[Format]Extractor
}

// Options configure the PDF fallback binary.
type Options struct {
	Runner    runner.Runner
	Pdftotext string // empty disables the pdftotext fallback
}

// NewRegistry wires the standard extractors.
func NewRegistry(opts Options) *Registry {
	return &Registry{extractors: map[Format]Extractor{
		FormatPDF:      &PDF{Runner: opts.Runner, Pdftotext: opts.Pdftotext},
		FormatText:     Text{},
		FormatMarkdown: Markdown{},
		FormatHTML:     HTML{},
		FormatCSV:      CSV{},
		FormatDOCX:     DOCX{},
		FormatXLSX:     XLSX{},
	}}
}

// Set replaces the extractor for a format.
func (r *Registry) Set(f Format, e Extractor) {
	r.extractors[f] = e
}

// For returns the extractor registered for a format.
func (r *Registry) For(f Format) (Extractor, error) {
	e, ok := r.extractors[f]
	if !ok {
		return nil, fmt.Errorf("no text extractor for %s", f)
	}
	return e, nil
}

// Text handles plain text and JSON.
type Text struct{}

func (Text) Extract(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), ""), nil
}

// joinParagraphs trims each paragraph, drops empty ones and joins the rest
// with a blank line.
func joinParagraphs(paras []string) string {
	var b strings.Builder
	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p)
	}
	return b.String()
}
