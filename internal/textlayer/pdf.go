package textlayer

import (
	"context"
	"fmt"
	"strings"

	pdflib "github.com/ledongthuc/pdf"

	"github.com/dgallion1/docintake/internal/runner"
)

// PDF reads the embedded text layer with the Go library first, then tries
// pdftotext when the library fails or finds nothing.
type PDF struct {
	Runner    runner.Runner
	Pdftotext string
}

func (p *PDF) Extract(ctx context.Context, path string) (string, error) {
	text, err := readPDFText(path)
	if p.Runner == nil || p.Pdftotext == "" {
		if err != nil {
			return "", fmt.Errorf("extract pdf text: %w", err)
		}
		return text, nil
	}

	if err != nil {
		text, err = p.pdftotext(ctx, path)
		if err != nil {
			return "", fmt.Errorf("extract pdf text: %w", err)
		}
		return text, nil
	}
	if strings.TrimSpace(text) == "" {
		// Some fonts decode to nothing in the Go reader but not in poppler.
		if alt, altErr := p.pdftotext(ctx, path); altErr == nil {
			return alt, nil
		}
	}
	return text, nil
}

func readPDFText(path string) (text string, err error) {
	// The reader panics on some malformed xref tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader: %v", r)
		}
	}()

	f, reader, err := pdflib.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if i > 1 {
			buf.WriteString("\f") // Form feed as page separator.
		}
		buf.WriteString(pageText)
	}
	return buf.String(), nil
}

func (p *PDF) pdftotext(ctx context.Context, path string) (string, error) {
	out, errb, err := p.Runner.Run(ctx, p.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w: %s", err, runner.Truncate(string(errb), 512))
	}
	return string(out), nil
}
