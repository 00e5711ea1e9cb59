package textlayer

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/fumiama/go-docx"
	"github.com/xuri/excelize/v2"
)

// DOCX reads paragraph text from a Word document.
type DOCX struct{}

func (DOCX) Extract(_ context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	doc, err := docx.Parse(f, info.Size())
	if err != nil {
		return "", fmt.Errorf("parse docx: %w", err)
	}

	var paras []string
	for _, item := range doc.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		paras = append(paras, paragraphText(para))
	}
	return joinParagraphs(paras), nil
}

func paragraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return buf.String()
}

// XLSX flattens every sheet to tab-separated rows.
type XLSX struct{}

func (XLSX) Extract(_ context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var sheets []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		var b strings.Builder
		b.WriteString("Sheet: " + sheet + "\n")
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteByte('\n')
		}
		sheets = append(sheets, b.String())
	}
	return joinParagraphs(sheets), nil
}

// CSV renders each row as "header: value" pairs so that statement exports
// read as sentences to the chunker.
type CSV struct{}

func (CSV) Extract(_ context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return "", nil
	}

	headers := records[0]
	var b strings.Builder
	for _, row := range records[1:] {
		for j, cell := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			if j < len(headers) {
				b.WriteString(headers[j] + ": " + cell)
			} else {
				b.WriteString(cell)
			}
		}
		b.WriteString(".\n")
	}
	return b.String(), nil
}
