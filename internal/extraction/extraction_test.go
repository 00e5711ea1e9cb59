package extraction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/docintake/internal/config"
	"github.com/dgallion1/docintake/internal/ingest"
	"github.com/dgallion1/docintake/internal/ocr"
	"github.com/dgallion1/docintake/internal/raster"
	"github.com/dgallion1/docintake/internal/store"
	"github.com/dgallion1/docintake/internal/textlayer"
)

type fixedText struct {
	text string
	err  error
}

func (f fixedText) Extract(context.Context, string) (string, error) { return f.text, f.err }

// pageRaster writes n placeholder images and records the options it got.
type pageRaster struct {
	pages  int
	err    error
	calls  int
	opts   raster.Options
	outDir string
}

func (p *pageRaster) ToImages(_ context.Context, _, outDir string, opts raster.Options) ([]string, error) {
	p.calls++
	p.opts = opts
	p.outDir = outDir
	if p.err != nil {
		return nil, p.err
	}
	var out []string
	for i := range p.pages {
		path := filepath.Join(outDir, fmt.Sprintf("page-%d.png", i+1))
		if err := os.WriteFile(path, []byte("png"), 0o600); err != nil {
			return nil, err
		}
		out = append(out, path)
	}
	return out, nil
}

// pageEngine reads "<base name> text" and blocks on images named in block.
type pageEngine struct {
	name  string
	conf  float64
	block map[string]bool
}

func (e *pageEngine) Name() string { return e.name }

func (e *pageEngine) Recognize(ctx context.Context, imagePath string) (ocr.Recognition, error) {
	base := filepath.Base(imagePath)
	if e.block[base] {
		<-ctx.Done()
		return ocr.Recognition{}, ctx.Err()
	}
	text := "Scanned text from " + base + " with interchange fees listed."
	return ocr.Recognition{Text: text, Confidence: e.conf, Engine: e.name}, nil
}

func writeDoc(t *testing.T, name, mime string) store.Document {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("fixture"), 0o600); err != nil {
		t.Fatal(err)
	}
	return store.Document{ID: "doc-1", Name: name, MIMEType: mime, Path: path}
}

func newOrchestrator(t *testing.T, layer textlayer.Extractor, r raster.Rasterizer, engines ...ocr.Engine) (*Orchestrator, string) {
	t.Helper()
	reg := textlayer.NewRegistry(textlayer.Options{})
	reg.Set(textlayer.FormatPDF, layer)
	tmp := t.TempDir()
	if len(engines) == 0 {
		engines = []ocr.Engine{&pageEngine{name: "standard", conf: 80}}
	}
	agg := ocr.NewAggregator(engines, ocr.AggregatorOptions{Concurrency: 3, PageTimeout: 50 * time.Millisecond})
	return New(Deps{
		Policy:     config.DefaultPolicy(),
		TextLayer:  reg,
		Rasterizer: r,
		Aggregator: agg,
		TempDir:    tmp,
	}), tmp
}

func TestExtract_PDFTextLayerAccepted(t *testing.T) {
	text := strings.Repeat("The qualified rate applies to swiped cards. ", 70)[:3000]
	r := &pageRaster{pages: 2}
	o, _ := newOrchestrator(t, fixedText{text: text}, r)

	results, err := o.Extract(context.Background(), writeDoc(t, "s.pdf", textlayer.MIMEPDF), Options{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	res := results[0]
	if res.Method != ocr.MethodDirectText || res.Confidence != 95 {
		t.Errorf("expected DirectText at 95, got %s at %v", res.Method, res.Confidence)
	}
	if res.Text != text {
		t.Error("expected text layer to be returned unchanged")
	}
	if len(res.Improvements) != 1 || res.Improvements[0] != "Text extracted directly from PDF" {
		t.Errorf("unexpected improvements %v", res.Improvements)
	}
	if r.calls != 0 {
		t.Errorf("expected no rasterisation, got %d calls", r.calls)
	}
}

func TestExtract_ShortTextLayerFallsBackToOCR(t *testing.T) {
	for name, layer := range map[string]fixedText{
		"short": {text: "  Page 1  "},
		"error": {err: errors.New("malformed xref")},
	} {
		t.Run(name, func(t *testing.T) {
			r := &pageRaster{pages: 2}
			o, tmp := newOrchestrator(t, layer, r)
			results, err := o.Extract(context.Background(), writeDoc(t, "s.pdf", textlayer.MIMEPDF), Options{})
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if len(results) != 2 || results[0].Method != "OCR-standard" {
				t.Fatalf("expected 2 OCR results, got %+v", results)
			}
			if r.opts != raster.DefaultOptions() {
				t.Errorf("expected default raster options, got %+v", r.opts)
			}
			if !strings.HasPrefix(filepath.Base(r.outDir), "doc-1-") {
				t.Errorf("expected work dir named after document, got %s", r.outDir)
			}
			entries, _ := os.ReadDir(tmp)
			if len(entries) != 0 {
				t.Errorf("expected work dir removed, found %d entries", len(entries))
			}
		})
	}
}

func TestExtract_PageTimeoutDoesNotFailDocument(t *testing.T) {
	engine := &pageEngine{name: "standard", conf: 90, block: map[string]bool{"page-2.png": true}}
	o, _ := newOrchestrator(t, fixedText{}, &pageRaster{pages: 3}, engine)

	results, err := o.Extract(context.Background(), writeDoc(t, "scan.pdf", textlayer.MIMEPDF), Options{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Page != i {
			t.Errorf("expected page %d at position %d, got %d", i, i, r.Page)
		}
	}
	if results[1].Confidence != 0 || results[1].Text != "" {
		t.Errorf("expected empty zero-confidence page 2, got %+v", results[1])
	}
	if results[0].Confidence != 90 || results[2].Confidence != 90 {
		t.Errorf("expected pages 1 and 3 recognised, got %v and %v", results[0].Confidence, results[2].Confidence)
	}
}

func TestExtract_ForceOCRAndOverrides(t *testing.T) {
	r := &pageRaster{pages: 1}
	o, _ := newOrchestrator(t, fixedText{text: strings.Repeat("embedded text ", 20)}, r,
		&pageEngine{name: "standard", conf: 70}, &pageEngine{name: "line", conf: 99})

	results, err := o.Extract(context.Background(), writeDoc(t, "s.pdf", textlayer.MIMEPDF), Options{
		ForceOCR: true,
		Raster:   raster.Options{Density: 400},
		Engines:  []string{"standard"},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if r.opts.Density != 400 || r.opts.MaxWidth != 1200 {
		t.Errorf("expected merged raster options, got %+v", r.opts)
	}
	if results[0].Method != "OCR-standard" {
		t.Errorf("expected restricted engine, got %s", results[0].Method)
	}

	if _, err := o.Extract(context.Background(), writeDoc(t, "s.pdf", textlayer.MIMEPDF), Options{
		ForceOCR: true, Engines: []string{"cuneiform"},
	}); !errors.Is(err, ingest.ErrExtractionFailed) {
		t.Errorf("expected ExtractionFailed for unknown engine, got %v", err)
	}
}

func TestExtract_Image(t *testing.T) {
	o, _ := newOrchestrator(t, fixedText{}, &pageRaster{})
	results, err := o.Extract(context.Background(), writeDoc(t, "receipt.png", "image/png"), Options{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(results) != 1 || results[0].Method != "OCR-standard" || results[0].Page != 0 {
		t.Errorf("unexpected image result %+v", results)
	}
}

func TestExtract_CancelledDuringOCR(t *testing.T) {
	engine := &pageEngine{name: "standard", conf: 90, block: map[string]bool{"page-1.png": true, "page-2.png": true}}
	o, tmp := newOrchestrator(t, fixedText{}, &pageRaster{pages: 2}, engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(10*time.Millisecond, cancel)

	results, err := o.Extract(ctx, writeDoc(t, "scan.pdf", textlayer.MIMEPDF), Options{})
	if !errors.Is(err, ingest.ErrExtractionFailed) {
		t.Fatalf("expected ExtractionFailed, got %v (%d results)", err, len(results))
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancellation as the cause, got %v", err)
	}
	entries, _ := os.ReadDir(tmp)
	if len(entries) != 0 {
		t.Errorf("expected work dir removed, found %d entries", len(entries))
	}
}

func TestExtract_Failures(t *testing.T) {
	o, _ := newOrchestrator(t, fixedText{}, &pageRaster{err: errors.New("pdftoppm crashed")})
	ctx := context.Background()

	missing := store.Document{ID: "gone", MIMEType: textlayer.MIMEPDF, Path: filepath.Join(t.TempDir(), "gone.pdf")}
	if _, err := o.Extract(ctx, missing, Options{}); !errors.Is(err, ingest.ErrDocumentNotFound) {
		t.Errorf("expected DocumentNotFound, got %v", err)
	}
	if _, err := o.Extract(ctx, writeDoc(t, "a.zip", "application/zip"), Options{}); !errors.Is(err, ingest.ErrUnsupportedDocumentType) {
		t.Errorf("expected UnsupportedDocumentType, got %v", err)
	}
	if _, err := o.Extract(ctx, writeDoc(t, "notes.txt", "text/plain"), Options{}); !errors.Is(err, ingest.ErrUnsupportedDocumentType) {
		t.Errorf("expected text formats rejected by default, got %v", err)
	}
	if _, err := o.Extract(ctx, writeDoc(t, "s.pdf", textlayer.MIMEPDF), Options{}); !errors.Is(err, ingest.ErrExtractionFailed) {
		t.Errorf("expected ExtractionFailed on raster error, got %v", err)
	}

	empty, _ := newOrchestrator(t, fixedText{}, &pageRaster{pages: 0})
	if _, err := empty.Extract(ctx, writeDoc(t, "s.pdf", textlayer.MIMEPDF), Options{}); !errors.Is(err, ingest.ErrExtractionFailed) {
		t.Errorf("expected ExtractionFailed on zero pages, got %v", err)
	}
}

func TestExtract_AcceptTextFormats(t *testing.T) {
	o, _ := newOrchestrator(t, fixedText{}, &pageRaster{})
	o.policy.AcceptTextFormats = true

	doc := writeDoc(t, "notes.txt", "text/plain")
	if err := os.WriteFile(doc.Path, []byte("Monthly fee is 25 dollars."), 0o600); err != nil {
		t.Fatal(err)
	}
	results, err := o.Extract(context.Background(), doc, Options{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if results[0].Text != "Monthly fee is 25 dollars." || results[0].Improvements[0] != "Text extracted directly from text" {
		t.Errorf("unexpected text result %+v", results[0])
	}
}
