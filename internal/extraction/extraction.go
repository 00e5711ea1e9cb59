// Package extraction decides how a document's text is obtained: from its
// embedded text layer or, failing that, by OCR over rendered pages.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dgallion1/docintake/internal/config"
	"github.com/dgallion1/docintake/internal/ingest"
	"github.com/dgallion1/docintake/internal/ocr"
	"github.com/dgallion1/docintake/internal/raster"
	"github.com/dgallion1/docintake/internal/store"
	"github.com/dgallion1/docintake/internal/textlayer"
)

// Options adjust one extraction.
type Options struct {
	ForceOCR bool           // skip the PDF text layer
	Raster   raster.Options // zero fields use the orchestrator's defaults
	Engines  []string       // restrict OCR to these engines
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Policy        config.Policy
	TextLayer     *textlayer.Registry
	Rasterizer    raster.Rasterizer
	Aggregator    *ocr.Aggregator
	Raster        raster.Options
	TempDir       string
	RasterTimeout time.Duration
	Log           *slog.Logger
}

// Orchestrator turns a stored document into an ordered list of results.
type Orchestrator struct {
	policy        config.Policy
	text          *textlayer.Registry
	rasterizer    raster.Rasterizer
	agg           *ocr.Aggregator
	raster        raster.Options
	tempDir       string
	rasterTimeout time.Duration
	log           *slog.Logger
}

func New(d Deps) *Orchestrator {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.TempDir == "" {
		d.TempDir = os.TempDir()
	}
	if d.RasterTimeout <= 0 {
		d.RasterTimeout = 5 * time.Minute
	}
	return &Orchestrator{
		policy:        d.Policy,
		text:          d.TextLayer,
		rasterizer:    d.Rasterizer,
		agg:           d.Aggregator,
		raster:        d.Raster.Merge(raster.DefaultOptions()),
		tempDir:       d.TempDir,
		rasterTimeout: d.RasterTimeout,
		log:           d.Log,
	}
}

// Extract returns one result per page or image of doc, in page order.
// Failures are *ingest.Error values.
func (o *Orchestrator) Extract(ctx context.Context, doc store.Document, opts Options) ([]ocr.Result, error) {
	log := o.log.With("doc_id", doc.ID, "mime", doc.MIMEType)

	if _, err := os.Stat(doc.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ingest.NewError(ingest.KindDocumentNotFound, doc.ID, "Document file not found", err)
		}
		return nil, ingest.NewError(ingest.KindExtractionFailed, doc.ID, "Document file is unreadable", err)
	}

	agg := o.agg
	if len(opts.Engines) > 0 {
		restricted, err := o.agg.WithEngines(opts.Engines)
		if err != nil {
			return nil, ingest.NewError(ingest.KindExtractionFailed, doc.ID, "Invalid OCR engine selection", err)
		}
		agg = restricted
	}

	format, isText := textlayer.FormatFor(doc.MIMEType)
	switch {
	case format == textlayer.FormatPDF:
		return o.extractPDF(ctx, log, doc, agg, opts)
	case textlayer.IsImage(doc.MIMEType):
		return o.extractImage(ctx, log, doc, agg)
	case isText && o.policy.AcceptTextFormats:
		return o.extractText(ctx, log, doc, format)
	default:
		return nil, ingest.NewError(ingest.KindUnsupportedDocumentType, doc.ID,
			fmt.Sprintf("Unsupported document type %q", doc.MIMEType), nil)
	}
}

func (o *Orchestrator) extractPDF(ctx context.Context, log *slog.Logger, doc store.Document, agg *ocr.Aggregator, opts Options) ([]ocr.Result, error) {
	if !opts.ForceOCR {
		if res, ok := o.directText(ctx, log, doc, textlayer.FormatPDF); ok {
			log.Info("using embedded text layer", "chars", utf8.RuneCountInString(res.Text))
			return []ocr.Result{res}, nil
		}
		log.Info("text layer insufficient, falling back to OCR")
	}

	dir, err := o.workDir(doc.ID)
	if err != nil {
		return nil, ingest.NewError(ingest.KindExtractionFailed, doc.ID, "Failed to create work directory", err)
	}
	defer os.RemoveAll(dir)

	rctx, cancel := context.WithTimeout(ctx, o.rasterTimeout)
	pages, err := o.rasterizer.ToImages(rctx, doc.Path, dir, opts.Raster.Merge(o.raster))
	cancel()
	if err != nil {
		log.Error("rasterisation failed", "error", err)
		return nil, ingest.NewError(ingest.KindExtractionFailed, doc.ID, "Failed to convert PDF pages to images", err)
	}
	if len(pages) == 0 {
		log.Error("rasteriser produced no pages")
		return nil, ingest.NewError(ingest.KindExtractionFailed, doc.ID, "PDF conversion produced no pages", nil)
	}

	log.Info("running OCR", "pages", len(pages), "engines", agg.Engines())
	results := agg.ProcessBatch(ctx, pages, dir)
	if err := ctx.Err(); err != nil {
		log.Warn("OCR interrupted", "pages", len(pages), "error", err)
		return nil, ingest.NewError(ingest.KindExtractionFailed, doc.ID, "OCR was interrupted", err)
	}
	return results, nil
}

func (o *Orchestrator) extractImage(ctx context.Context, log *slog.Logger, doc store.Document, agg *ocr.Aggregator) ([]ocr.Result, error) {
	dir, err := o.workDir(doc.ID)
	if err != nil {
		return nil, ingest.NewError(ingest.KindExtractionFailed, doc.ID, "Failed to create work directory", err)
	}
	defer os.RemoveAll(dir)

	log.Info("running OCR on image", "engines", agg.Engines())
	res, err := agg.ExtractWithMultipleEngines(ctx, doc.Path, dir)
	if err != nil {
		return nil, ingest.NewError(ingest.KindExtractionFailed, doc.ID, "OCR was interrupted", err)
	}
	return []ocr.Result{res}, nil
}

func (o *Orchestrator) extractText(ctx context.Context, log *slog.Logger, doc store.Document, format textlayer.Format) ([]ocr.Result, error) {
	res, err := o.readTextLayer(ctx, doc, format)
	if err != nil {
		log.Error("text extraction failed", "error", err)
		return nil, ingest.NewError(ingest.KindExtractionFailed, doc.ID, "Failed to read document text", err)
	}
	log.Info("using document text", "format", format, "chars", utf8.RuneCountInString(res.Text))
	return []ocr.Result{res}, nil
}

// directText reports whether the text layer holds enough text to skip OCR.
// Errors are logged and treated as too little text.
func (o *Orchestrator) directText(ctx context.Context, log *slog.Logger, doc store.Document, format textlayer.Format) (ocr.Result, bool) {
	res, err := o.readTextLayer(ctx, doc, format)
	if err != nil {
		log.Warn("text layer extraction failed", "error", err)
		return ocr.Result{}, false
	}
	if utf8.RuneCountInString(strings.TrimSpace(res.Text)) < o.policy.MinTextLength {
		return ocr.Result{}, false
	}
	return res, true
}

func (o *Orchestrator) readTextLayer(ctx context.Context, doc store.Document, format textlayer.Format) (ocr.Result, error) {
	ex, err := o.text.For(format)
	if err != nil {
		return ocr.Result{}, err
	}
	text, err := ex.Extract(ctx, doc.Path)
	if err != nil {
		return ocr.Result{}, err
	}
	return ocr.Result{
		Text:           text,
		Confidence:     o.policy.DirectTextConfidence,
		Method:         ocr.MethodDirectText,
		ProcessedWords: ocr.CountWords(text),
		Improvements:   []string{"Text extracted directly from " + string(format)},
		Page:           0,
	}, nil
}

func (o *Orchestrator) workDir(documentID string) (string, error) {
	if err := os.MkdirAll(o.tempDir, 0o755); err != nil {
		return "", err
	}
	return os.MkdirTemp(o.tempDir, documentID+"-*")
}
