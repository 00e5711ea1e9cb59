// Package pipeline exposes document processing to the API, the CLI and the
// inbox watcher: single documents, batches and queued jobs.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgallion1/docintake/internal/extraction"
	"github.com/dgallion1/docintake/internal/ingest"
	"github.com/dgallion1/docintake/internal/ocr"
	"github.com/dgallion1/docintake/internal/quality"
	"github.com/dgallion1/docintake/internal/raster"
	"github.com/dgallion1/docintake/internal/statement"
	"github.com/dgallion1/docintake/internal/store"
)

// ErrOracleUnavailable is returned by AnalyzeStatement when no oracle is
// configured.
var ErrOracleUnavailable = errors.New("statement oracle is not configured")

// Extractor produces per-page results for a document.
type Extractor interface {
	Extract(ctx context.Context, doc store.Document, opts extraction.Options) ([]ocr.Result, error)
}

// ProcessOptions control ProcessDocument.
type ProcessOptions struct {
	ForceReprocess bool `json:"forceReprocess"`
}

// Settings are the overrides accepted by ReprocessWithSettings.
type Settings struct {
	Density   int      `json:"density,omitempty"`
	Width     int      `json:"width,omitempty"`
	Height    int      `json:"height,omitempty"`
	Engines   []string `json:"engines,omitempty"`
	ForceOCR  bool     `json:"forceOcr,omitempty"`
	MaxTokens int      `json:"maxTokens,omitempty"`
}

// Deps are the service's collaborators. Analyzer may be nil.
type Deps struct {
	Store            store.Store
	Extractor        Extractor
	Manager          *ingest.Manager
	Assessor         *quality.Assessor
	Analyzer         *statement.Analyzer
	BatchConcurrency int
	UploadDir        string
	Log              *slog.Logger
}

// Service implements the document operations.
type Service struct {
	store     store.Store
	extractor Extractor
	manager   *ingest.Manager
	assessor  *quality.Assessor
	analyzer  *statement.Analyzer
	batchConc int
	uploadDir string
	log       *slog.Logger
	now       func() time.Time
}

func NewService(d Deps) *Service {
	if d.BatchConcurrency <= 0 {
		d.BatchConcurrency = 3
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.UploadDir == "" {
		d.UploadDir = "uploads"
	}
	return &Service{
		store:     d.Store,
		extractor: d.Extractor,
		manager:   d.Manager,
		assessor:  d.Assessor,
		analyzer:  d.Analyzer,
		batchConc: d.BatchConcurrency,
		uploadDir: d.UploadDir,
		log:       d.Log,
		now:       time.Now,
	}
}

// ProcessDocument extracts and stores a document's chunks. A document that
// already has chunks is skipped unless ForceReprocess is set.
func (s *Service) ProcessDocument(ctx context.Context, id string, opts ProcessOptions) (ingest.Report, error) {
	doc, err := s.document(ctx, id)
	if err != nil {
		return failedReport(id, err), err
	}
	if !opts.ForceReprocess {
		has, err := s.manager.HasChunks(ctx, id)
		if err != nil {
			return ingest.Report{}, fmt.Errorf("check chunks for %s: %w", id, err)
		}
		if has {
			return ingest.AlreadyProcessed(id), nil
		}
	}
	return s.run(ctx, doc, extraction.Options{}, ingest.Options{ForceReprocess: opts.ForceReprocess})
}

// ReprocessWithSettings always replaces the chunk set, recording the
// settings and time on every new chunk.
func (s *Service) ReprocessWithSettings(ctx context.Context, id string, settings Settings) (ingest.Report, error) {
	doc, err := s.document(ctx, id)
	if err != nil {
		return failedReport(id, err), err
	}
	custom, err := settings.asMap()
	if err != nil {
		return ingest.Report{}, err
	}
	at := s.now().UTC()
	xopts := extraction.Options{
		ForceOCR: settings.ForceOCR,
		Raster:   raster.Options{Density: settings.Density, MaxWidth: settings.Width, MaxHeight: settings.Height},
		Engines:  settings.Engines,
	}
	return s.run(ctx, doc, xopts, ingest.Options{
		ForceReprocess: true,
		MaxTokens:      settings.MaxTokens,
		CustomSettings: custom,
		ReprocessedAt:  &at,
	})
}

func (s *Service) run(ctx context.Context, doc store.Document, xopts extraction.Options, iopts ingest.Options) (ingest.Report, error) {
	log := s.log.With("doc_id", doc.ID)
	start := time.Now()

	log.Info("extracting document", "mime", doc.MIMEType, "force", iopts.ForceReprocess)
	results, err := s.extractor.Extract(ctx, doc, xopts)
	if err != nil {
		log.Error("extraction failed", "error", err)
		return failedReport(doc.ID, err), err
	}

	rep, err := s.manager.Persist(ctx, doc.ID, results, iopts)
	if err != nil {
		return rep, err
	}
	log.Info("document processed", "status", rep.Status, "chunks", rep.ChunksCreated,
		"verdict", rep.QualityAssessment.Verdict, "elapsed", time.Since(start))
	return rep, nil
}

func (s *Service) document(ctx context.Context, id string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return doc, ingest.NewError(ingest.KindDocumentNotFound, id, "Document not found", err)
	}
	if err != nil {
		return doc, fmt.Errorf("load document %s: %w", id, err)
	}
	return doc, nil
}

func failedReport(id string, err error) ingest.Report {
	rep := ingest.Report{DocumentID: id, Methods: []string{}, Improvements: []string{}}
	var e *ingest.Error
	if errors.As(err, &e) {
		return rep.Failed(e)
	}
	rep.Status = ingest.StatusFailed
	rep.Message = err.Error()
	return rep
}

func (st Settings) asMap() (map[string]any, error) {
	b, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// QualityReport grades a document's stored OCR chunks.
type QualityReport struct {
	HasOCRData        bool                    `json:"hasOCRData"`
	DocumentID        string                  `json:"documentId"`
	Message           string                  `json:"message,omitempty"`
	Summary           *quality.Summary        `json:"summary,omitempty"`
	ChunkAnalysis     []quality.ChunkAnalysis `json:"chunkAnalysis,omitempty"`
	QualityAssessment *quality.Assessment     `json:"qualityAssessment,omitempty"`
	Recommendations   []string                `json:"recommendations,omitempty"`
}

// GetQualityReport summarises the stored chunks of a document.
func (s *Service) GetQualityReport(ctx context.Context, id string) (QualityReport, error) {
	if _, err := s.document(ctx, id); err != nil {
		return QualityReport{}, err
	}
	chunks, err := s.store.ListChunks(ctx, id)
	if err != nil {
		return QualityReport{}, fmt.Errorf("list chunks for %s: %w", id, err)
	}
	sum, analysis, assessment, ok := s.assessor.Summarize(chunks)
	if !ok {
		return QualityReport{HasOCRData: false, DocumentID: id, Message: "Document not processed with OCR"}, nil
	}
	return QualityReport{
		HasOCRData:        true,
		DocumentID:        id,
		Summary:           &sum,
		ChunkAnalysis:     analysis,
		QualityAssessment: &assessment,
		Recommendations:   assessment.Recommendations,
	}, nil
}

// AnalyzeStatement reads pricing fields from a processed statement,
// processing it first when it has no chunks.
func (s *Service) AnalyzeStatement(ctx context.Context, id string) (statement.Analysis, error) {
	if s.analyzer == nil {
		return statement.Analysis{}, ErrOracleUnavailable
	}
	if _, err := s.document(ctx, id); err != nil {
		return statement.Analysis{}, err
	}
	chunks, err := s.store.ListChunks(ctx, id)
	if err != nil {
		return statement.Analysis{}, fmt.Errorf("list chunks for %s: %w", id, err)
	}
	if len(chunks) == 0 {
		if _, err := s.ProcessDocument(ctx, id, ProcessOptions{}); err != nil {
			return statement.Analysis{}, err
		}
		if chunks, err = s.store.ListChunks(ctx, id); err != nil {
			return statement.Analysis{}, fmt.Errorf("list chunks for %s: %w", id, err)
		}
	}

	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Content
	}
	s.log.Info("analysing statement", "doc_id", id, "chunks", len(chunks))
	return s.analyzer.Analyze(ctx, strings.Join(parts, "\n"))
}
