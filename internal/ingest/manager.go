// Package ingest turns extraction results into a document's stored chunk
// set, replacing any previous set as one unit.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dgallion1/docintake/internal/chunker"
	"github.com/dgallion1/docintake/internal/lock"
	"github.com/dgallion1/docintake/internal/ocr"
	"github.com/dgallion1/docintake/internal/quality"
	"github.com/dgallion1/docintake/internal/store"
)

// minContentLength is the trimmed length a result must exceed to be chunked.
const minContentLength = 10

const (
	msgAlreadyProcessed = "Document already processed"
	sugForceReprocess   = "Use forceReprocess=true to reprocess"
	msgNoContent        = "OCR failed to extract meaningful content"
	msgStoreFailed      = "Failed to store extracted chunks"
)

// TokenizerFactory opens a tokenizer for one Persist call.
type TokenizerFactory func() (chunker.Tokenizer, error)

// ManagerOptions configure a Manager. Zero values get defaults.
type ManagerOptions struct {
	Tokenizer    TokenizerFactory
	Locker       lock.Locker
	MaxTokens    int
	StoreTimeout time.Duration
	Log          *slog.Logger
}

// Options apply to one Persist call.
type Options struct {
	ForceReprocess bool
	MaxTokens      int
	CustomSettings map[string]any
	ReprocessedAt  *time.Time
}

// Manager writes chunk sets.
type Manager struct {
	store        store.Store
	assessor     *quality.Assessor
	tokenizer    TokenizerFactory
	locker       lock.Locker
	maxTokens    int
	storeTimeout time.Duration
	log          *slog.Logger

	now   func() time.Time
	newID func() string
}

func NewManager(s store.Store, a *quality.Assessor, opts ManagerOptions) *Manager {
	if opts.Tokenizer == nil {
		opts.Tokenizer = func() (chunker.Tokenizer, error) { return chunker.Estimate{}, nil }
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewMemory()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = chunker.DefaultMaxTokens
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 30 * time.Second
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Manager{
		store:        s,
		assessor:     a,
		tokenizer:    opts.Tokenizer,
		locker:       opts.Locker,
		maxTokens:    opts.MaxTokens,
		storeTimeout: opts.StoreTimeout,
		log:          opts.Log,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// HasChunks reports whether the document already has stored chunks.
func (m *Manager) HasChunks(ctx context.Context, documentID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	chunks, err := m.store.ListChunks(ctx, documentID)
	if err != nil {
		return false, err
	}
	return len(chunks) > 0, nil
}

// AlreadyProcessed is the report for a skipped, already ingested document.
func AlreadyProcessed(documentID string) Report {
	return Report{
		DocumentID:   documentID,
		Methods:      []string{},
		Improvements: []string{},
		Status:       StatusAlreadyProcessed,
		Message:      msgAlreadyProcessed,
		Suggestions:  []string{sugForceReprocess},
	}
}

// Persist chunks results and stores them as the document's chunk set. The
// previous set stays in place unless the new one is fully written.
func (m *Manager) Persist(ctx context.Context, documentID string, results []ocr.Result, opts Options) (Report, error) {
	log := m.log.With("doc_id", documentID)

	unlock, err := m.locker.Lock(ctx, documentID)
	if err != nil {
		return Report{}, fmt.Errorf("lock document %s: %w", documentID, err)
	}
	defer unlock()

	results = append([]ocr.Result(nil), results...)
	sort.SliceStable(results, func(i, j int) bool { return results[i].Page < results[j].Page })

	report, _ := Summarize(documentID, results, m.assessor)

	if !opts.ForceReprocess {
		has, err := m.HasChunks(ctx, documentID)
		if err != nil {
			return report, fmt.Errorf("check existing chunks: %w", err)
		}
		if has {
			log.Info("document already processed, skipping write")
			return AlreadyProcessed(documentID), nil
		}
	}

	chunks, err := m.buildChunks(documentID, results, report.QualityAssessment.Verdict, opts)
	if err != nil {
		return report, err
	}
	if len(chunks) == 0 {
		e := NewError(KindNoExtractableContent, documentID, msgNoContent, nil)
		e.Suggestions = NoContentSuggestions
		log.Error("no extractable content", "pages", len(results))
		return report.Failed(e), e
	}

	if err := m.replace(ctx, log, documentID, chunks); err != nil {
		e := NewError(KindExtractionFailed, documentID, msgStoreFailed, err)
		e.Suggestions = []string{"Retry processing; the previous chunks were kept"}
		log.Error("chunk write failed", "error", err)
		return report.Failed(e), e
	}

	sctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	if err := m.store.MarkProcessed(sctx, documentID, m.now()); err != nil {
		log.Warn("failed to stamp processed time", "error", err)
	}

	report.Status = StatusSuccess
	report.ChunksCreated = len(chunks)
	log.Info("chunks stored", "chunks", len(chunks), "pages", report.Pages, "avg_confidence", report.AverageConfidence)
	return report, nil
}

func (m *Manager) buildChunks(documentID string, results []ocr.Result, verdict quality.Verdict, opts Options) ([]store.Chunk, error) {
	tok, err := m.tokenizer()
	if err != nil {
		return nil, fmt.Errorf("open tokenizer: %w", err)
	}
	defer tok.Close()

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = m.maxTokens
	}
	extractedAt := m.now().UTC()

	var chunks []store.Chunk
	for _, r := range results {
		if utf8.RuneCountInString(strings.TrimSpace(r.Text)) <= minContentLength {
			continue
		}
		page := r.Page
		for _, p := range chunker.Chunk(r.Text, maxTokens, tok) {
			chunks = append(chunks, store.Chunk{
				ID:         m.newID(),
				DocumentID: documentID,
				ChunkIndex: len(chunks),
				Content:    p.Content,
				TokenCount: p.TokenCount,
				StartChar:  p.StartChar,
				EndChar:    p.EndChar,
				CreatedAt:  extractedAt,
				Metadata: store.Metadata{
					OCRMethod:      r.Method,
					Confidence:     clampConfidence(r.Confidence),
					Improvements:   r.Improvements,
					IsOCRProcessed: true,
					ExtractedAt:    extractedAt,
					ProcessedWords: ocr.CountWords(p.Content),
					Page:           &page,
					QualityVerdict: string(verdict),
					ReprocessedAt:  opts.ReprocessedAt,
					CustomSettings: opts.CustomSettings,
				},
			})
		}
	}
	return chunks, nil
}

// replace swaps in chunks, restoring the previous set if the write fails.
func (m *Manager) replace(ctx context.Context, log *slog.Logger, documentID string, chunks []store.Chunk) error {
	ctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()

	if r, ok := m.store.(store.Replacer); ok {
		return r.ReplaceChunks(ctx, documentID, chunks)
	}

	previous, err := m.store.ListChunks(ctx, documentID)
	if err != nil {
		return fmt.Errorf("snapshot chunks: %w", err)
	}
	if err := m.store.DeleteChunks(ctx, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	for _, c := range chunks {
		if err := m.store.InsertChunk(ctx, c); err != nil {
			log.Warn("insert failed, restoring previous chunks", "chunk_index", c.ChunkIndex, "previous", len(previous))
			if rerr := m.restore(documentID, previous); rerr != nil {
				return errors.Join(fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err), rerr)
			}
			return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
	}
	return nil
}

// restore runs on a fresh context so that an expired write deadline does
// not also prevent the rollback.
func (m *Manager) restore(documentID string, previous []store.Chunk) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.storeTimeout)
	defer cancel()

	if err := m.store.DeleteChunks(ctx, documentID); err != nil {
		return fmt.Errorf("clear partial chunks: %w", err)
	}
	for _, c := range previous {
		if err := m.store.InsertChunk(ctx, c); err != nil {
			return fmt.Errorf("restore chunk %d: %w", c.ChunkIndex, err)
		}
	}
	return nil
}

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
