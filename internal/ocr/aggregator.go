package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// NoteAllFailed is the only note on a result whose engines all failed.
const NoteAllFailed = "OCR processing failed"

// NoteBasicOnly marks a reading taken from the unprocessed image.
const NoteBasicOnly = "Basic processing only"

// AggregatorOptions tune page processing.
type AggregatorOptions struct {
	Preprocessor *Preprocessor // nil disables preprocessing
	Concurrency  int
	PageTimeout  time.Duration
	Stats        *Stats
	Log          *slog.Logger
}

// Aggregator runs every engine on a page and keeps the best reading.
type Aggregator struct {
	engines []Engine
	pre     *Preprocessor
	cleaner Cleaner
	conc    int
	timeout time.Duration
	stats   *Stats
	log     *slog.Logger
}

func NewAggregator(engines []Engine, opts AggregatorOptions) *Aggregator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Aggregator{
		engines: engines,
		pre:     opts.Preprocessor,
		conc:    opts.Concurrency,
		timeout: opts.PageTimeout,
		stats:   opts.Stats,
		log:     opts.Log,
	}
}

// Engines returns the engine names in selection order.
func (a *Aggregator) Engines() []string {
	names := make([]string, len(a.engines))
	for i, e := range a.engines {
		names[i] = e.Name()
	}
	return names
}

// WithEngines returns a copy restricted to the named engines, in the order
// given. Names that are not configured are an error.
func (a *Aggregator) WithEngines(names []string) (*Aggregator, error) {
	if len(names) == 0 {
		return a, nil
	}
	byName := make(map[string]Engine, len(a.engines))
	for _, e := range a.engines {
		byName[e.Name()] = e
	}
	picked := make([]Engine, 0, len(names))
	for _, n := range names {
		e, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("OCR engine %q is not configured", n)
		}
		picked = append(picked, e)
	}
	cp := *a
	cp.engines = picked
	return &cp, nil
}

// ExtractWithMultipleEngines preprocesses the image, runs each engine in
// turn and returns the cleaned text of the highest scoring reading. Engine
// failures are noted on the result. When every engine fails on a
// preprocessed copy, the first engine is retried once on the original image.
// The error is non-nil only when ctx is done.
func (a *Aggregator) ExtractWithMultipleEngines(ctx context.Context, imagePath, workDir string) (Result, error) {
	src := imagePath
	var prepNotes []string
	if a.pre != nil {
		src, prepNotes = a.pre.Process(imagePath, workDir)
		if src != imagePath {
			defer os.Remove(src)
		}
	}

	var (
		best      Recognition
		bestScore float64
		found     bool
		failNotes []string
	)
	for _, e := range a.engines {
		start := time.Now()
		rec, err := e.Recognize(ctx, src)
		if a.stats != nil {
			a.stats.Record(e.Name(), time.Since(start), err != nil)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			a.log.Warn("ocr engine failed", "engine", e.Name(), "image", filepath.Base(imagePath), "error", err)
			failNotes = append(failNotes, e.Name()+" engine failed")
			continue
		}
		if rec.Engine == "" {
			rec.Engine = e.Name()
		}
		score := rec.Confidence*0.7 + float64(utf8.RuneCountInString(rec.Text))*0.3
		if !found || score > bestScore {
			best, bestScore, found = rec, score, true
		}
	}

	if !found {
		if src != imagePath && len(a.engines) > 0 {
			return a.basic(ctx, a.engines[0], imagePath)
		}
		return failedResult(), nil
	}

	text, cleanNotes := a.cleaner.Clean(best.Text)
	notes := make([]string, 0, len(prepNotes)+len(failNotes)+len(cleanNotes))
	notes = append(notes, prepNotes...)
	notes = append(notes, failNotes...)
	notes = append(notes, cleanNotes...)

	return Result{
		Text:           text,
		Confidence:     best.Confidence,
		Method:         MethodFor(best.Engine),
		ProcessedWords: CountWords(text),
		Improvements:   notes,
	}, nil
}

func failedResult() Result {
	return Result{Method: MethodFailed, Improvements: []string{NoteAllFailed}}
}

// basic reads the untouched image with a single engine.
func (a *Aggregator) basic(ctx context.Context, e Engine, imagePath string) (Result, error) {
	start := time.Now()
	rec, err := e.Recognize(ctx, imagePath)
	if a.stats != nil {
		a.stats.Record(e.Name(), time.Since(start), err != nil)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		a.log.Warn("basic ocr fallback failed", "engine", e.Name(), "image", filepath.Base(imagePath), "error", err)
		return failedResult(), nil
	}
	text, _ := a.cleaner.Clean(rec.Text)
	return Result{
		Text:           text,
		Confidence:     rec.Confidence,
		Method:         MethodBasic,
		ProcessedWords: CountWords(text),
		Improvements:   []string{NoteBasicOnly},
	}, nil
}

// ProcessBatch recognises pages concurrently. A page that fails or times out
// yields an empty zero-confidence result and never aborts the batch. Each
// page image is removed once recognised. Results are in input order.
func (a *Aggregator) ProcessBatch(ctx context.Context, imagePaths []string, workDir string) []Result {
	results := make([]Result, len(imagePaths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.conc)
	for i, path := range imagePaths {
		g.Go(func() error {
			pctx := gctx
			if a.timeout > 0 {
				var cancel context.CancelFunc
				pctx, cancel = context.WithTimeout(gctx, a.timeout)
				defer cancel()
			}

			res, err := a.ExtractWithMultipleEngines(pctx, path, workDir)
			os.Remove(path)
			if err != nil {
				a.log.Warn("page ocr failed", "page", i+1, "error", err)
				res = Result{
					Method:       MethodFailed,
					Improvements: []string{fmt.Sprintf("Page %d OCR failed: %v", i+1, err)},
				}
			}
			res.Page = i
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Page < results[j].Page })
	return results
}
