// Package app wires the ingestion pipeline from configuration. Both the
// server and the CLI build their components here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/docintake/internal/chunker"
	"github.com/dgallion1/docintake/internal/config"
	"github.com/dgallion1/docintake/internal/extraction"
	"github.com/dgallion1/docintake/internal/ingest"
	"github.com/dgallion1/docintake/internal/lock"
	"github.com/dgallion1/docintake/internal/ocr"
	"github.com/dgallion1/docintake/internal/pipeline"
	"github.com/dgallion1/docintake/internal/quality"
	"github.com/dgallion1/docintake/internal/raster"
	"github.com/dgallion1/docintake/internal/runner"
	"github.com/dgallion1/docintake/internal/statement"
	"github.com/dgallion1/docintake/internal/store"
	"github.com/dgallion1/docintake/internal/textlayer"
)

// lockTTL bounds how long a crashed instance can hold a document lock.
const lockTTL = 10 * time.Minute

// App holds the wired components.
type App struct {
	Config  config.Config
	Store   store.Store
	Service *pipeline.Service
	Queue   *pipeline.Queue
	Stats   *ocr.Stats

	closers []func() error
}

// New builds every component named by cfg. The queue is created but not
// started.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Stats: ocr.NewStats(time.Hour)}

	st, err := store.Open(ctx, cfg.StoreDriver, cfg.StoreDSN, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	run := runner.New(log)
	rasterizer, err := raster.New(cfg.Rasterizer, run, cfg.PdftoppmBin)
	if err != nil {
		a.Close()
		return nil, err
	}
	engines, err := ocr.NewEngines(cfg.OCREngines, run, cfg.TesseractBin, cfg.TesseractLang)
	if err != nil {
		a.Close()
		return nil, err
	}
	var pre *ocr.Preprocessor
	if cfg.OCRPreprocess {
		pre = &ocr.Preprocessor{}
	}
	agg := ocr.NewAggregator(engines, ocr.AggregatorOptions{
		Preprocessor: pre,
		Concurrency:  cfg.PageConcurrency,
		PageTimeout:  cfg.PageTimeout,
		Stats:        a.Stats,
		Log:          log,
	})

	orch := extraction.New(extraction.Deps{
		Policy:        cfg.Policy,
		TextLayer:     textlayer.NewRegistry(textlayer.Options{Runner: run, Pdftotext: cfg.PdftotextBin}),
		Rasterizer:    rasterizer,
		Aggregator:    agg,
		Raster:        raster.Options{Density: cfg.RasterDensity, MaxWidth: cfg.RasterMaxWidth, MaxHeight: cfg.RasterMaxHeight},
		TempDir:       cfg.TempDir,
		RasterTimeout: cfg.RasterTimeout,
		Log:           log,
	})

	locker, err := a.locker(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	assessor := quality.NewAssessor(cfg.Policy.QualityThresholds)
	manager := ingest.NewManager(st, assessor, ingest.ManagerOptions{
		Tokenizer:    func() (chunker.Tokenizer, error) { return chunker.NewTokenizer(cfg.Tokenizer) },
		Locker:       locker,
		MaxTokens:    cfg.ChunkMaxTokens,
		StoreTimeout: cfg.StoreTimeout,
		Log:          log,
	})

	var analyzer *statement.Analyzer
	if cfg.AnthropicAPIKey != "" {
		claude := statement.NewClaudeClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.OracleRPS)
		a.closers = append(a.closers, func() error { claude.Close(); return nil })
		analyzer = statement.NewAnalyzer(claude, log)
	}

	a.Service = pipeline.NewService(pipeline.Deps{
		Store:            st,
		Extractor:        orch,
		Manager:          manager,
		Assessor:         assessor,
		Analyzer:         analyzer,
		BatchConcurrency: cfg.BatchConcurrency,
		UploadDir:        cfg.UploadDir,
		Log:              log,
	})
	a.Queue = pipeline.NewQueue(a.Service, pipeline.QueueOptions{
		Workers:      cfg.WorkerCount,
		MaxQueueSize: cfg.MaxQueueSize,
		JobTTL:       cfg.JobTTL,
		Log:          log,
	})
	return a, nil
}

func (a *App) locker(ctx context.Context, cfg config.Config, log *slog.Logger) (lock.Locker, error) {
	if cfg.RedisURL == "" {
		return lock.NewMemory(), nil
	}
	r, err := lock.NewRedis(ctx, cfg.RedisURL, lockTTL, log)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.closers = append(a.closers, r.Close)
	return r, nil
}

// Close releases components in reverse construction order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
