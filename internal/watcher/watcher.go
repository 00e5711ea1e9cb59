// Package watcher registers files dropped into an inbox directory and
// queues them for processing.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dgallion1/docintake/internal/pipeline"
	"github.com/dgallion1/docintake/internal/store"
)

const defaultDebounce = 500 * time.Millisecond

// Registrar records a new document.
type Registrar interface {
	Register(ctx context.Context, up pipeline.Upload) (store.Document, error)
}

// Submitter queues a document for processing.
type Submitter interface {
	Submit(documentID string, opts pipeline.ProcessOptions) (*pipeline.Job, error)
}

// Options configure a Watcher.
type Options struct {
	Dir          string
	Debounce     time.Duration
	SyncExisting bool // register files already in Dir on Start
	Log          *slog.Logger
}

// Watcher turns inbox file events into registered, queued documents.
type Watcher struct {
	dir      string
	debounce time.Duration
	syncOld  bool
	reg      Registrar
	sub      Submitter
	log      *slog.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	timers  map[string]*time.Timer
	seen    map[string]string // path -> size/mtime key of the last ingested version
	done    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

func New(reg Registrar, sub Submitter, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Watcher{
		dir:      opts.Dir,
		debounce: opts.Debounce,
		syncOld:  opts.SyncExisting,
		reg:      reg,
		sub:      sub,
		log:      opts.Log,
		timers:   make(map[string]*time.Timer),
		seen:     make(map[string]string),
		done:     make(chan struct{}),
	}
}

// Start watches the inbox until ctx is cancelled or Stop is called. The
// directory is created if missing.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.mu.Lock()
	w.fsw = fsw
	w.mu.Unlock()
	w.log.Info("watching inbox", "dir", w.dir, "debounce", w.debounce)

	if w.syncOld {
		w.syncExisting(ctx)
	}

	w.wg.Add(1)
	go w.run(ctx, fsw)
	return nil
}

// Stop releases the watcher and cancels pending debounced files.
func (w *Watcher) Stop() {
	w.stopped.Do(func() {
		close(w.done)
		w.mu.Lock()
		for path, t := range w.timers {
			t.Stop()
			delete(w.timers, path)
		}
		if w.fsw != nil {
			w.fsw.Close()
		}
		w.mu.Unlock()
	})
	w.wg.Wait()
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			go w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 && wanted(ev.Name) {
				w.schedule(ctx, ev.Name)
			}
			if ev.Op&fsnotify.Remove != 0 {
				w.cancel(ev.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "error", err)
		}
	}
}

// wanted skips directories, hidden files, editor temp files and
// unsupported types.
func wanted(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") {
		return false
	}
	return pipeline.Supported(base)
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
	delete(w.seen, path)
}

func (w *Watcher) syncExisting(ctx context.Context) {
	filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != w.dir {
				return filepath.SkipDir
			}
			return nil
		}
		if wanted(path) {
			w.ingest(ctx, path)
		}
		return nil
	})
}

// ingest registers path and queues it. A file whose size and mtime match
// the last ingested version is skipped.
func (w *Watcher) ingest(ctx context.Context, path string) {
	log := w.log.With("path", path)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	version := fmt.Sprintf("%d/%d", info.Size(), info.ModTime().UnixNano())

	w.mu.Lock()
	if w.seen[path] == version {
		w.mu.Unlock()
		return
	}
	w.seen[path] = version
	w.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		log.Warn("open inbox file", "error", err)
		return
	}
	defer f.Close()

	doc, err := w.reg.Register(ctx, pipeline.Upload{Name: filepath.Base(path), Body: f, Category: "inbox"})
	if err != nil {
		log.Error("register inbox file", "error", err)
		return
	}
	job, err := w.sub.Submit(doc.ID, pipeline.ProcessOptions{})
	if err != nil {
		log.Error("queue inbox document", "doc_id", doc.ID, "error", err)
		return
	}
	log.Info("inbox file queued", "doc_id", doc.ID, "job_id", job.ID)
}
