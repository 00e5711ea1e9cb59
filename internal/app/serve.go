package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dgallion1/docintake/internal/api"
	"github.com/dgallion1/docintake/internal/watcher"
)

const shutdownTimeout = 30 * time.Second

// Serve runs the HTTP API, the job workers and, when INBOX_DIR is set, the
// inbox watcher until ctx is cancelled.
func (a *App) Serve(ctx context.Context, log *slog.Logger) error {
	a.Queue.Start(ctx)
	defer a.Queue.Stop()

	if a.Config.InboxDir != "" {
		inbox := watcher.New(a.Service, a.Queue, watcher.Options{Dir: a.Config.InboxDir, SyncExisting: true, Log: log})
		if err := inbox.Start(ctx); err != nil {
			return fmt.Errorf("start inbox watcher: %w", err)
		}
		defer inbox.Stop()
	}

	httpServer := &http.Server{
		Addr:         ":" + a.Config.Port,
		Handler:      api.NewServer(a.Service, a.Queue, a.Stats, log, a.Config),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Minute, // synchronous OCR of a long scan
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting docintake", "port", a.Config.Port, "store", a.Config.StoreDriver, "rasterizer", a.Config.Rasterizer)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
