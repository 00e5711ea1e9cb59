package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dgallion1/docintake/internal/app"
	"github.com/dgallion1/docintake/internal/config"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn("could not load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error("loading configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("initializing", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Serve(ctx, log); err != nil {
		log.Error("server error", "error", err)
		a.Close()
		os.Exit(1)
	}
}
