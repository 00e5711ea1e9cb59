package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dgallion1/docintake/internal/app"
	"github.com/dgallion1/docintake/internal/config"
)

// cli carries state shared by every subcommand.
type cli struct {
	envFile string
	verbose bool

	cfg config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "docintake",
		Short: "Ingest merchant statements and sales documents into searchable chunks",
		Long: `docintake extracts text from PDFs, scans and office documents, grades the
OCR quality, and stores the text as token-bounded chunks. Every command prints
JSON to stdout; logs go to stderr.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		c.serveCmd(),
		c.registerCmd(),
		c.processCmd(),
		c.batchCmd(),
		c.qualityCmd(),
		c.reprocessCmd(),
		c.statementCmd(),
		c.watchCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	level := slog.LevelInfo
	if c.verbose {
		level = slog.LevelDebug
	}
	c.log = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", c.envFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

// open wires the pipeline for one command. The caller closes it.
func (c *cli) open(cmd *cobra.Command) (*app.App, error) {
	return app.New(cmd.Context(), c.cfg, c.log)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
