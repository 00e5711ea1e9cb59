package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docintake/internal/ingest"
	"github.com/dgallion1/docintake/internal/pipeline"
	"github.com/dgallion1/docintake/internal/watcher"
)

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, job workers and inbox watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.cfg.ValidateServer(); err != nil {
				return err
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(cmd.Context(), c.log)
		},
	}
}

func (c *cli) registerCmd() *cobra.Command {
	var category, folder string
	cmd := &cobra.Command{
		Use:   "register <file>",
		Short: "Copy a file into the upload directory and record it as a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			doc, err := a.Service.Register(cmd.Context(), pipeline.Upload{
				Name:     filepath.Base(args[0]),
				Body:     f,
				FolderID: folder,
				Category: category,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "document category")
	cmd.Flags().StringVar(&folder, "folder", "", "folder id")
	return cmd
}

func (c *cli) processCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "process <id>",
		Short: "Extract and chunk a registered document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.Service.ProcessDocument(cmd.Context(), args[0], pipeline.ProcessOptions{ForceReprocess: force})
			return c.report(cmd, rep, err)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace existing chunks")
	return cmd
}

func (c *cli) batchCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "batch <id>...",
		Short: "Process several documents with bounded concurrency",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Service.ProcessBatch(cmd.Context(), args, pipeline.ProcessOptions{ForceReprocess: force})
			if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace existing chunks")
	return cmd
}

func (c *cli) qualityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quality <id>",
		Short: "Grade the stored OCR chunks of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			qr, err := a.Service.GetQualityReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), qr)
		},
	}
}

func (c *cli) reprocessCmd() *cobra.Command {
	var (
		settings pipeline.Settings
		engines  string
	)
	cmd := &cobra.Command{
		Use:   "reprocess <id>",
		Short: "Re-run extraction with custom raster, OCR and chunk settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if engines != "" {
				for _, e := range strings.Split(engines, ",") {
					if e = strings.TrimSpace(e); e != "" {
						settings.Engines = append(settings.Engines, e)
					}
				}
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.Service.ReprocessWithSettings(cmd.Context(), args[0], settings)
			return c.report(cmd, rep, err)
		},
	}
	cmd.Flags().IntVar(&settings.Density, "density", 0, "raster density in DPI")
	cmd.Flags().IntVar(&settings.Width, "width", 0, "raster width in pixels")
	cmd.Flags().IntVar(&settings.Height, "height", 0, "raster height in pixels")
	cmd.Flags().StringVar(&engines, "engines", "", "comma-separated OCR engines (standard,document,line)")
	cmd.Flags().BoolVar(&settings.ForceOCR, "force-ocr", false, "skip the PDF text layer")
	cmd.Flags().IntVar(&settings.MaxTokens, "max-tokens", 0, "chunk token limit")
	return cmd
}

func (c *cli) statementCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "statement <id>",
		Short: "Read pricing fields from a merchant statement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			analysis, err := a.Service.AnalyzeStatement(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), analysis)
		},
	}
}

func (c *cli) watchCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Register and process files dropped into an inbox directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				dir = c.cfg.InboxDir
			}
			if dir == "" {
				return fmt.Errorf("inbox directory is required (--dir or INBOX_DIR)")
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			a.Queue.Start(ctx)
			defer a.Queue.Stop()

			w := watcher.New(a.Service, a.Queue, watcher.Options{Dir: dir, SyncExisting: true, Log: c.log})
			if err := w.Start(ctx); err != nil {
				return err
			}
			defer w.Stop()

			if err := printJSON(cmd.OutOrStdout(), map[string]string{"status": "watching", "dir": dir}); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "inbox directory (defaults to INBOX_DIR)")
	return cmd
}

// report prints an ingestion report. Failed reports are still printed
// before the error is returned.
func (c *cli) report(cmd *cobra.Command, rep ingest.Report, err error) error {
	if err != nil && ingest.KindOf(err) == "" {
		return err
	}
	if perr := printJSON(cmd.OutOrStdout(), rep); perr != nil {
		return perr
	}
	return err
}
