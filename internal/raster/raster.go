// Package raster renders PDF pages to image files for OCR.
package raster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"

	"github.com/dgallion1/docintake/internal/runner"
)

// Options control page rendering.
type Options struct {
	Density   int    `json:"density,omitempty"`
	MaxWidth  int    `json:"width,omitempty"`
	MaxHeight int    `json:"height,omitempty"`
	Format    string `json:"format,omitempty"`
}

// DefaultOptions is the rendering used for OCR fallback.
func DefaultOptions() Options {
	return Options{Density: 300, MaxWidth: 1200, MaxHeight: 1600, Format: "png"}
}

// Merge returns o with zero fields taken from base.
func (o Options) Merge(base Options) Options {
	if o.Density <= 0 {
		o.Density = base.Density
	}
	if o.MaxWidth <= 0 {
		o.MaxWidth = base.MaxWidth
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = base.MaxHeight
	}
	if o.Format == "" {
		o.Format = base.Format
	}
	return o
}

// Rasterizer writes one image per page of pdfPath into outDir and returns
// the image paths in page order.
type Rasterizer interface {
	ToImages(ctx context.Context, pdfPath, outDir string, opts Options) ([]string, error)
}

// Pdftoppm renders with poppler's pdftoppm.
type Pdftoppm struct {
	Runner runner.Runner
	Bin    string
}

func (p *Pdftoppm) ToImages(ctx context.Context, pdfPath, outDir string, opts Options) ([]string, error) {
	opts = opts.Merge(DefaultOptions())
	format := opts.Format
	if format != "png" && format != "jpeg" {
		format = "png"
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	prefix := filepath.Join(outDir, "page")
	args := []string{
		"-r", strconv.Itoa(opts.Density),
		"-scale-to-x", strconv.Itoa(opts.MaxWidth),
		"-scale-to-y", strconv.Itoa(opts.MaxHeight),
		"-" + format,
		pdfPath, prefix,
	}
	_, errb, err := p.Runner.Run(ctx, p.Bin, args...)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, runner.Truncate(string(errb), 512))
	}

	ext := "png"
	if format == "jpeg" {
		ext = "jpg"
	}
	matches, err := filepath.Glob(prefix + "-*." + ext)
	if err != nil {
		return nil, err
	}
	sortByPage(matches)
	return matches, nil
}

var pageNumRe = regexp.MustCompile(`-(\d+)\.[a-z]+$`)

// sortByPage orders pdftoppm outputs (page-1.png, page-02.png, ...) by
// their numeric suffix.
func sortByPage(paths []string) {
	num := func(p string) int {
		m := pageNumRe.FindStringSubmatch(p)
		if m == nil {
			return 0
		}
		n, _ := strconv.Atoi(m[1])
		return n
	}
	sort.SliceStable(paths, func(i, j int) bool { return num(paths[i]) < num(paths[j]) })
}

// Fitz renders in process with MuPDF.
type Fitz struct{}

func (Fitz) ToImages(ctx context.Context, pdfPath, outDir string, opts Options) ([]string, error) {
	opts = opts.Merge(DefaultOptions())

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	ext := "png"
	if opts.Format == "jpeg" {
		ext = "jpg"
	}

	var paths []string
	for n := 0; n < doc.NumPage(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(n, float64(opts.Density))
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", n+1, err)
		}
		fitted := imaging.Fit(img, opts.MaxWidth, opts.MaxHeight, imaging.Lanczos)

		out := filepath.Join(outDir, fmt.Sprintf("page-%03d.%s", n+1, ext))
		if err := imaging.Save(fitted, out); err != nil {
			return nil, fmt.Errorf("save page %d: %w", n+1, err)
		}
		paths = append(paths, out)
	}
	return paths, nil
}

// New returns the rasterizer named by kind ("pdftoppm" or "fitz").
func New(kind string, r runner.Runner, pdftoppmBin string) (Rasterizer, error) {
	switch kind {
	case "", "pdftoppm":
		return &Pdftoppm{Runner: r, Bin: pdftoppmBin}, nil
	case "fitz":
		return Fitz{}, nil
	default:
		return nil, fmt.Errorf("unknown rasterizer %q", kind)
	}
}
