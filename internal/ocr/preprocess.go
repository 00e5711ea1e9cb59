package ocr

import (
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
)

// Preprocessing notes, in the order the steps run.
const (
	NoteUpscaled       = "Resolution upscaling applied"
	NoteContrast       = "Contrast and brightness optimization"
	NoteDenoise        = "Noise reduction filter"
	NoteSharpen        = "Text sharpening"
	NoteGrayscale      = "Grayscale conversion with gamma correction"
	NotePreprocessFail = "Preprocessing failed - using original"
)

// Preprocessor prepares a scan for recognition.
type Preprocessor struct {
	// MinWidth is the width below which images are upscaled.
	MinWidth int
}

// Process writes an enhanced copy of src into dir. On failure it returns
// src unchanged along with NotePreprocessFail.
func (p *Preprocessor) Process(src, dir string) (string, []string) {
	out, notes, err := p.process(src, dir)
	if err != nil {
		return src, []string{NotePreprocessFail}
	}
	return out, notes
}

func (p *Preprocessor) process(src, dir string) (string, []string, error) {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return "", nil, fmt.Errorf("open image: %w", err)
	}

	var notes []string
	minWidth := p.MinWidth
	if minWidth <= 0 {
		minWidth = 1200
	}
	if w := img.Bounds().Dx(); w < minWidth {
		img = imaging.Resize(img, max(minWidth, w*2), 0, imaging.CatmullRom)
		notes = append(notes, NoteUpscaled)
	}

	var out image.Image = imaging.AdjustContrast(img, 20)
	out = imaging.AdjustBrightness(out, 5)
	notes = append(notes, NoteContrast)

	out = imaging.Blur(out, 0.5)
	notes = append(notes, NoteDenoise)

	out = imaging.Sharpen(out, 1)
	notes = append(notes, NoteSharpen)

	out = imaging.AdjustGamma(imaging.Grayscale(out), 1.2)
	notes = append(notes, NoteGrayscale)

	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "processed-*.png")
	if err != nil {
		return "", nil, err
	}
	path := f.Name()
	f.Close()

	if err := imaging.Save(out, path); err != nil {
		os.Remove(path)
		return "", nil, fmt.Errorf("save processed image: %w", err)
	}
	return path, notes, nil
}
