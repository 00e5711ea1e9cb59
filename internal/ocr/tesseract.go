package ocr

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgallion1/docintake/internal/runner"
)

// DefaultConfidence is reported when tesseract scores no words.
const DefaultConfidence = 0

// Profile is a tesseract page segmentation setup exposed as one engine.
type Profile struct {
	Name  string
	Label string
	PSM   int
}

// DefaultProfiles are the engines run on every page unless configured
// otherwise.
var DefaultProfiles = []Profile{
	{Name: "standard", Label: "Standard Tesseract", PSM: 3},
	{Name: "document", Label: "Document-optimized", PSM: 6},
	{Name: "line", Label: "Line-by-line", PSM: 7},
}

// ProfileByName looks up one of DefaultProfiles.
func ProfileByName(name string) (Profile, bool) {
	for _, p := range DefaultProfiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// Tesseract runs the tesseract binary in TSV mode.
type Tesseract struct {
	Runner      runner.Runner
	Bin         string
	Lang        string
	TessdataDir string
	Profile     Profile
}

func (t *Tesseract) Name() string { return t.Profile.Name }

func (t *Tesseract) Recognize(ctx context.Context, imagePath string) (Recognition, error) {
	lang := t.Lang
	if lang == "" {
		lang = "eng"
	}
	args := []string{imagePath, "stdout", "-l", lang}
	if t.Profile.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.Profile.PSM))
	}
	if t.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.TessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := t.Runner.Run(ctx, t.Bin, args...)
	if err != nil {
		return Recognition{}, fmt.Errorf("tesseract %s: %w: %s", t.Profile.Name, err, runner.Truncate(string(errb), 512))
	}

	rec := parseTSV(string(out))
	rec.Engine = t.Profile.Name
	return rec, nil
}

// NewEngines builds one Tesseract engine per profile name. Unknown names are
// an error.
func NewEngines(names []string, r runner.Runner, bin, lang string) ([]Engine, error) {
	if len(names) == 0 {
		for _, p := range DefaultProfiles {
			names = append(names, p.Name)
		}
	}
	engines := make([]Engine, 0, len(names))
	for _, name := range names {
		p, ok := ProfileByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown OCR engine %q", name)
		}
		engines = append(engines, &Tesseract{Runner: r, Bin: bin, Lang: lang, Profile: p})
	}
	return engines, nil
}

// TSV columns: level page_num block_num par_num line_num word_num left top
// width height conf text
const (
	colLevel = 0
	colBlock = 2
	colPar   = 3
	colLine  = 4
	colConf  = 10
	colText  = 11
	tsvCols  = 12
)

// parseTSV rebuilds text from word rows and averages their confidence.
func parseTSV(out string) Recognition {
	var (
		b        strings.Builder
		sum      float64
		scored   int
		words    int
		lastPara string
		lastLine string
	)

	for i, ln := range strings.Split(out, "\n") {
		if i == 0 || ln == "" {
			continue
		}
		cols := strings.Split(strings.TrimRight(ln, "\r"), "\t")
		if len(cols) < tsvCols || cols[colLevel] != "5" {
			continue
		}
		word := strings.TrimSpace(cols[colText])

		if conf, err := strconv.ParseFloat(cols[colConf], 64); err == nil && conf >= 0 {
			sum += conf
			scored++
		}
		if word == "" {
			continue
		}

		para := cols[colBlock] + "." + cols[colPar]
		line := para + "." + cols[colLine]
		switch {
		case b.Len() == 0:
		case para != lastPara:
			b.WriteString("\n\n")
		case line != lastLine:
			b.WriteByte('\n')
		default:
			b.WriteByte(' ')
		}
		b.WriteString(word)
		lastPara, lastLine = para, line
		words++
	}

	conf := float64(DefaultConfidence)
	if scored > 0 {
		conf = sum / float64(scored)
	}
	return Recognition{Text: b.String(), Confidence: conf, Words: words}
}
