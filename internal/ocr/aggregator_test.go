package ocr

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
)

func TestExtractWithMultipleEngines_PicksHighestScore(t *testing.T) {
	low := &fakeEngine{name: "standard", rec: Recognition{Text: "Short", Confidence: 40}}
	high := &fakeEngine{name: "document", rec: Recognition{Text: "Monthly statement", Confidence: 90}}
	agg := NewAggregator([]Engine{low, high}, AggregatorOptions{})

	res, err := agg.ExtractWithMultipleEngines(context.Background(), "page.png", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != "OCR-document" {
		t.Errorf("expected OCR-document, got %q", res.Method)
	}
	if res.Confidence != 90 {
		t.Errorf("expected confidence 90, got %v", res.Confidence)
	}
	if res.Text != "Monthly statement" || res.ProcessedWords != 2 {
		t.Errorf("unexpected text %q / %d words", res.Text, res.ProcessedWords)
	}
}

func TestExtractWithMultipleEngines_TieGoesToFirst(t *testing.T) {
	a := &fakeEngine{name: "standard", rec: Recognition{Text: "same text", Confidence: 80}}
	b := &fakeEngine{name: "line", rec: Recognition{Text: "same text", Confidence: 80}}
	agg := NewAggregator([]Engine{a, b}, AggregatorOptions{})

	for range 5 {
		res, _ := agg.ExtractWithMultipleEngines(context.Background(), "page.png", "")
		if res.Method != "OCR-standard" {
			t.Fatalf("expected OCR-standard on tie, got %q", res.Method)
		}
	}
}

func TestExtractWithMultipleEngines_LengthOutweighsConfidence(t *testing.T) {
	conf := &fakeEngine{name: "line", rec: Recognition{Text: "Total", Confidence: 95}}
	long := &fakeEngine{name: "document", rec: Recognition{Text: strings.Repeat("word ", 60), Confidence: 70}}
	agg := NewAggregator([]Engine{conf, long}, AggregatorOptions{})

	res, _ := agg.ExtractWithMultipleEngines(context.Background(), "page.png", "")
	if res.Method != "OCR-document" {
		t.Errorf("expected longer reading to win, got %q", res.Method)
	}
}

func TestExtractWithMultipleEngines_FailedEngineNoted(t *testing.T) {
	broken := &fakeEngine{name: "standard", err: errors.New("boom")}
	ok := &fakeEngine{name: "line", rec: Recognition{Text: "Fees", Confidence: 70}}
	agg := NewAggregator([]Engine{broken, ok}, AggregatorOptions{})

	res, _ := agg.ExtractWithMultipleEngines(context.Background(), "page.png", "")
	if res.Method != "OCR-line" {
		t.Errorf("expected OCR-line, got %q", res.Method)
	}
	if res.Improvements[0] != "standard engine failed" {
		t.Errorf("expected failure note first, got %v", res.Improvements)
	}
}

func TestExtractWithMultipleEngines_AllFail(t *testing.T) {
	agg := NewAggregator([]Engine{
		&fakeEngine{name: "standard", err: errors.New("a")},
		&fakeEngine{name: "line", err: errors.New("b")},
	}, AggregatorOptions{})

	res, err := agg.ExtractWithMultipleEngines(context.Background(), "page.png", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "" || res.Confidence != 0 || res.Method != MethodFailed {
		t.Errorf("unexpected failed result %+v", res)
	}
	if !reflect.DeepEqual(res.Improvements, []string{NoteAllFailed}) {
		t.Errorf("expected %q, got %v", NoteAllFailed, res.Improvements)
	}
}

func TestWithEngines(t *testing.T) {
	agg := NewAggregator([]Engine{
		&fakeEngine{name: "standard"},
		&fakeEngine{name: "document"},
		&fakeEngine{name: "line"},
	}, AggregatorOptions{})

	sub, err := agg.WithEngines([]string{"line", "standard"})
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(sub.Engines(), ","); got != "line,standard" {
		t.Errorf("expected line,standard, got %s", got)
	}
	if got := strings.Join(agg.Engines(), ","); got != "standard,document,line" {
		t.Errorf("expected original unchanged, got %s", got)
	}
	if _, err := agg.WithEngines([]string{"nope"}); err == nil {
		t.Error("expected error for unknown engine")
	}
}

func TestProcessBatch_TimedOutPageDoesNotAbort(t *testing.T) {
	dir := t.TempDir()
	var pages []string
	for _, name := range []string{"page-1.png", "page-2.png", "page-3.png"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("img"), 0o600); err != nil {
			t.Fatal(err)
		}
		pages = append(pages, p)
	}

	eng := &fakeEngine{
		name: "standard",
		byImg: map[string]Recognition{
			pages[0]: {Text: "Page one text.", Confidence: 88},
			pages[2]: {Text: "Page three text.", Confidence: 76},
		},
		block: map[string]bool{pages[1]: true},
	}
	stats := NewStats(time.Hour)
	agg := NewAggregator([]Engine{eng}, AggregatorOptions{
		Concurrency: 2,
		PageTimeout: 50 * time.Millisecond,
		Stats:       stats,
	})

	results := agg.ProcessBatch(context.Background(), pages, dir)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Page != i {
			t.Errorf("expected page %d at index %d, got %d", i, i, r.Page)
		}
	}
	if results[0].Text != "Page one text." || results[2].Text != "Page three text." {
		t.Errorf("unexpected page texts: %q / %q", results[0].Text, results[2].Text)
	}
	if results[1].Text != "" || results[1].Confidence != 0 {
		t.Errorf("expected empty zero-confidence page 2, got %+v", results[1])
	}
	if len(results[1].Improvements) != 1 || !strings.HasPrefix(results[1].Improvements[0], "Page 2 OCR failed: ") {
		t.Errorf("expected page failure note, got %v", results[1].Improvements)
	}
	for _, p := range pages {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("expected %s to be removed", filepath.Base(p))
		}
	}
	if snap := stats.Snapshot()["standard"]; snap.Count != 3 || snap.Failures != 1 {
		t.Errorf("expected 3 samples with 1 failure, got %+v", snap)
	}
}

func TestPreprocessor_WritesProcessedCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scan.png")
	img := imaging.New(400, 300, color.White)
	if err := imaging.Save(img, src); err != nil {
		t.Fatal(err)
	}

	p := &Preprocessor{}
	out, notes := p.Process(src, dir)
	if out == src {
		t.Fatal("expected a processed copy")
	}
	want := []string{NoteUpscaled, NoteContrast, NoteDenoise, NoteSharpen, NoteGrayscale}
	if !reflect.DeepEqual(notes, want) {
		t.Errorf("expected %v, got %v", want, notes)
	}
	processed, err := imaging.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	if processed.Bounds() != image.Rect(0, 0, 1200, 900) {
		t.Errorf("expected 1200x900, got %v", processed.Bounds())
	}
}

func TestPreprocessor_FallsBackToOriginal(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "not-an-image.png")
	if err := os.WriteFile(src, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	out, notes := (&Preprocessor{}).Process(src, dir)
	if out != src || !reflect.DeepEqual(notes, []string{NotePreprocessFail}) {
		t.Errorf("expected original with failure note, got %q %v", out, notes)
	}
}

func TestExtractWithMultipleEngines_RemovesProcessedImage(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scan.png")
	if err := imaging.Save(imaging.New(1300, 100, color.White), src); err != nil {
		t.Fatal(err)
	}
	eng := &fakeEngine{name: "standard", rec: Recognition{Text: "ok", Confidence: 50}}
	agg := NewAggregator([]Engine{eng}, AggregatorOptions{Preprocessor: &Preprocessor{}})

	res, err := agg.ExtractWithMultipleEngines(context.Background(), src, dir)
	if err != nil {
		t.Fatal(err)
	}
	if res.Improvements[0] != NoteContrast {
		t.Errorf("expected no upscale for wide image, got %v", res.Improvements)
	}
	if eng.calls[0] == src {
		t.Error("expected engine to see the processed image")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the source image to remain, got %d entries", len(entries))
	}
}

func TestExtractWithMultipleEngines_BasicFallbackOnOriginal(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scan.png")
	if err := imaging.Save(imaging.New(400, 300, color.White), src); err != nil {
		t.Fatal(err)
	}
	onlyOriginal := func(path string) error {
		if path != src {
			return errors.New("unreadable")
		}
		return nil
	}
	first := &fakeEngine{name: "standard", rec: Recognition{Text: "Statement total 120", Confidence: 61}, fail: onlyOriginal}
	second := &fakeEngine{name: "line", rec: Recognition{Text: "unused", Confidence: 90}, fail: onlyOriginal}
	agg := NewAggregator([]Engine{first, second}, AggregatorOptions{Preprocessor: &Preprocessor{}})

	res, err := agg.ExtractWithMultipleEngines(context.Background(), src, dir)
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != MethodBasic || res.Text != "Statement total 120" || res.Confidence != 61 {
		t.Errorf("expected basic fallback reading, got %+v", res)
	}
	if !reflect.DeepEqual(res.Improvements, []string{NoteBasicOnly}) {
		t.Errorf("expected %q, got %v", NoteBasicOnly, res.Improvements)
	}
	if len(first.calls) != 2 || first.calls[1] != src {
		t.Errorf("expected first engine retried on original, got %v", first.calls)
	}
	if len(second.calls) != 1 {
		t.Errorf("expected second engine not retried, got %v", second.calls)
	}
}

func TestExtractWithMultipleEngines_BasicFallbackAlsoFails(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scan.png")
	if err := imaging.Save(imaging.New(400, 300, color.White), src); err != nil {
		t.Fatal(err)
	}
	eng := &fakeEngine{name: "standard", err: errors.New("tesseract missing")}
	agg := NewAggregator([]Engine{eng}, AggregatorOptions{Preprocessor: &Preprocessor{}})

	res, err := agg.ExtractWithMultipleEngines(context.Background(), src, dir)
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != MethodFailed || !reflect.DeepEqual(res.Improvements, []string{NoteAllFailed}) {
		t.Errorf("expected failed result, got %+v", res)
	}
	if len(eng.calls) != 2 {
		t.Errorf("expected processed and original attempts, got %d", len(eng.calls))
	}
}
