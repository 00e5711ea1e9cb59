// Package ocr recognises text in page images with one or more engines and
// picks the best reading per page.
package ocr

import (
	"context"
	"strings"
)

// Recognition is one engine's reading of an image.
type Recognition struct {
	Text       string
	Confidence float64 // 0-100
	Engine     string
	Words      int
}

// Engine recognises text in an image file.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, imagePath string) (Recognition, error)
}

// Method names recorded on results.
const (
	MethodDirectText = "DirectText"
	MethodFailed     = "OCR-failed"
	MethodBasic      = "Basic fallback"
)

// MethodFor returns the result method for an engine name.
func MethodFor(engine string) string {
	return "OCR-" + engine
}

// Result is the extraction outcome for one page or image.
type Result struct {
	Text           string   `json:"text"`
	Confidence     float64  `json:"confidence"`
	Method         string   `json:"method"`
	ProcessedWords int      `json:"processedWords"`
	Improvements   []string `json:"improvements"`
	Page           int      `json:"page"`
}

// CountWords splits on whitespace and discards empty tokens.
func CountWords(s string) int {
	return len(strings.Fields(s))
}
