// Package quality grades extraction results and stored chunk sets.
package quality

import (
	"math"
	"unicode/utf8"

	"github.com/dgallion1/docintake/internal/config"
	"github.com/dgallion1/docintake/internal/store"
)

// Verdict is the overall grade of an extraction.
type Verdict string

const (
	Excellent  Verdict = "excellent"
	Acceptable Verdict = "acceptable"
	Poor       Verdict = "poor"
)

// rank orders verdicts from worst to best.
func (v Verdict) rank() int {
	switch v {
	case Excellent:
		return 2
	case Acceptable:
		return 1
	default:
		return 0
	}
}

// Recommendations.
const (
	RecHighQuality = "High-quality extraction achieved"
	RecSpotCheck   = "Spot-check the extracted text against the source document"
	RecRescan      = "Consider re-scanning at higher resolution"
	RecReprocess   = "Reprocess at higher resolution"
	RecManual      = "Route for manual review"
)

// Assessment is the grade of one extraction.
type Assessment struct {
	Confidence      float64  `json:"confidence"`
	TotalCharacters int      `json:"totalCharacters"`
	TotalWords      int      `json:"totalWords"`
	Verdict         Verdict  `json:"verdict"`
	Recommendations []string `json:"recommendations"`
}

// Assessor grades against a fixed set of thresholds.
type Assessor struct {
	t config.QualityThresholds
}

func NewAssessor(t config.QualityThresholds) *Assessor {
	return &Assessor{t: t}
}

// Assess is deterministic and, for fixed counts, never grades a higher
// confidence worse than a lower one.
func (a *Assessor) Assess(confidence float64, totalCharacters, totalWords int) Assessment {
	out := Assessment{
		Confidence:      confidence,
		TotalCharacters: totalCharacters,
		TotalWords:      totalWords,
	}
	switch {
	case confidence >= a.t.Excellent && totalWords > a.t.ExcellentMinWords:
		out.Verdict = Excellent
		out.Recommendations = []string{RecHighQuality}
	case confidence >= a.t.Acceptable:
		out.Verdict = Acceptable
		out.Recommendations = []string{RecSpotCheck}
		if totalWords < 10 {
			out.Recommendations = append(out.Recommendations, RecRescan)
		}
	default:
		out.Verdict = Poor
		out.Recommendations = []string{RecReprocess, RecManual}
	}
	return out
}

// ChunkAnalysis is the per-chunk line of a quality report.
type ChunkAnalysis struct {
	ChunkID        string   `json:"chunkId"`
	ChunkIndex     int      `json:"chunkIndex"`
	Confidence     float64  `json:"confidence"`
	Method         string   `json:"method"`
	WordCount      int      `json:"wordCount"`
	CharacterCount int      `json:"characterCount"`
	Improvements   []string `json:"improvements"`
	QualityVerdict string   `json:"qualityVerdict,omitempty"`
}

// Summary aggregates a document's OCR-processed chunks.
type Summary struct {
	Chunks            int      `json:"chunks"`
	AverageConfidence float64  `json:"averageConfidence"`
	TotalCharacters   int      `json:"totalCharacters"`
	TotalWords        int      `json:"totalWords"`
	Methods           []string `json:"methods"`
	Improvements      []string `json:"improvements"`
}

// Summarize grades the chunks flagged isOCRProcessed. It reports false when
// there are none.
func (a *Assessor) Summarize(chunks []store.Chunk) (Summary, []ChunkAnalysis, Assessment, bool) {
	var (
		sum       Summary
		analysis  []ChunkAnalysis
		confTotal float64
		methods   = newOrderedSet()
		notes     = newOrderedSet()
	)
	for _, c := range chunks {
		md := c.Metadata
		if !md.IsOCRProcessed {
			continue
		}
		chars := utf8.RuneCountInString(c.Content)
		words := md.ProcessedWords
		if words == 0 {
			words = countWords(c.Content)
		}
		analysis = append(analysis, ChunkAnalysis{
			ChunkID:        c.ID,
			ChunkIndex:     c.ChunkIndex,
			Confidence:     md.Confidence,
			Method:         md.OCRMethod,
			WordCount:      words,
			CharacterCount: chars,
			Improvements:   md.Improvements,
			QualityVerdict: md.QualityVerdict,
		})
		confTotal += md.Confidence
		sum.TotalCharacters += chars
		sum.TotalWords += words
		methods.add(md.OCRMethod)
		notes.add(md.Improvements...)
	}
	if len(analysis) == 0 {
		return Summary{}, nil, Assessment{}, false
	}

	avg := confTotal / float64(len(analysis))
	sum.Chunks = len(analysis)
	sum.AverageConfidence = math.Round(avg)
	sum.Methods = methods.items
	sum.Improvements = notes.items
	return sum, analysis, a.Assess(avg, sum.TotalCharacters, sum.TotalWords), true
}
