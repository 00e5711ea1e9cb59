package ingest

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/docintake/internal/ocr"
	"github.com/dgallion1/docintake/internal/quality"
)

// Status is the terminal state of an ingestion.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusFailed           Status = "content-extraction-failed"
	StatusAlreadyProcessed Status = "already-processed"
)

// NoContentSuggestions are returned when nothing usable was extracted.
var NoContentSuggestions = []string{
	"Verify the document file is a valid PDF or image",
	"Check if the document contains actual text content",
	"Try re-uploading the document",
	"Contact support if the issue persists",
}

// Report summarises one ingestion.
type Report struct {
	DocumentID        string             `json:"documentId"`
	Pages             int                `json:"pages"`
	TotalCharacters   int                `json:"totalCharacters"`
	TotalWords        int                `json:"totalWords"`
	AverageConfidence int                `json:"averageConfidence"`
	QualityAssessment quality.Assessment `json:"qualityAssessment"`
	Methods           []string           `json:"methods"`
	Improvements      []string           `json:"improvements"`
	ChunksCreated     int                `json:"chunksCreated"`
	Status            Status             `json:"status"`
	Message           string             `json:"message,omitempty"`
	Suggestions       []string           `json:"suggestions,omitempty"`
}

// Summarize builds the extraction part of a report and the mean confidence.
func Summarize(documentID string, results []ocr.Result, a *quality.Assessor) (Report, float64) {
	texts := make([]string, len(results))
	var (
		confSum float64
		words   int
		methods []string
		notes   []string
	)
	for i, r := range results {
		texts[i] = r.Text
		confSum += r.Confidence
		words += r.ProcessedWords
		methods = append(methods, r.Method)
		notes = append(notes, r.Improvements...)
	}

	var avg float64
	if len(results) > 0 {
		avg = confSum / float64(len(results))
	}
	chars := utf8.RuneCountInString(strings.Join(texts, "\n\n"))

	return Report{
		DocumentID:        documentID,
		Pages:             len(results),
		TotalCharacters:   chars,
		TotalWords:        words,
		AverageConfidence: int(math.Round(avg)),
		QualityAssessment: a.Assess(avg, chars, words),
		Methods:           quality.Unique(methods),
		Improvements:      quality.Unique(notes),
	}, avg
}

// Failed returns r marked as failed with err's message and suggestions.
func (r Report) Failed(err *Error) Report {
	r.Status = StatusFailed
	r.Message = err.Message
	r.Suggestions = err.Suggestions
	r.ChunksCreated = 0
	return r
}
