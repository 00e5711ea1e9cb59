package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Metadata describes how a chunk's text was produced.
type Metadata struct {
	OCRMethod      string         `json:"ocrMethod"`
	Confidence     float64        `json:"confidence"`
	Improvements   []string       `json:"improvements"`
	IsOCRProcessed bool           `json:"isOCRProcessed"`
	ExtractedAt    time.Time      `json:"extractedAt"`
	ProcessedWords int            `json:"processedWords,omitempty"`
	Page           *int           `json:"page,omitempty"`
	QualityVerdict string         `json:"qualityVerdict,omitempty"`
	ReprocessedAt  *time.Time     `json:"reprocessedAt,omitempty"`
	CustomSettings map[string]any `json:"customSettings,omitempty"`
}

const metadataSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["ocrMethod", "confidence", "improvements", "isOCRProcessed", "extractedAt"],
  "additionalProperties": false,
  "properties": {
    "ocrMethod": {"type": "string", "minLength": 1},
    "confidence": {"type": "number", "minimum": 0, "maximum": 100},
    "improvements": {"type": "array", "items": {"type": "string"}},
    "isOCRProcessed": {"type": "boolean"},
    "extractedAt": {"type": "string", "format": "date-time"},
    "processedWords": {"type": "integer", "minimum": 0},
    "page": {"type": "integer", "minimum": 0},
    "qualityVerdict": {"enum": ["excellent", "acceptable", "poor"]},
    "reprocessedAt": {"type": "string", "format": "date-time"},
    "customSettings": {"type": "object"}
  }
}`

var metadataSchema = compileMetadataSchema()

func compileMetadataSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.AssertFormat = true
	if err := c.AddResource("chunk-metadata.json", strings.NewReader(metadataSchemaJSON)); err != nil {
		panic(err)
	}
	return c.MustCompile("chunk-metadata.json")
}

// EncodeMetadata validates m and returns its JSON form.
func EncodeMetadata(m Metadata) ([]byte, error) {
	if m.Improvements == nil {
		m.Improvements = []string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := validateMetadataJSON(b); err != nil {
		return nil, err
	}
	return b, nil
}

// DecodeMetadata validates stored JSON before decoding it.
func DecodeMetadata(b []byte) (Metadata, error) {
	var m Metadata
	if err := validateMetadataJSON(b); err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return m, nil
}

func validateMetadataJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("unmarshal metadata: %w", err)
	}
	if err := metadataSchema.Validate(v); err != nil {
		return fmt.Errorf("invalid chunk metadata: %w", err)
	}
	return nil
}
