package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy collects the extraction and grading constants in one place.
type Policy struct {
	DirectTextConfidence float64           `yaml:"direct_text_confidence"`
	MinTextLength        int               `yaml:"min_text_length"`
	QualityThresholds    QualityThresholds `yaml:"quality_thresholds"`

	// AcceptTextFormats lets plain text, markup and office uploads through the
	// text layer instead of rejecting them as unsupported.
	AcceptTextFormats bool `yaml:"accept_text_formats"`
}

// QualityThresholds are confidence cut-offs on the 0-100 scale.
type QualityThresholds struct {
	Excellent         float64 `yaml:"excellent"`
	Acceptable        float64 `yaml:"acceptable"`
	ExcellentMinWords int     `yaml:"excellent_min_words"`
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		DirectTextConfidence: 95,
		MinTextLength:        50,
		QualityThresholds: QualityThresholds{
			Excellent:         85,
			Acceptable:        60,
			ExcellentMinWords: 20,
		},
	}
}

func policyFromEnv() Policy {
	d := DefaultPolicy()
	return Policy{
		DirectTextConfidence: envFloat("DIRECT_TEXT_CONFIDENCE", d.DirectTextConfidence),
		MinTextLength:        envInt("MIN_TEXT_LENGTH", d.MinTextLength),
		QualityThresholds: QualityThresholds{
			Excellent:         envFloat("QUALITY_EXCELLENT", d.QualityThresholds.Excellent),
			Acceptable:        envFloat("QUALITY_ACCEPTABLE", d.QualityThresholds.Acceptable),
			ExcellentMinWords: envInt("QUALITY_EXCELLENT_MIN_WORDS", d.QualityThresholds.ExcellentMinWords),
		},
		AcceptTextFormats: envBool("ACCEPT_TEXT_FORMATS", false),
	}
}

func (p *Policy) applyDefaults() {
	d := DefaultPolicy()
	if p.DirectTextConfidence <= 0 || p.DirectTextConfidence > 100 {
		p.DirectTextConfidence = d.DirectTextConfidence
	}
	if p.MinTextLength <= 0 {
		p.MinTextLength = d.MinTextLength
	}
	if p.QualityThresholds.Excellent <= 0 {
		p.QualityThresholds.Excellent = d.QualityThresholds.Excellent
	}
	if p.QualityThresholds.Acceptable <= 0 {
		p.QualityThresholds.Acceptable = d.QualityThresholds.Acceptable
	}
	if p.QualityThresholds.ExcellentMinWords < 0 {
		p.QualityThresholds.ExcellentMinWords = d.QualityThresholds.ExcellentMinWords
	}
}

// fileConfig is the optional YAML overlay. Only keys present in the file
// replace the environment values.
type fileConfig struct {
	Policy     *Policy  `yaml:"policy"`
	OCREngines []string `yaml:"ocr_engines"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	fc := fileConfig{Policy: &cfg.Policy}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if len(fc.OCREngines) > 0 {
		cfg.OCREngines = fc.OCREngines
	}
	return nil
}
