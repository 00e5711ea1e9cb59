package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	// Storage
	StoreDriver string // sqlite | postgres | memory
	StoreDSN    string
	UploadDir   string
	TempDir     string
	InboxDir    string

	// Extraction
	Rasterizer      string // pdftoppm | fitz
	PdftoppmBin     string
	PdftotextBin    string
	TesseractBin    string
	TesseractLang   string
	OCREngines      []string
	OCRPreprocess   bool
	RasterDensity   int
	RasterMaxWidth  int
	RasterMaxHeight int

	// Timeouts and fan-out
	PageConcurrency int
	PageTimeout     time.Duration
	RasterTimeout   time.Duration
	StoreTimeout    time.Duration

	// Chunking
	ChunkMaxTokens int
	Tokenizer      string // estimate | tiktoken

	// Worker pool
	WorkerCount      int
	MaxQueueSize     int
	BatchConcurrency int
	JobTTL           time.Duration

	// Upload limits
	MaxUploadBytes int64

	// Statement oracle
	AnthropicAPIKey string
	AnthropicModel  string
	OracleRPS       float64

	// Cross-instance document locks
	RedisURL string

	Policy Policy
}

func Load() (Config, error) {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		APIKey: os.Getenv("API_KEY"),

		StoreDriver: envOr("STORE_DRIVER", "sqlite"),
		StoreDSN:    envOr("STORE_DSN", "data/docintake.db"),
		UploadDir:   envOr("UPLOAD_DIR", "uploads"),
		TempDir:     envOr("TEMP_DIR", os.TempDir()),
		InboxDir:    os.Getenv("INBOX_DIR"),

		Rasterizer:      envOr("RASTERIZER", "pdftoppm"),
		PdftoppmBin:     envOr("PDFTOPPM_BIN", "pdftoppm"),
		PdftotextBin:    envOr("PDFTOTEXT_BIN", "pdftotext"),
		TesseractBin:    envOr("TESSERACT_BIN", "tesseract"),
		TesseractLang:   envOr("TESSERACT_LANG", "eng"),
		OCREngines:      envList("OCR_ENGINES", []string{"standard", "document", "line"}),
		OCRPreprocess:   envBool("OCR_PREPROCESS", true),
		RasterDensity:   envInt("RASTER_DENSITY", 300),
		RasterMaxWidth:  envInt("RASTER_MAX_WIDTH", 1200),
		RasterMaxHeight: envInt("RASTER_MAX_HEIGHT", 1600),

		PageConcurrency: envInt("PAGE_CONCURRENCY", 4),
		PageTimeout:     envDuration("PAGE_TIMEOUT", 90*time.Second),
		RasterTimeout:   envDuration("RASTER_TIMEOUT", 5*time.Minute),
		StoreTimeout:    envDuration("STORE_TIMEOUT", 30*time.Second),

		ChunkMaxTokens: envInt("CHUNK_MAX_TOKENS", 1000),
		Tokenizer:      envOr("TOKENIZER", "estimate"),

		WorkerCount:      envInt("WORKER_COUNT", 4),
		MaxQueueSize:     envInt("MAX_QUEUE_SIZE", 100),
		BatchConcurrency: envInt("BATCH_CONCURRENCY", 3),
		JobTTL:           envDuration("JOB_TTL", 1*time.Hour),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
		OracleRPS:       envFloat("ORACLE_RPS", 1),

		RedisURL: os.Getenv("REDIS_URL"),

		Policy: policyFromEnv(),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return cfg, err
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RasterDensity <= 0 {
		c.RasterDensity = 300
	}
	if c.RasterMaxWidth <= 0 {
		c.RasterMaxWidth = 1200
	}
	if c.RasterMaxHeight <= 0 {
		c.RasterMaxHeight = 1600
	}
	if c.PageConcurrency <= 0 {
		c.PageConcurrency = 4
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = 90 * time.Second
	}
	if c.RasterTimeout <= 0 {
		c.RasterTimeout = 5 * time.Minute
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 30 * time.Second
	}
	if c.ChunkMaxTokens <= 0 {
		c.ChunkMaxTokens = 1000
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 100
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = 3
	}
	if c.JobTTL <= 0 {
		c.JobTTL = 1 * time.Hour
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 52428800
	}
	if c.OracleRPS <= 0 {
		c.OracleRPS = 1
	}
	if len(c.OCREngines) == 0 {
		c.OCREngines = []string{"standard", "document", "line"}
	}
	c.Policy.applyDefaults()
}

// Validate checks settings shared by every binary.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be sqlite, postgres or memory, got %q", c.StoreDriver)
	}
	switch c.Rasterizer {
	case "pdftoppm", "fitz":
	default:
		return fmt.Errorf("RASTERIZER must be pdftoppm or fitz, got %q", c.Rasterizer)
	}
	switch c.Tokenizer {
	case "estimate", "tiktoken":
	default:
		return fmt.Errorf("TOKENIZER must be estimate or tiktoken, got %q", c.Tokenizer)
	}
	if c.Policy.QualityThresholds.Acceptable > c.Policy.QualityThresholds.Excellent {
		return fmt.Errorf("quality thresholds: acceptable (%v) must not exceed excellent (%v)",
			c.Policy.QualityThresholds.Acceptable, c.Policy.QualityThresholds.Excellent)
	}
	return nil
}

// ValidateServer adds the checks that only apply to the HTTP server.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
