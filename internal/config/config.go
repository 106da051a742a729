package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds runtime configuration for the print agent. Every option has a
// default suitable for a local deployment next to the browser and the spooler.
type Config struct {
	Host  string `env:"HOST" envDefault:"0.0.0.0"`
	Port  string `env:"PORT" envDefault:"8848"`
	Debug bool   `env:"DEBUG" envDefault:"false"`

	// Scratch directories used by a run. ImageDir holds transient captcha
	// snapshots, DownloadDir is where the browser drops exported archives,
	// ExtractPath is where normalized archives are materialized for printing.
	ImageDir    string `env:"IMG_DIR" envDefault:"test-image"`
	DownloadDir string `env:"DOWNLOAD_DIR" envDefault:"downloads"`
	ExtractPath string `env:"EXTRACT_PATH" envDefault:"extract"`

	DriverPath string `env:"DRIVER_PATH" envDefault:""`
	Headless   bool   `env:"HEADLESS" envDefault:"true"`

	MaxRetry       int           `env:"MAX_RETRY" envDefault:"5"`
	SessionTimeout time.Duration `env:"SESSION_TIMEOUT" envDefault:"30m"`

	PrinterName      string        `env:"PRINTER_NAME" envDefault:"TestPrinter"`
	PrintHelper      string        `env:"PRINT_HELPER" envDefault:"printer/PDFtoPrinter.exe"`
	PrintStatusCmd   string        `env:"PRINT_STATUS_CMD" envDefault:"printer/printstat"`
	PrintPollTimeout time.Duration `env:"PRINT_POLL_TIMEOUT" envDefault:"10m"`

	// RecognizerCmd is the external slider-gap recognizer invoked with the
	// captcha image path; it prints a bounding box as JSON on stdout.
	RecognizerCmd string `env:"RECOGNIZER_CMD" envDefault:"recognizer/slider"`

	// CatalogPath optionally overrides the compiled-in document catalog.
	CatalogPath string `env:"CATALOG_PATH" envDefault:""`

	// ArchiveEncoding is the charset of legacy zip entry names.
	ArchiveEncoding string `env:"ARCHIVE_ENCODING" envDefault:"gbk"`

	// Redis-backed login rate limiting. Disabled when RedisAddr is empty.
	RedisAddr         string  `env:"REDIS_ADDR" envDefault:""`
	RedisPassword     string  `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB           int     `env:"REDIS_DB" envDefault:"0"`
	RateLimitCapacity int     `env:"RATE_LIMIT_CAPACITY" envDefault:"10"`
	RateLimitRefill   float64 `env:"RATE_LIMIT_REFILL_PER_SEC" envDefault:"0.2"`
}

// Load reads configuration from the environment, after loading a local .env
// file when present. Missing variables fall back to defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.MaxRetry < 1 {
		cfg.MaxRetry = 1
	}
	return cfg, nil
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}
