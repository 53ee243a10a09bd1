package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/soochol/deinline/internal/deinline"
)

// DefaultFile is the config file LoadDefault looks for in the working directory.
const DefaultFile = "deinline.yaml"

// Config holds the top-level application configuration.
type Config struct {
	Job        deinline.Job   `yaml:"job"`
	Jobs       []deinline.Job `yaml:"jobs"`
	Replace    string         `yaml:"replace"`     // "last" | "first" | "positional"
	KeepInline string         `yaml:"keep_inline"` // expr-lang expression, empty keeps nothing inline
	Batch      BatchConfig    `yaml:"batch"`
	Server     ServerConfig   `yaml:"server"`
	Database   DatabaseConfig `yaml:"database"`
	S3         S3Config       `yaml:"s3"`
}

// BatchConfig holds settings for multi-document runs.
type BatchConfig struct {
	Concurrency int    `yaml:"concurrency"` // max documents processed at once (default: 4)
	Schedule    string `yaml:"schedule"`    // cron expression; empty runs the batch once
	Timezone    string `yaml:"timezone"`    // IANA zone for schedule (default: local)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	AssetsDir     string `yaml:"assets_dir"`     // root for per-run asset directories
	MaxConcurrent int    `yaml:"max_concurrent"` // simultaneous extractions (default: 4)
	Storage       string `yaml:"storage"`        // "local" (default) | "s3"
	JWTSecret     string `yaml:"jwt_secret"`     // when set, /api requires HS256 bearer tokens
}

// DatabaseConfig holds PostgreSQL connection settings for run history.
// An empty URL keeps run history in memory only.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// S3Config holds the bucket used when server.storage is "s3".
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`   // key prefix; run images go under <prefix>/<run-id>/
	Endpoint  string `yaml:"endpoint"` // S3-compatible endpoint, e.g. MinIO
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Job: deinline.Job{
			Input:     "Original.html",
			Output:    "index.html",
			AssetsDir: "assets",
		},
		Replace: string(deinline.ReplaceLast),
		Batch:   BatchConfig{Concurrency: 4},
		Server: ServerConfig{
			Host:          "127.0.0.1",
			Port:          8080,
			AssetsDir:     "assets",
			MaxConcurrent: 4,
			Storage:       "local",
		},
		S3: S3Config{Prefix: "assets"},
	}
}

// Default returns the built-in configuration.
func Default() *Config { return defaults() }

// Load reads a YAML configuration file at path and returns a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// LoadDefault tries to load "deinline.yaml" from the current directory.
// If the file does not exist, it returns sensible defaults.
// Any other error (e.g. permission denied, malformed YAML) is returned.
func LoadDefault() (*Config, error) {
	cfg, err := Load(DefaultFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv loads .env (when present) and overrides fields from DEINLINE_*
// environment variables.
func (c *Config) ApplyEnv() error {
	_ = godotenv.Load()

	setString(&c.Job.Input, "DEINLINE_INPUT")
	setString(&c.Job.Output, "DEINLINE_OUTPUT")
	setString(&c.Job.AssetsDir, "DEINLINE_ASSETS_DIR")
	setString(&c.Job.AssetsPrefix, "DEINLINE_ASSETS_PREFIX")
	setString(&c.Replace, "DEINLINE_REPLACE")
	setString(&c.KeepInline, "DEINLINE_KEEP_INLINE")
	setString(&c.Server.Host, "DEINLINE_HOST")
	setString(&c.Server.AssetsDir, "DEINLINE_SERVER_ASSETS_DIR")
	setString(&c.Database.URL, "DEINLINE_DATABASE_URL")
	setString(&c.Server.Storage, "DEINLINE_STORAGE")
	setString(&c.Server.JWTSecret, "DEINLINE_JWT_SECRET")
	setString(&c.S3.Bucket, "DEINLINE_S3_BUCKET")
	setString(&c.S3.Region, "DEINLINE_S3_REGION")
	setString(&c.S3.Endpoint, "DEINLINE_S3_ENDPOINT")
	setString(&c.S3.AccessKey, "AWS_ACCESS_KEY_ID")
	setString(&c.S3.SecretKey, "AWS_SECRET_ACCESS_KEY")

	if v, ok := os.LookupEnv("DEINLINE_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DEINLINE_PORT=%q: not an int", v)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate checks values that cannot be fixed by defaults.
func (c *Config) Validate() error {
	if _, err := deinline.ParseReplacePolicy(c.Replace); err != nil {
		return err
	}
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("batch.concurrency must be positive, got %d", c.Batch.Concurrency)
	}
	if c.Server.MaxConcurrent <= 0 {
		return fmt.Errorf("server.max_concurrent must be positive, got %d", c.Server.MaxConcurrent)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Server.Storage {
	case "", "local":
	case "s3":
		if c.S3.Bucket == "" || c.S3.Region == "" {
			return fmt.Errorf("server.storage is s3 but s3.bucket or s3.region is empty")
		}
	default:
		return fmt.Errorf("unknown server.storage %q (want local or s3)", c.Server.Storage)
	}
	return nil
}

// Policy returns the configured replace policy. Call Validate first.
func (c *Config) Policy() deinline.ReplacePolicy {
	p, _ := deinline.ParseReplacePolicy(c.Replace)
	return p
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}
