package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"clipmill/internal/domain"
)

// Config is the full runtime configuration. Values come from an optional TOML
// file, overridden field by field by environment variables.
type Config struct {
	Port            int      `toml:"port"`
	DataDir         string   `toml:"data_dir"`
	StorageRoot     string   `toml:"storage_root"`
	MaxUploadSizeMB int      `toml:"max_upload_size_mb"`
	OutputFormats   []string `toml:"output_formats"`
	DeleteOnFail    bool     `toml:"delete_on_fail"`
	MaxRetries      int      `toml:"max_retries"`
	TokenTTLSec     int      `toml:"token_ttl_sec"`
	TokenSecret     string   `toml:"token_secret"`
	PollIntervalMs  int      `toml:"poll_interval_ms"`
	Workers         int      `toml:"workers"`
}

const (
	// MinTokenTTLSec is the floor applied to any configured token lifetime.
	MinTokenTTLSec = 60

	maxOutputFormats = 3
)

func defaults() *Config {
	return &Config{
		Port:            7890,
		DataDir:         "/data",
		MaxUploadSizeMB: 1024,
		OutputFormats:   []string{"mp4", "webm", "av1"},
		DeleteOnFail:    false,
		MaxRetries:      3,
		TokenTTLSec:     900,
		PollIntervalMs:  2000,
		Workers:         1,
	}
}

// Load builds the configuration. When CLIPMILL_CONFIG names a TOML file (or
// ./clipmill.toml exists) it is decoded first; environment variables win.
func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("CLIPMILL_CONFIG")
	if path == "" {
		if _, err := os.Stat("clipmill.toml"); err == nil {
			path = "clipmill.toml"
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.StorageRoot == "" {
		cfg.StorageRoot = cfg.DataDir + "/storage"
	}
	if cfg.TokenSecret == "" {
		return nil, fmt.Errorf("TOKEN_SECRET is required")
	}
	if cfg.TokenTTLSec < MinTokenTTLSec {
		cfg.TokenTTLSec = MinTokenTTLSec
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	formats, err := ParseFormats(strings.Join(cfg.OutputFormats, ","))
	if err != nil {
		return nil, err
	}
	cfg.OutputFormats = cfg.OutputFormats[:0]
	for _, f := range formats {
		cfg.OutputFormats = append(cfg.OutputFormats, strings.ToLower(string(f)))
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var err error
	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return err
	}
	cfg.DataDir = strEnv("DATA_DIR", cfg.DataDir)
	cfg.StorageRoot = strEnv("LOCAL_STORAGE_ROOT", cfg.StorageRoot)
	if cfg.MaxUploadSizeMB, err = intEnv("MAX_UPLOAD_MB", cfg.MaxUploadSizeMB); err != nil {
		return err
	}
	if v := os.Getenv("OUTPUT_FORMATS"); v != "" {
		cfg.OutputFormats = strings.Split(v, ",")
	}
	cfg.DeleteOnFail = boolEnv("DELETE_ON_FAIL", cfg.DeleteOnFail)
	if cfg.MaxRetries, err = intEnv("MAX_RETRIES", cfg.MaxRetries); err != nil {
		return err
	}
	if cfg.TokenTTLSec, err = intEnv("TOKEN_TTL_SEC", cfg.TokenTTLSec); err != nil {
		return err
	}
	cfg.TokenSecret = strEnv("TOKEN_SECRET", cfg.TokenSecret)
	if cfg.PollIntervalMs, err = intEnv("POLL_INTERVAL_MS", cfg.PollIntervalMs); err != nil {
		return err
	}
	if cfg.Workers, err = intEnv("WORKERS", cfg.Workers); err != nil {
		return err
	}
	return nil
}

// ParseFormats validates a comma-separated output format list and returns the
// ordered formats, capped at three. Unknown names are rejected rather than
// silently dropped.
func ParseFormats(value string) ([]domain.Format, error) {
	var formats []domain.Format
	seen := make(map[domain.Format]bool)
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := domain.ParseFormat(part)
		if err != nil {
			return nil, err
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		formats = append(formats, f)
	}
	if len(formats) == 0 {
		return nil, fmt.Errorf("at least one output format is required")
	}
	if len(formats) > maxOutputFormats {
		formats = formats[:maxOutputFormats]
	}
	return formats, nil
}

// Formats returns the validated output format list.
func (c *Config) Formats() []domain.Format {
	formats, err := ParseFormats(strings.Join(c.OutputFormats, ","))
	if err != nil {
		// Load validated the list already.
		panic(err)
	}
	return formats
}

func strEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1"
}
