// Package config loads settings for both binaries: a YAML file first, then
// environment variables on top.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Address      string        `yaml:"address"`
	DBPath       string        `yaml:"db_path"`
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	TemplatePath string        `yaml:"template_path"`
	WeightsPath  string        `yaml:"weights_path"`

	// housekeeper
	Server    string        `yaml:"server"`
	CachePath string        `yaml:"cache_path"`
	RateLimit float64       `yaml:"rate_limit"`
	RateBurst int           `yaml:"rate_burst"`
	Timeout   time.Duration `yaml:"timeout"`
	TokenPath string        `yaml:"token_path"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func Default() Config {
	return Config{
		Address:      ":8080",
		DBPath:       "data/openhouse.db",
		TokenTTL:     30 * 24 * time.Hour,
		TemplatePath: "data/dreamhouse.json",
		WeightsPath:  "configs/weights.json",
		Server:       "http://localhost:8080",
		CachePath:    "housekeeper.db",
		RateLimit:    5,
		RateBurst:    5,
		Timeout:      15 * time.Second,
		TokenPath:    ".housekeeper-token",
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Load reads path (a missing file keeps the defaults) and applies env overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Address = getEnv("API_ADDRESS", c.Address)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.TemplatePath = getEnv("TEMPLATE_PATH", c.TemplatePath)
	c.WeightsPath = getEnv("WEIGHTS_PATH", c.WeightsPath)
	c.Server = getEnv("HOUSEKEEPER_SERVER", c.Server)
	c.CachePath = getEnv("HOUSEKEEPER_CACHE", c.CachePath)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	if v := os.Getenv("HOUSEKEEPER_RATE"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("HOUSEKEEPER_RATE: %w", err)
		}
		c.RateLimit = r
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
