// Package logging builds the process logger: colored text or JSON on the
// console, optionally mirrored into a rotating file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	// debug, info, warn or error
	Level string `mapstructure:"level" env:"PRESSUREDASH_LOG_LEVEL" envDefault:"info"`
	// text or json
	Format  string `mapstructure:"format" env:"PRESSUREDASH_LOG_FORMAT" envDefault:"text"`
	NoColor bool   `mapstructure:"no_color" env:"PRESSUREDASH_LOG_NO_COLOR"`
	Source  bool   `mapstructure:"source" env:"PRESSUREDASH_LOG_SOURCE"`

	// File, when set, also receives every record as JSON.
	File       string `mapstructure:"file" env:"PRESSUREDASH_LOG_FILE"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" env:"PRESSUREDASH_LOG_MAX_SIZE_MB" envDefault:"10"`
	MaxBackups int    `mapstructure:"max_backups" env:"PRESSUREDASH_LOG_MAX_BACKUPS" envDefault:"3"`
	MaxAgeDays int    `mapstructure:"max_age_days" env:"PRESSUREDASH_LOG_MAX_AGE_DAYS" envDefault:"28"`
}

// FromEnv reads the logger configuration from PRESSUREDASH_LOG_* variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing log environment: %w", err)
	}
	return cfg, nil
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New returns a logger writing to console. The returned closer releases the
// log file, if any.
func New(cfg Config, console io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		h = slog.NewJSONHandler(console, &slog.HandlerOptions{AddSource: cfg.Source, Level: level})
	case "text", "":
		h = tint.NewHandler(console, &tint.Options{
			AddSource:  cfg.Source,
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    cfg.NoColor,
		})
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	if cfg.File == "" {
		return slog.New(h), nopCloser{}, nil
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{AddSource: cfg.Source, Level: level})
	return slog.New(fanout{h, fileHandler}), file, nil
}
