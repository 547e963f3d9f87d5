// Package logging installs the daemon's console logger as the slog default.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/benaskins/staticd/internal/config"
)

const (
	EnvLogLevel     = "STATICD_LOG_LEVEL"
	EnvLogFormat    = "STATICD_LOG_FORMAT"
	EnvLogTimestamp = "STATICD_LOG_TIMESTAMP"
)

// New builds a logger writing to w, with env overrides applied over cfg.
func New(w io.Writer, cfg config.Log) *slog.Logger {
	applyEnvOverrides(&cfg)

	level, ok := parseLevel(cfg.Level)
	if !ok {
		level = log.InfoLevel
	}
	handler := log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: cfg.Timestamps,
		TimeFormat:      time.DateTime,
		Formatter:       parseFormat(cfg.Format),
	})
	return slog.New(handler)
}

// Configure installs New(os.Stderr, cfg) as the slog default.
func Configure(cfg config.Log) *slog.Logger {
	logger := New(os.Stderr, cfg)
	slog.SetDefault(logger)
	return logger
}

func applyEnvOverrides(cfg *config.Log) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		if _, ok := parseLevel(v); ok {
			cfg.Level = v
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Format = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamps = v
	}
}

func parseLevel(raw string) (log.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return log.DebugLevel, true
	case "info", "":
		return log.InfoLevel, raw != ""
	case "warn", "warning":
		return log.WarnLevel, true
	case "error":
		return log.ErrorLevel, true
	case "fatal":
		return log.FatalLevel, true
	default:
		return log.InfoLevel, false
	}
}

func parseFormat(raw string) log.Formatter {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
