// Package logging builds the process logger from configuration.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hyperengineering/seventyfive/internal/config"
)

// New returns a logger writing cfg.Format records to w. When cfg.File is set,
// JSON records are also written to a rotating file; the returned closer
// releases it and is never nil.
func New(cfg config.LogConfig, w io.Writer) (*slog.Logger, io.Closer, error) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var console slog.Handler
	if cfg.Format == "text" {
		console = slog.NewTextHandler(w, opts)
	} else {
		console = slog.NewJSONHandler(w, opts)
	}

	if cfg.File == "" {
		return slog.New(console), io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, nil, err
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	handler := slogmulti.Fanout(console, slog.NewJSONHandler(file, opts))
	return slog.New(handler), file, nil
}

// ParseLevel maps a config level name to a slog level. Unknown names are Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
