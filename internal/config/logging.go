package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger builds the process logger from cfg: human-readable text on
// stderr plus JSON lines appended to cfg.LogFile. The returned func closes
// the log file. An empty LogFile or an unopenable path degrades to stderr.
func SetupLogger(cfg Config, component string) (*slog.Logger, func() error) {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	stderrHandler := slog.NewTextHandler(os.Stderr, opts)

	if cfg.LogFile == "" {
		return slog.New(stderrHandler).With("component", component), noopClose
	}

	if dir := filepath.Dir(cfg.LogFile); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := slog.New(stderrHandler).With("component", component)
		logger.Error("failed to open log file, using stderr only", "error", err, "file", cfg.LogFile)
		return logger, noopClose
	}

	fileHandler := slog.NewJSONHandler(file, opts)
	logger := slog.New(slogmulti.Fanout(stderrHandler, fileHandler)).With("component", component)
	return logger, file.Close
}

// NewLogger fans out to arbitrary writers. Tests use it to capture both the
// text and JSON streams.
func NewLogger(text, jsonOut io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	return slog.New(slogmulti.Fanout(
		slog.NewTextHandler(text, opts),
		slog.NewJSONHandler(jsonOut, opts),
	))
}

func noopClose() error { return nil }
