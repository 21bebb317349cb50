package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sharpscale/internal/config"
)

// New returns a slog.Logger with the provided level string (info, debug, warn, error).
// format may be "json" or "text". Output goes to stderr so stdout stays free
// for the progress line.
func New(level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// Setup configures global logging on stderr with optional file output.
func Setup(cfg *config.Config) (*slog.Logger, error) {
	return SetupWriter(cfg, os.Stderr)
}

// SetupWriter is Setup with an explicit console writer.
func SetupWriter(cfg *config.Config, console io.Writer) (*slog.Logger, error) {
	level := parseLevel(cfg.Logging.Level)

	writers := []io.Writer{console}

	if cfg.Logging.FileOutput {
		if err := os.MkdirAll(cfg.Logging.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		logFile := filepath.Join(cfg.Logging.LogDir, fmt.Sprintf("sharpscale-%s.log",
			time.Now().Format("2006-01-02")))

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)

		currentLogPath := filepath.Join(cfg.Logging.LogDir, "sharpscale-current.log")
		os.Remove(currentLogPath)
		// Best effort; filesystems without symlinks still get the dated file.
		_ = os.Symlink(filepath.Base(logFile), currentLogPath)
	}

	out := io.MultiWriter(writers...)

	var handler slog.Handler
	if strings.ToLower(cfg.Logging.Format) == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = NewTraditionalHandler(out, level)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Debug("sharpscale logging initialized",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"file_output", cfg.Logging.FileOutput,
		"log_dir", cfg.Logging.LogDir,
	)

	return logger, nil
}

// TraditionalHandler implements slog.Handler with "[LEVEL] message [k=v]" lines.
type TraditionalHandler struct {
	logger *log.Logger
	level  slog.Level
	attrs  []slog.Attr
}

// NewTraditionalHandler writes to w using the standard log flags.
func NewTraditionalHandler(w io.Writer, level slog.Level) *TraditionalHandler {
	return &TraditionalHandler{logger: log.New(w, "", log.LstdFlags), level: level}
}

func (h *TraditionalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *TraditionalHandler) Handle(ctx context.Context, r slog.Record) error {
	msg := r.Message
	attrs := make([]string, 0, len(h.attrs)+r.NumAttrs())

	for _, a := range h.attrs {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		return true
	})

	if len(attrs) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(attrs, " "))
	}

	h.logger.Printf("[%s] %s", strings.ToUpper(r.Level.String()), msg)
	return nil
}

func (h *TraditionalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &TraditionalHandler{logger: h.logger, level: h.level, attrs: merged}
}

func (h *TraditionalHandler) WithGroup(name string) slog.Handler {
	// Groups are flattened in the traditional format.
	return h
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogRunStart logs the beginning of a batch or watch run.
func LogRunStart(logger *slog.Logger, mode, runID, input, output string, options map[string]any) {
	logger.Info("run started",
		"mode", mode,
		"id", runID,
		"input", input,
		"output", output,
		"options", options,
	)
}

// LogRunComplete logs the end of a run with its counters.
func LogRunComplete(logger *slog.Logger, mode, runID string, duration time.Duration, total, failed int) {
	logger.Info("run completed",
		"mode", mode,
		"id", runID,
		"total", total,
		"failed", failed,
		"duration_ms", duration.Milliseconds(),
		"duration_human", duration.String(),
	)
}

// LogFileComplete logs a successfully enhanced file.
func LogFileComplete(logger *slog.Logger, jobID, input, output string, duration time.Duration) {
	logger.Debug("file enhanced",
		"id", jobID,
		"input", input,
		"output", output,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogFileError logs a per-file failure; the file is skipped.
func LogFileError(logger *slog.Logger, jobID, input, stage string, duration time.Duration, err error) {
	logger.Error("failed to "+stage+" "+filepath.Base(input),
		"id", jobID,
		"input", input,
		"stage", stage,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
	)
}
