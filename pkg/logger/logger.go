package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes the application logger. Output paths other than
// "stdout" and "stderr" are rotating files.
type Config struct {
	Level       string         `json:"level"`
	Format      string         `json:"format"`
	OutputPaths []string       `json:"output_paths"`
	Rotation    RotationConfig `json:"rotation"`
	Audit       AuditConfig    `json:"audit"`
}

// RotationConfig bounds the size and age of file outputs.
type RotationConfig struct {
	MaxSizeMB  int  `json:"max_size_mb"`
	MaxBackups int  `json:"max_backups"`
	MaxAgeDays int  `json:"max_age_days"`
	Compress   bool `json:"compress"`
}

// AuditConfig routes wallet creation, transfers, job state changes and API
// access decisions to a dedicated JSON file. When disabled, audit entries go
// to the application logger.
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

func (a AuditConfig) rotation() RotationConfig {
	return RotationConfig{MaxSizeMB: a.MaxSizeMB, MaxBackups: a.MaxBackups, MaxAgeDays: a.MaxAgeDays, Compress: a.Compress}
}

// redactedKeys are attribute names whose values never reach a log sink.
var redactedKeys = []string{"api_key", "authorization", "password", "private_key", "secret", "token"}

var (
	mu      sync.RWMutex
	appLog  *slog.Logger
	auditLg *slog.Logger
	files   []io.Closer
)

// Init builds the global loggers. Calling it again swaps the loggers and
// closes the files held by the previous configuration.
func Init(cfg Config) error {
	var opened []io.Closer
	fail := func(err error) error {
		closeAll(opened)
		return err
	}

	out, err := openOutputs(cfg.OutputPaths, cfg.Rotation, &opened)
	if err != nil {
		return fail(err)
	}
	app := slog.New(newHandler(cfg.Format, out, parseLevel(cfg.Level)))

	audit := app
	if cfg.Audit.Enabled {
		if strings.TrimSpace(cfg.Audit.Path) == "" {
			return fail(errors.New("audit log path cannot be empty when enabled"))
		}
		w, err := rotatingFile(cfg.Audit.Path, cfg.Audit.rotation())
		if err != nil {
			return fail(err)
		}
		opened = append(opened, w)
		audit = slog.New(newHandler("json", w, slog.LevelInfo)).With(slog.String("stream", "audit"))
	}

	mu.Lock()
	previous := files
	appLog, auditLg, files = app, audit, opened
	mu.Unlock()

	closeAll(previous)
	return nil
}

func newHandler(format string, w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: redact}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func redact(_ []string, attr slog.Attr) slog.Attr {
	if slices.Contains(redactedKeys, strings.ToLower(attr.Key)) {
		return slog.String(attr.Key, "[REDACTED]")
	}
	return attr
}

func openOutputs(paths []string, rotation RotationConfig, opened *[]io.Closer) (io.Writer, error) {
	if len(paths) == 0 {
		return os.Stderr, nil
	}
	writers := make([]io.Writer, 0, len(paths))
	for _, p := range paths {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			w, err := rotatingFile(p, rotation)
			if err != nil {
				return nil, err
			}
			*opened = append(*opened, w)
			writers = append(writers, w)
		}
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func rotatingFile(path string, r RotationConfig) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory for %s: %w", path, err)
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    positiveOr(r.MaxSizeMB, 100),
		MaxBackups: positiveOr(r.MaxBackups, 7),
		MaxAge:     positiveOr(r.MaxAgeDays, 30),
		Compress:   r.Compress,
	}, nil
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func closeAll(list []io.Closer) {
	for _, c := range list {
		_ = c.Close()
	}
}

// L returns the application logger, initialising a stderr JSON logger on
// first use.
func L() *slog.Logger {
	mu.RLock()
	l := appLog
	mu.RUnlock()
	if l != nil {
		return l
	}
	_ = Init(Config{})
	mu.RLock()
	defer mu.RUnlock()
	return appLog
}

// Audit returns the audit logger.
func Audit() *slog.Logger {
	mu.RLock()
	l := auditLg
	mu.RUnlock()
	if l == nil {
		return L()
	}
	return l
}

// Named returns a child of the application logger tagged with a component.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Sync closes the files opened by the current configuration. Loggers remain
// usable; lumberjack reopens its file on the next write.
func Sync() error {
	mu.Lock()
	list := files
	files = nil
	mu.Unlock()

	var err error
	for _, c := range list {
		err = errors.Join(err, c.Close())
	}
	return err
}
