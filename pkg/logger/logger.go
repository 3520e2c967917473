// Package logger 提供基于 log/slog 的全局结构化日志，以及独立的审计日志。
package logger

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 描述应用日志的行为。
type Config struct {
	Level       string      `json:"level" yaml:"level"`
	Format      string      `json:"format" yaml:"format"`
	OutputPaths []string    `json:"output_paths" yaml:"output_paths"`
	Rotation    Rotation    `json:"rotation" yaml:"rotation"`
	Audit       AuditConfig `json:"audit" yaml:"audit"`
}

// Rotation 控制文件输出的切割策略。
type Rotation struct {
	MaxSizeMB  int  `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool `json:"compress" yaml:"compress"`
}

// AuditConfig 控制审计日志输出。
type AuditConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Path     string   `json:"path" yaml:"path"`
	Rotation Rotation `json:"rotation" yaml:"rotation"`
}

var (
	mu            sync.Mutex
	defaultLogger *slog.Logger
	auditLogger   *slog.Logger
	closers       []io.Closer
)

// Init 配置全局日志实例，可重复调用，后一次配置覆盖前一次。
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	handler, handlerClosers, err := buildHandler(cfg.Format, cfg.OutputPaths, cfg.Rotation, opts)
	if err != nil {
		return err
	}

	audit := slog.New(handler)
	var auditClosers []io.Closer
	if cfg.Audit.Enabled {
		if strings.TrimSpace(cfg.Audit.Path) == "" {
			closeAll(handlerClosers)
			return errors.New("audit log path cannot be empty when enabled")
		}
		writer := newRotatingWriter(cfg.Audit.Path, cfg.Audit.Rotation)
		auditClosers = append(auditClosers, writer)
		audit = slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	closeAll(closers)
	closers = append(handlerClosers, auditClosers...)
	defaultLogger = slog.New(handler)
	auditLogger = audit
	return nil
}

func buildHandler(format string, outputs []string, rotation Rotation, opts *slog.HandlerOptions) (slog.Handler, []io.Closer, error) {
	var (
		writers     []io.Writer
		fileWriters []io.Closer
	)
	if len(outputs) == 0 {
		writers = append(writers, os.Stderr)
	}
	for _, out := range outputs {
		switch strings.ToLower(strings.TrimSpace(out)) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr", "":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				closeAll(fileWriters)
				return nil, nil, err
			}
			writer := newRotatingWriter(out, rotation)
			fileWriters = append(fileWriters, writer)
			writers = append(writers, writer)
		}
	}

	writer := writers[0]
	if len(writers) > 1 {
		writer = io.MultiWriter(writers...)
	}

	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(writer, opts), fileWriters, nil
	}
	return slog.NewTextHandler(writer, opts), fileWriters, nil
}

func newRotatingWriter(path string, rotation Rotation) *lumberjack.Logger {
	if rotation.MaxSizeMB <= 0 {
		rotation.MaxSizeMB = 100
	}
	if rotation.MaxBackups <= 0 {
		rotation.MaxBackups = 7
	}
	if rotation.MaxAgeDays <= 0 {
		rotation.MaxAgeDays = 30
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
		Compress:   rotation.Compress,
	}
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

// L 返回全局结构化日志实例，未初始化时使用默认配置。
func L() *slog.Logger {
	mu.Lock()
	l := defaultLogger
	mu.Unlock()
	if l != nil {
		return l
	}
	_ = Init(Config{})
	mu.Lock()
	defer mu.Unlock()
	return defaultLogger
}

// Audit 返回审计日志实例。
func Audit() *slog.Logger {
	mu.Lock()
	l := auditLogger
	mu.Unlock()
	if l == nil {
		return L()
	}
	return l
}

// Named 返回带组件名的子日志。
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Sync 关闭所有文件输出。
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	err := closeAll(closers)
	closers = nil
	return err
}

func closeAll(list []io.Closer) error {
	var err error
	for _, c := range list {
		err = errors.Join(err, c.Close())
	}
	return err
}
