// Package logging provides structured key=value logging with daily file rotation.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents a log severity level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name such as "info" or "WARNING" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR", "CRITICAL":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates an int64 field
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Float64 creates a float64 field
func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Logger handles structured logging
type Logger interface {
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	Debug(msg string, fields ...Field)
	// With returns a logger that appends fields to every line.
	With(fields ...Field) Logger
	Close() error
}

// Config configures the logger
type Config struct {
	// LogDir is the directory for daily log files. Empty disables file output.
	LogDir string
	// Prefix is the log file prefix (e.g., "transcriber" produces transcriber-YYYY-MM-DD.log)
	Prefix string
	// RetentionDays is the number of days to retain old log files (default: 30)
	RetentionDays int
	// Component is the component name shown in brackets (e.g., "[watcher]")
	Component string
	// MinLevel is the minimum log level to write (default: LevelInfo)
	MinLevel Level
	// Console receives a copy of every line when non-nil.
	Console io.Writer
	// minLevelSet tracks whether MinLevel was explicitly configured
	minLevelSet bool
}

// WithMinLevel returns a copy of Config with the specified minimum log level
func (c Config) WithMinLevel(level Level) Config {
	c.MinLevel = level
	c.minLevelSet = true
	return c
}

// DefaultPrefix is the file prefix used when none is configured.
const DefaultPrefix = "transcriber"

// DefaultConfig returns a Config that logs to stderr and ~/.audio-transcriber/logs
func DefaultConfig() Config {
	homeDir, _ := os.UserHomeDir()
	return Config{
		LogDir:        filepath.Join(homeDir, ".audio-transcriber", "logs"),
		Prefix:        DefaultPrefix,
		RetentionDays: 30,
		MinLevel:      LevelInfo,
		Console:       os.Stderr,
	}
}

// ConfigForFile derives LogDir and Prefix from a log file path such as
// "~/logs/transcriber.log". An empty path disables file output.
func ConfigForFile(path string) Config {
	cfg := Config{Prefix: DefaultPrefix, RetentionDays: 30, MinLevel: LevelInfo, Console: os.Stderr}
	if path == "" {
		return cfg
	}
	cfg.LogDir = filepath.Dir(path)
	base := filepath.Base(path)
	if prefix := strings.TrimSuffix(base, filepath.Ext(base)); prefix != "" {
		cfg.Prefix = prefix
	}
	return cfg
}

// PathForDate returns the daily log file path for the given day.
func PathForDate(dir, prefix string, day time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.log", prefix, day.UTC().Format("2006-01-02")))
}

// sink is shared by a logger and every component logger derived from it.
type sink struct {
	mu          sync.Mutex
	dir         string
	prefix      string
	console     io.Writer
	file        *os.File
	currentDate string
}

// FileLogger implements Logger with optional daily file rotation and console output
type FileLogger struct {
	config Config
	out    *sink
}

var _ Logger = (*FileLogger)(nil)

// New creates a new FileLogger with the given configuration
func New(config Config) (*FileLogger, error) {
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = 30
	}
	if !config.minLevelSet {
		config.MinLevel = LevelInfo
	}

	logger := &FileLogger{
		config: config,
		out: &sink{
			dir:     config.LogDir,
			prefix:  config.Prefix,
			console: config.Console,
		},
	}

	if config.LogDir == "" {
		return logger, nil
	}

	if err := os.MkdirAll(config.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if err := logger.out.rotateIfNeeded(); err != nil {
		return nil, err
	}

	if err := logger.cleanOldLogs(); err != nil {
		logger.log(LevelError, "failed to clean old logs", err)
	}

	return logger, nil
}

// Info logs an informational message
func (l *FileLogger) Info(msg string, fields ...Field) {
	l.log(LevelInfo, msg, nil, fields...)
}

// Warn logs a warning
func (l *FileLogger) Warn(msg string, fields ...Field) {
	l.log(LevelWarn, msg, nil, fields...)
}

// Error logs an error message
func (l *FileLogger) Error(msg string, err error, fields ...Field) {
	l.log(LevelError, msg, err, fields...)
}

// Debug logs a debug message
func (l *FileLogger) Debug(msg string, fields ...Field) {
	l.log(LevelDebug, msg, nil, fields...)
}

// Close closes the underlying file. Component loggers share it.
func (l *FileLogger) Close() error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	if l.out.file != nil {
		err := l.out.file.Close()
		l.out.file = nil
		return err
	}
	return nil
}

// WithComponent returns a logger writing to the same outputs under another component name
func (l *FileLogger) WithComponent(component string) *FileLogger {
	newConfig := l.config
	newConfig.Component = component
	return &FileLogger{
		config: newConfig,
		out:    l.out,
	}
}

// With returns a logger that appends the given fields to every line.
func (l *FileLogger) With(fields ...Field) Logger {
	return &boundLogger{base: l, fields: fields}
}

func (l *FileLogger) log(level Level, msg string, err error, fields ...Field) {
	if level < l.config.MinLevel {
		return
	}

	line := l.format(level, msg, err, fields...)

	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	if l.out.console != nil {
		io.WriteString(l.out.console, line)
	}

	if l.out.dir == "" {
		return
	}

	if rotateErr := l.out.rotateIfNeeded(); rotateErr != nil {
		fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", rotateErr)
		return
	}

	l.out.file.WriteString(line)
}

func (l *FileLogger) format(level Level, msg string, err error, fields ...Field) string {
	timestamp := time.Now().UTC().Format(time.RFC3339)

	var sb strings.Builder
	sb.WriteString(timestamp)
	sb.WriteString(" ")
	sb.WriteString(fmt.Sprintf("%-5s", level.String()))
	sb.WriteString(" ")

	if l.config.Component != "" {
		sb.WriteString("[")
		sb.WriteString(l.config.Component)
		sb.WriteString("] ")
	}

	sb.WriteString(msg)

	if err != nil {
		sb.WriteString(" error=")
		sb.WriteString(formatValue(err.Error()))
	}

	for _, f := range fields {
		sb.WriteString(" ")
		sb.WriteString(f.Key)
		sb.WriteString("=")
		sb.WriteString(formatValue(f.Value))
	}

	sb.WriteString("\n")
	return sb.String()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if val == "" || strings.ContainsAny(val, " \t\n\"") {
			return fmt.Sprintf("%q", val)
		}
		return val
	case time.Duration:
		return val.String()
	case float64:
		return fmt.Sprintf("%.2f", val)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (s *sink) rotateIfNeeded() error {
	today := time.Now().UTC().Format("2006-01-02")

	if s.currentDate == today && s.file != nil {
		return nil
	}

	if s.file != nil {
		s.file.Close()
		s.file = nil
	}

	path := PathForDate(s.dir, s.prefix, time.Now())

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	s.file = file
	s.currentDate = today

	return nil
}

func (l *FileLogger) cleanOldLogs() error {
	entries, err := os.ReadDir(l.config.LogDir)
	if err != nil {
		return fmt.Errorf("failed to read log directory: %w", err)
	}

	prefix := l.config.Prefix + "-"
	cutoff := time.Now().UTC().AddDate(0, 0, -l.config.RetentionDays)

	var toDelete []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".log") {
			continue
		}

		// prefix-YYYY-MM-DD.log
		dateStr := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".log")

		logDate, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}

		if logDate.Before(cutoff) {
			toDelete = append(toDelete, filepath.Join(l.config.LogDir, name))
		}
	}

	sort.Strings(toDelete)

	for _, path := range toDelete {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove old log file %s: %w", path, err)
		}
	}

	return nil
}

// LogPath returns the path to the current log file, or "" when file output is disabled
func (l *FileLogger) LogPath() string {
	if l.config.LogDir == "" {
		return ""
	}
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	if l.out.file != nil {
		return l.out.file.Name()
	}
	return PathForDate(l.config.LogDir, l.config.Prefix, time.Now())
}

type boundLogger struct {
	base   *FileLogger
	fields []Field
}

func (b *boundLogger) merge(fields []Field) []Field {
	out := make([]Field, 0, len(b.fields)+len(fields))
	out = append(out, fields...)
	return append(out, b.fields...)
}

func (b *boundLogger) Info(msg string, fields ...Field)  { b.base.Info(msg, b.merge(fields)...) }
func (b *boundLogger) Warn(msg string, fields ...Field)  { b.base.Warn(msg, b.merge(fields)...) }
func (b *boundLogger) Debug(msg string, fields ...Field) { b.base.Debug(msg, b.merge(fields)...) }
func (b *boundLogger) Error(msg string, err error, fields ...Field) {
	b.base.Error(msg, err, b.merge(fields)...)
}
func (b *boundLogger) With(fields ...Field) Logger {
	return &boundLogger{base: b.base, fields: append(append([]Field(nil), fields...), b.fields...)}
}
func (b *boundLogger) Close() error { return nil }

// Discard returns a Logger that drops everything.
func Discard() Logger { return discard{} }

type discard struct{}

func (discard) Info(string, ...Field)         {}
func (discard) Warn(string, ...Field)         {}
func (discard) Error(string, error, ...Field) {}
func (discard) Debug(string, ...Field)        {}
func (discard) With(...Field) Logger          { return discard{} }
func (discard) Close() error                  { return nil }
