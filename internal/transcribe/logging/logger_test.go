package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew_CreatesLogFile(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "logs")

	logger, err := New(Config{LogDir: logDir, Prefix: "test"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer logger.Close()

	expectedPath := PathForDate(logDir, "test", time.Now())
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Errorf("expected log file to exist at %s", expectedPath)
	}
}

func TestNew_DefaultPrefix(t *testing.T) {
	logDir := t.TempDir()

	logger, err := New(Config{LogDir: logDir})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer logger.Close()

	today := time.Now().UTC().Format("2006-01-02")
	expectedPath := filepath.Join(logDir, "transcriber-"+today+".log")
	if logger.LogPath() != expectedPath {
		t.Errorf("got %q, want %q", logger.LogPath(), expectedPath)
	}
}

func TestNew_ConsoleOnly(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Console: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer logger.Close()

	logger.Info("hello", String("k", "v"))

	if logger.LogPath() != "" {
		t.Errorf("expected no log path, got %q", logger.LogPath())
	}
	if !strings.Contains(buf.String(), "INFO  hello k=v") {
		t.Errorf("unexpected console output: %q", buf.String())
	}
}

func TestFileLogger_LevelsAndFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Console: &buf}.WithMinLevel(LevelWarn))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Debug("debug line")
	logger.Info("info line")
	logger.Warn("warn line")
	logger.Error("error line", errors.New("boom"))

	out := buf.String()
	if strings.Contains(out, "debug line") || strings.Contains(out, "info line") {
		t.Errorf("expected debug and info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "WARN  warn line") {
		t.Errorf("expected warn line, got %q", out)
	}
	if !strings.Contains(out, "ERROR error line error=boom") {
		t.Errorf("expected error line, got %q", out)
	}
}

func TestFileLogger_WithComponentSharesFile(t *testing.T) {
	logDir := t.TempDir()

	logger, err := New(Config{LogDir: logDir, Prefix: "test"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.WithComponent("watcher").Info("started", String("root", "/tmp/audio files"))
	logger.Info("root line")
	logger.Close()

	content := readLogFile(t, logDir, "test")
	if !strings.Contains(content, `[watcher] started root="/tmp/audio files"`) {
		t.Errorf("expected component line, got %q", content)
	}
	if !strings.Contains(content, "INFO  root line") {
		t.Errorf("expected root line, got %q", content)
	}
}

func TestFileLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Console: &buf, Component: "pipeline"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	run := logger.With(String("run_id", "abc"))
	run.Info("stage complete", String("stage", "transcribed"))

	want := "[pipeline] stage complete stage=transcribed run_id=abc\n"
	if !strings.HasSuffix(buf.String(), want) {
		t.Errorf("got %q, want suffix %q", buf.String(), want)
	}
}

func TestFileLogger_LogFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Console: &buf, Component: "service"})

	logger.Info("processed",
		Int("count", 3),
		Int64("bytes", 1024),
		Float64("dbfs", -20),
		Bool("ok", true),
		Duration("elapsed", 1500*time.Millisecond),
	)

	line := strings.TrimSpace(buf.String())
	parts := strings.SplitN(line, " ", 2)
	if _, err := time.Parse(time.RFC3339, parts[0]); err != nil {
		t.Errorf("expected RFC3339 timestamp, got %q", parts[0])
	}
	want := "INFO  [service] processed count=3 bytes=1024 dbfs=-20.00 ok=true elapsed=1.5s"
	if parts[1] != want {
		t.Errorf("got %q, want %q", parts[1], want)
	}
}

func TestFileLogger_CleanOldLogs(t *testing.T) {
	logDir := t.TempDir()

	oldDate := time.Now().UTC().AddDate(0, 0, -40).Format("2006-01-02")
	recentDate := time.Now().UTC().AddDate(0, 0, -5).Format("2006-01-02")
	oldFile := filepath.Join(logDir, "test-"+oldDate+".log")
	recentFile := filepath.Join(logDir, "test-"+recentDate+".log")
	otherFile := filepath.Join(logDir, "other-"+oldDate+".log")

	for _, f := range []string{oldFile, recentFile, otherFile} {
		if err := os.WriteFile(f, []byte("log\n"), 0644); err != nil {
			t.Fatalf("failed to create %s: %v", f, err)
		}
	}

	logger, err := New(Config{LogDir: logDir, Prefix: "test", RetentionDays: 30})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Errorf("expected old log file to be removed")
	}
	if _, err := os.Stat(recentFile); err != nil {
		t.Errorf("expected recent log file to be kept")
	}
	if _, err := os.Stat(otherFile); err != nil {
		t.Errorf("expected unrelated log file to be kept")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"Warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConfigForFile(t *testing.T) {
	cfg := ConfigForFile("/var/log/transcriber/app.log")
	if cfg.LogDir != "/var/log/transcriber" {
		t.Errorf("got LogDir %q", cfg.LogDir)
	}
	if cfg.Prefix != "app" {
		t.Errorf("got Prefix %q", cfg.Prefix)
	}

	empty := ConfigForFile("")
	if empty.LogDir != "" {
		t.Errorf("expected file output disabled, got %q", empty.LogDir)
	}
}

func TestFormatValue_QuotesSpaces(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"plain", "plain"},
		{"has space", `"has space"`},
		{"", `""`},
		{42, "42"},
	}
	for _, tt := range tests {
		if got := formatValue(tt.in); got != tt.want {
			t.Errorf("formatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func readLogFile(t *testing.T, logDir, prefix string) string {
	t.Helper()
	data, err := os.ReadFile(PathForDate(logDir, prefix, time.Now()))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	return string(data)
}
