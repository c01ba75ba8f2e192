package transcribe

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/output"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/watcher"
)

const minimalYAML = `
icloud:
  base_path: /data/icloud
audio: {}
transcription: {}
`

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.SourceDir() != filepath.Join("/data/icloud", "Audio Files") {
		t.Errorf("unexpected source dir %s", cfg.SourceDir())
	}
	if cfg.DestDir() != filepath.Join("/data/icloud", "Transcripts") {
		t.Errorf("unexpected dest dir %s", cfg.DestDir())
	}
	if cfg.Format() != output.FormatText {
		t.Errorf("expected txt format, got %s", cfg.Format())
	}
	if cfg.Transcription.Backend != BackendWhisperASR || cfg.Transcription.RetryCount != 3 {
		t.Errorf("unexpected transcription defaults %+v", cfg.Transcription)
	}
	if cfg.Audio.MaxFileSizeMB != 500 || cfg.Audio.Preprocessing.TargetSampleRate != 16000 {
		t.Errorf("unexpected audio defaults %+v", cfg.Audio)
	}
	if !cfg.Monitoring.SkipExisting {
		t.Error("expected skip_existing to default to true")
	}
	if cfg.SettleDelay() != 2*time.Second {
		t.Errorf("expected 2s settle delay, got %s", cfg.SettleDelay())
	}
	if cfg.RequestTimeout() != 300*time.Second {
		t.Errorf("expected 300s request timeout, got %s", cfg.RequestTimeout())
	}
	if len(cfg.Audio.SupportedFormats) != len(watcher.DefaultFormats) {
		t.Errorf("expected default formats, got %v", cfg.Audio.SupportedFormats)
	}
}

func TestParse_Overrides(t *testing.T) {
	data := `
icloud:
  base_path: /data/icloud
  audio_source: Voice
  transcript_dest: Text
audio:
  max_file_size_mb: 50
  supported_formats: [".m4a"]
  preprocessing:
    normalize: false
transcription:
  backend: whisper-cpp
  model_size: small
  language: de
  task: translate
  output_format: json
  include_timestamps: true
monitoring:
  skip_existing: false
  backend: fsnotify
  settle_delay_seconds: 5
logging:
  level: debug
`
	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.SourceDir() != filepath.Join("/data/icloud", "Voice") {
		t.Errorf("unexpected source dir %s", cfg.SourceDir())
	}
	if cfg.Audio.MaxFileSizeMB != 50 || cfg.Audio.Preprocessing.Normalize {
		t.Errorf("unexpected audio config %+v", cfg.Audio)
	}
	// keys left out of a section keep their defaults
	if cfg.Audio.Preprocessing.TargetSampleRate != 16000 || !cfg.Audio.Preprocessing.ConvertToMono {
		t.Errorf("expected preprocessing defaults to survive, got %+v", cfg.Audio.Preprocessing)
	}
	if cfg.Transcription.Backend != BackendWhisperCPP || cfg.Transcription.Task != "translate" {
		t.Errorf("unexpected transcription config %+v", cfg.Transcription)
	}
	if cfg.Format() != output.FormatJSON || !cfg.WantTimestamps() {
		t.Errorf("expected json with timestamps, got %s %v", cfg.Format(), cfg.WantTimestamps())
	}
	if cfg.WatchBackend() != watcher.BackendFsnotify {
		t.Errorf("expected fsnotify backend, got %q", cfg.WatchBackend())
	}
	if cfg.Monitoring.SkipExisting {
		t.Error("expected skip_existing false")
	}
	if !strings.HasSuffix(cfg.ModelPath(), "ggml-small.bin") {
		t.Errorf("unexpected model path %s", cfg.ModelPath())
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing icloud", "audio: {}\ntranscription: {}\n"},
		{"missing audio", "icloud: {base_path: /x}\ntranscription: {}\n"},
		{"missing transcription", "icloud: {base_path: /x}\naudio: {}\n"},
		{"missing base path", "icloud: {}\naudio: {}\ntranscription: {}\n"},
		{"bad backend", strings.Replace(minimalYAML, "transcription: {}", "transcription: {backend: openai}", 1)},
		{"bad format", strings.Replace(minimalYAML, "transcription: {}", "transcription: {output_format: docx}", 1)},
		{"bad task", strings.Replace(minimalYAML, "transcription: {}", "transcription: {task: summarize}", 1)},
		{"bad watch backend", minimalYAML + "monitoring: {backend: kqueue}\n"},
		{"bad level", minimalYAML + "logging: {level: loud}\n"},
		{"negative retries", strings.Replace(minimalYAML, "transcription: {}", "transcription: {retry_count: -1}", 1)},
		{"zero size limit", strings.Replace(minimalYAML, "audio: {}", "audio: {max_file_size_mb: 0}", 1)},
		{"not yaml", "icloud: [unclosed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); !errors.Is(err, ErrConfig) {
				t.Errorf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestParse_ExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	data := `
icloud:
  base_path: ~/icloud
audio:
  temp_dir: ~/tmp
transcription:
  model_path: ~/models/ggml-base.bin
`
	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	checks := map[string]string{
		"base_path":  cfg.ICloud.BasePath,
		"temp_dir":   cfg.Audio.TempDir,
		"model_path": cfg.ModelPath(),
		"pid_file":   cfg.Monitoring.PIDFile,
		"log file":   cfg.Logging.File,
	}
	for name, got := range checks {
		if !strings.HasPrefix(got, home) {
			t.Errorf("%s: expected path under %s, got %s", name, home, got)
		}
	}
}

func TestExpandTilde(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"~", home},
		{"~/a/b", filepath.Join(home, "a/b")},
		{"/abs/path", "/abs/path"},
		{"rel/~/path", "rel/~/path"},
		{"~user/x", "~user/x"},
	}
	for _, tt := range tests {
		if got := expandTilde(tt.input); got != tt.want {
			t.Errorf("expandTilde(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestWantTimestamps(t *testing.T) {
	tests := []struct {
		format     string
		timestamps bool
		want       bool
	}{
		{"txt", false, false},
		{"txt", true, true},
		{"json", false, false},
		{"srt", false, true},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.Transcription.OutputFormat = tt.format
		cfg.Transcription.IncludeTimestamps = tt.timestamps
		if got := cfg.WantTimestamps(); got != tt.want {
			t.Errorf("%s/%v: expected %v, got %v", tt.format, tt.timestamps, tt.want, got)
		}
	}
}

func TestWatchBackend_AutoMapsToDefault(t *testing.T) {
	cfg := Default()
	cfg.Monitoring.Backend = "auto"
	if cfg.WatchBackend() != watcher.BackendAuto {
		t.Errorf("expected platform default, got %q", cfg.WatchBackend())
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "settings.yaml")

	cfg := Default()
	cfg.ICloud.BasePath = "/data/icloud"
	cfg.Transcription.OutputFormat = "srt"
	cfg.Monitoring.StabilizationChecks = 3

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.ICloud.BasePath != "/data/icloud" {
		t.Errorf("unexpected base path %s", loaded.ICloud.BasePath)
	}
	if loaded.Format() != output.FormatSRT {
		t.Errorf("expected srt, got %s", loaded.Format())
	}
	if loaded.Monitoring.StabilizationChecks != 3 {
		t.Errorf("expected 3 stabilization checks, got %d", loaded.Monitoring.StabilizationChecks)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected the not-exist cause to be kept, got %v", err)
	}
}
