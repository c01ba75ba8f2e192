// Package transcribe wires discovery, preprocessing, transcription and
// publishing into the transcriber service.
package transcribe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/logging"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/output"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/transcript"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/watcher"
)

// DefaultConfigPath is where start, status and cleanup look for settings.
const DefaultConfigPath = "config/settings.yaml"

// Transcription backends.
const (
	BackendWhisperASR = "whisper-asr"
	BackendWhisperCPP = "whisper-cpp"
)

// requiredSections must be present in every config file.
var requiredSections = []string{"icloud", "audio", "transcription"}

// Config is the YAML settings file.
type Config struct {
	ICloud        ICloudConfig        `yaml:"icloud"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Output        OutputConfig        `yaml:"output"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ICloudConfig locates the synced folder tree.
type ICloudConfig struct {
	BasePath       string `yaml:"base_path"`
	AudioSource    string `yaml:"audio_source"`
	TranscriptDest string `yaml:"transcript_dest"`
}

type AudioConfig struct {
	MaxFileSizeMB    int                 `yaml:"max_file_size_mb"`
	Preprocessing    PreprocessingConfig `yaml:"preprocessing"`
	SupportedFormats []string            `yaml:"supported_formats"`
	FFmpegPath       string              `yaml:"ffmpeg_path"`
	TempDir          string              `yaml:"temp_dir"`
}

type PreprocessingConfig struct {
	TargetSampleRate int     `yaml:"target_sample_rate"`
	ConvertToMono    bool    `yaml:"convert_to_mono"`
	Normalize        bool    `yaml:"normalize"`
	TargetDBFS       float64 `yaml:"target_dbfs"`
}

type TranscriptionConfig struct {
	Backend           string `yaml:"backend"`
	APIURL            string `yaml:"api_url"`
	BinaryPath        string `yaml:"binary_path"`
	ModelPath         string `yaml:"model_path"`
	ModelSize         string `yaml:"model_size"`
	Language          string `yaml:"language"`
	IncludeTimestamps bool   `yaml:"include_timestamps"`
	OutputFormat      string `yaml:"output_format"`
	Task              string `yaml:"task"`
	RetryCount        int    `yaml:"retry_count"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
}

type MonitoringConfig struct {
	SkipExisting                bool   `yaml:"skip_existing"`
	Backend                     string `yaml:"backend"`
	SettleDelaySeconds          int    `yaml:"settle_delay_seconds"`
	StabilizationChecks         int    `yaml:"stabilization_checks"`
	StabilizationTimeoutSeconds int    `yaml:"stabilization_timeout_seconds"`
	SyncTimeoutSeconds          int    `yaml:"sync_timeout_seconds"`
	PIDFile                     string `yaml:"pid_file"`
}

type OutputConfig struct {
	StagingDir string `yaml:"staging_dir"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	File          string `yaml:"file"`
	RetentionDays int    `yaml:"retention_days"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	return &Config{
		ICloud: ICloudConfig{
			AudioSource:    "Audio Files",
			TranscriptDest: "Transcripts",
		},
		Audio: AudioConfig{
			MaxFileSizeMB: 500,
			Preprocessing: PreprocessingConfig{
				TargetSampleRate: 16000,
				ConvertToMono:    true,
				Normalize:        true,
				TargetDBFS:       -20,
			},
			SupportedFormats: append([]string(nil), watcher.DefaultFormats...),
			FFmpegPath:       "ffmpeg",
		},
		Transcription: TranscriptionConfig{
			Backend:        BackendWhisperASR,
			APIURL:         "http://localhost:9000",
			BinaryPath:     "whisper-cli",
			ModelSize:      "base",
			Language:       "auto",
			OutputFormat:   string(output.FormatText),
			Task:           transcript.TaskTranscribe,
			RetryCount:     3,
			TimeoutSeconds: 300,
		},
		Monitoring: MonitoringConfig{
			SkipExisting:                true,
			SettleDelaySeconds:          2,
			StabilizationTimeoutSeconds: 60,
			PIDFile:                     "~/.audio-transcriber/transcriber.pid",
		},
		Output: OutputConfig{
			StagingDir: filepath.Join(os.TempDir(), "audio-transcriber"),
		},
		Logging: LoggingConfig{
			Level:         "INFO",
			File:          "~/.audio-transcriber/logs/transcriber.log",
			RetentionDays: 30,
		},
	}
}

// Load reads and validates the YAML config at path.
// Paths containing ~ are expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrConfig, path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse: %w", ErrConfig, err)
	}
	for _, section := range requiredSections {
		if _, ok := raw[section]; !ok {
			return nil, fmt.Errorf("%w: missing required section %q", ErrConfig, section)
		}
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse: %w", ErrConfig, err)
	}
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML, creating the parent directory.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks required values and enumerations.
func (c *Config) Validate() error {
	if c.ICloud.BasePath == "" {
		return fmt.Errorf("%w: icloud.base_path is required", ErrConfig)
	}
	if c.Audio.MaxFileSizeMB <= 0 {
		return fmt.Errorf("%w: audio.max_file_size_mb must be positive", ErrConfig)
	}
	if c.Audio.Preprocessing.TargetSampleRate <= 0 {
		return fmt.Errorf("%w: audio.preprocessing.target_sample_rate must be positive", ErrConfig)
	}
	if len(c.Audio.SupportedFormats) == 0 {
		return fmt.Errorf("%w: audio.supported_formats is empty", ErrConfig)
	}

	switch c.Transcription.Backend {
	case BackendWhisperASR:
		if c.Transcription.APIURL == "" {
			return fmt.Errorf("%w: transcription.api_url is required for %s", ErrConfig, BackendWhisperASR)
		}
	case BackendWhisperCPP:
	default:
		return fmt.Errorf("%w: unknown transcription.backend %q", ErrConfig, c.Transcription.Backend)
	}
	switch c.Transcription.Task {
	case transcript.TaskTranscribe, transcript.TaskTranslate:
	default:
		return fmt.Errorf("%w: unknown transcription.task %q", ErrConfig, c.Transcription.Task)
	}
	if _, err := output.ParseFormat(c.Transcription.OutputFormat); err != nil {
		return fmt.Errorf("%w: transcription.output_format: %w", ErrConfig, err)
	}
	if c.Transcription.RetryCount < 0 {
		return fmt.Errorf("%w: transcription.retry_count must not be negative", ErrConfig)
	}

	switch c.Monitoring.Backend {
	case watcher.BackendAuto, "auto", watcher.BackendInotify, watcher.BackendFsnotify:
	default:
		return fmt.Errorf("%w: unknown monitoring.backend %q", ErrConfig, c.Monitoring.Backend)
	}
	if c.Monitoring.SettleDelaySeconds < 0 || c.Monitoring.StabilizationChecks < 0 {
		return fmt.Errorf("%w: monitoring delays must not be negative", ErrConfig)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level: %w", ErrConfig, err)
	}
	return nil
}

// SourceDir is the watched audio folder.
func (c *Config) SourceDir() string {
	return filepath.Join(c.ICloud.BasePath, c.ICloud.AudioSource)
}

// DestDir is the transcript folder.
func (c *Config) DestDir() string {
	return filepath.Join(c.ICloud.BasePath, c.ICloud.TranscriptDest)
}

// Format returns the validated output format.
func (c *Config) Format() output.Format {
	f, _ := output.ParseFormat(c.Transcription.OutputFormat)
	return f
}

// WantTimestamps reports whether segments are requested. SRT output always
// needs them.
func (c *Config) WantTimestamps() bool {
	return c.Transcription.IncludeTimestamps || c.Format().NeedsTimestamps()
}

// WatchBackend returns the watcher backend name with "auto" mapped to the
// platform default.
func (c *Config) WatchBackend() string {
	if c.Monitoring.Backend == "auto" {
		return watcher.BackendAuto
	}
	return c.Monitoring.Backend
}

// ModelPath returns the whisper.cpp model file, defaulting to
// ~/.local/share/audio-transcriber/models/ggml-<model_size>.bin.
func (c *Config) ModelPath() string {
	if c.Transcription.ModelPath != "" {
		return c.Transcription.ModelPath
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "audio-transcriber", "models",
		fmt.Sprintf("ggml-%s.bin", c.Transcription.ModelSize))
}

func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Monitoring.SettleDelaySeconds) * time.Second
}

func (c *Config) SyncTimeout() time.Duration {
	return time.Duration(c.Monitoring.SyncTimeoutSeconds) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Transcription.TimeoutSeconds) * time.Second
}

// expandPaths expands ~ in every path field.
func (c *Config) expandPaths() {
	c.ICloud.BasePath = expandTilde(c.ICloud.BasePath)
	c.Audio.FFmpegPath = expandTilde(c.Audio.FFmpegPath)
	c.Audio.TempDir = expandTilde(c.Audio.TempDir)
	c.Transcription.BinaryPath = expandTilde(c.Transcription.BinaryPath)
	c.Transcription.ModelPath = expandTilde(c.Transcription.ModelPath)
	c.Monitoring.PIDFile = expandTilde(c.Monitoring.PIDFile)
	c.Output.StagingDir = expandTilde(c.Output.StagingDir)
	c.Logging.File = expandTilde(c.Logging.File)
}

// expandTilde expands ~ at the beginning of a path to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
