package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/executor"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/transcript"
)

// DefaultWhisperBinary is the whisper.cpp CLI name looked up on PATH.
const DefaultWhisperBinary = "whisper-cli"

// WhisperCPPClient runs the whisper.cpp CLI against a local ggml model and
// reads its JSON output.
type WhisperCPPClient struct {
	binary    string
	modelPath string
	exec      executor.Executor
	tempDir   string
}

// WhisperCPPOption configures the WhisperCPPClient.
type WhisperCPPOption func(*WhisperCPPClient)

// WithExecutor replaces the command runner.
func WithExecutor(e executor.Executor) WhisperCPPOption {
	return func(c *WhisperCPPClient) {
		c.exec = e
	}
}

// WithTempDir sets where the CLI writes its JSON output.
func WithTempDir(dir string) WhisperCPPOption {
	return func(c *WhisperCPPClient) {
		c.tempDir = dir
	}
}

// NewWhisperCPPClient creates a client for the given binary and model file.
func NewWhisperCPPClient(binary, modelPath string, opts ...WhisperCPPOption) *WhisperCPPClient {
	if binary == "" {
		binary = DefaultWhisperBinary
	}
	c := &WhisperCPPClient{
		binary:    binary,
		modelPath: modelPath,
		exec:      executor.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Probe checks that the binary resolves and the model file exists.
func (c *WhisperCPPClient) Probe(ctx context.Context) error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return fmt.Errorf("whisper binary %s: %w", c.binary, err)
	}
	info, err := os.Stat(c.modelPath)
	if err != nil {
		return fmt.Errorf("model file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("model file %s is a directory", c.modelPath)
	}
	return nil
}

// Transcribe runs the CLI on audioPath. The input should already be 16 kHz WAV.
func (c *WhisperCPPClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOptions) (*TranscriptionResult, error) {
	outDir, err := os.MkdirTemp(c.tempDir, "whisper-cpp-*")
	if err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	outBase := filepath.Join(outDir, "result")
	args := buildWhisperCPPArgs(c.modelPath, audioPath, outBase, opts)

	if _, err := c.exec.Execute(ctx, c.binary, args...); err != nil {
		return nil, fmt.Errorf("whisper transcribe: %w", err)
	}

	data, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return nil, fmt.Errorf("whisper output missing: %w", err)
	}
	return parseWhisperCPPOutput(data)
}

// buildWhisperCPPArgs builds the CLI arguments.
// -oj writes <outBase>.json; -np suppresses progress prints.
func buildWhisperCPPArgs(model, input, outBase string, opts TranscribeOptions) []string {
	lang := opts.Language
	if lang == "" {
		lang = "auto"
	}
	args := []string{
		"-m", model,
		"-f", input,
		"-l", lang,
		"-oj",
		"-of", outBase,
		"-np",
	}
	if opts.Task == transcript.TaskTranslate {
		args = append(args, "-tr")
	}
	return args
}

type whisperCPPOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func parseWhisperCPPOutput(data []byte) (*TranscriptionResult, error) {
	var out whisperCPPOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse whisper output: %w", err)
	}

	result := &TranscriptionResult{Language: out.Result.Language}
	var text strings.Builder
	for _, seg := range out.Transcription {
		text.WriteString(seg.Text)
		result.Segments = append(result.Segments, transcript.Segment{
			Start: float64(seg.Offsets.From) / 1000,
			End:   float64(seg.Offsets.To) / 1000,
			Text:  seg.Text,
		})
	}
	result.Text = strings.TrimSpace(text.String())
	return result, nil
}
