package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/logging"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/transcript"
)

var (
	// ErrModelLoad means the backend could not be made ready at startup.
	ErrModelLoad = errors.New("failed to load transcription model")
	// ErrTranscribeFailed wraps any backend failure on a single file.
	ErrTranscribeFailed = errors.New("transcription failed")
)

// EngineConfig holds the per-call options fixed at startup.
type EngineConfig struct {
	ModelSize  string
	Language   string
	Task       string
	Timestamps bool
}

// Engine turns backend responses into transcript results. It is loaded once
// and read-only afterwards, so it is safe to share.
type Engine struct {
	client TranscriptionClient
	cfg    EngineConfig
	logger logging.Logger
}

// NewEngine probes the backend when it supports probing and returns a ready
// engine. A failed probe is ErrModelLoad.
func NewEngine(ctx context.Context, c TranscriptionClient, cfg EngineConfig, logger logging.Logger) (*Engine, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.Task == "" {
		cfg.Task = transcript.TaskTranscribe
	}
	if cfg.Language == "" {
		cfg.Language = "auto"
	}

	if p, ok := c.(Prober); ok {
		if err := p.Probe(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
		}
	}

	logger.Info("transcription engine ready",
		logging.String("model", cfg.ModelSize),
		logging.String("language", cfg.Language),
		logging.String("task", cfg.Task),
		logging.Bool("timestamps", cfg.Timestamps),
	)
	return &Engine{client: c, cfg: cfg, logger: logger}, nil
}

// ModelSize returns the configured model identifier.
func (e *Engine) ModelSize() string {
	return e.cfg.ModelSize
}

// Transcribe runs the backend on path. Segments are kept only when
// timestamps were requested.
func (e *Engine) Transcribe(ctx context.Context, path string) (*transcript.Result, error) {
	e.logger.Debug("transcribing", logging.String("path", path))

	resp, err := e.client.Transcribe(ctx, path, TranscribeOptions{
		Language: e.cfg.Language,
		Task:     e.cfg.Task,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTranscribeFailed, err)
	}

	lang := resp.Language
	if lang == "" {
		lang = transcript.UnknownLanguage
	}

	result := &transcript.Result{
		AudioFile: path,
		Text:      resp.Text,
		Language:  lang,
		Metadata: transcript.Metadata{
			ModelSize:         e.cfg.ModelSize,
			Task:              e.cfg.Task,
			TimestampIncluded: e.cfg.Timestamps,
		},
	}
	if e.cfg.Timestamps {
		result.Segments = make([]transcript.Segment, 0, len(resp.Segments))
		for _, s := range resp.Segments {
			result.Segments = append(result.Segments, clampSegment(s))
		}
	}
	return result, nil
}

// clampSegment enforces 0 <= start <= end.
func clampSegment(s transcript.Segment) transcript.Segment {
	if s.Start < 0 {
		s.Start = 0
	}
	if s.End < s.Start {
		s.End = s.Start
	}
	return s
}
