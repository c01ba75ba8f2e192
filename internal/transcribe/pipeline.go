package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/audio"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/logging"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/output"
)

// PipelineConfig holds the settings the pipeline needs per file.
type PipelineConfig struct {
	Format      output.Format
	StagingDir  string
	SyncTimeout time.Duration
}

// Outcome describes one pipeline run.
type Outcome struct {
	RunID   string
	Source  string
	Stage   Stage
	Output  string
	Elapsed time.Duration
}

// Counters aggregate outcomes across runs.
type Counters struct {
	Processed int
	Succeeded int
	Failed    int
	ByStage   map[Stage]int
}

// Pipeline drives one audio file at a time through preprocessing,
// transcription, local write and publish.
type Pipeline struct {
	pre    Preprocessor
	engine Transcriber
	writer TranscriptWriter
	store  Publisher
	cfg    PipelineConfig
	logger logging.Logger

	mu       sync.Mutex
	counters Counters
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the logger.
func WithPipelineLogger(l logging.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// NewPipeline creates a Pipeline from its stages.
func NewPipeline(pre Preprocessor, engine Transcriber, writer TranscriptWriter, store Publisher, cfg PipelineConfig, opts ...PipelineOption) *Pipeline {
	if cfg.StagingDir == "" {
		cfg.StagingDir = filepath.Join(os.TempDir(), "audio-transcriber")
	}
	p := &Pipeline{
		pre:      pre,
		engine:   engine,
		writer:   writer,
		store:    store,
		cfg:      cfg,
		logger:   logging.Discard(),
		counters: Counters{ByStage: map[Stage]int{}},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle processes path and reports only the error. It matches watcher.Handler.
func (p *Pipeline) Handle(ctx context.Context, path string) error {
	_, err := p.Process(ctx, path)
	return err
}

// Process runs path through every stage. On failure the returned error is a
// *StageError naming the stage that could not be reached. The normalized
// audio is always released; the local transcript is removed only after a
// successful publish.
func (p *Pipeline) Process(ctx context.Context, path string) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{RunID: uuid.NewString(), Source: path, Stage: StageDiscovered}
	log := p.logger.With(logging.String("run_id", out.RunID))

	log.Info("starting processing pipeline", logging.String("path", path))

	err := p.run(ctx, log, out)
	out.Elapsed = time.Since(start)
	p.record(err)

	if err != nil {
		stage, _ := FailedStage(err)
		log.Error("file processing failed", errors.Unwrap(err),
			logging.String("path", path),
			logging.String("stage", string(stage)),
			logging.Duration("elapsed", out.Elapsed),
		)
		return out, err
	}

	log.Info("file processing complete",
		logging.String("path", path),
		logging.String("output", out.Output),
		logging.Duration("elapsed", out.Elapsed),
	)
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, log logging.Logger, out *Outcome) error {
	path := out.Source
	fail := func(stage Stage, err error) error {
		return &StageError{Stage: stage, Path: path, Err: err}
	}

	src, err := audio.Inspect(path)
	if err != nil {
		return fail(StagePreprocessed, err)
	}
	norm, err := p.pre.Prepare(ctx, src)
	if err != nil {
		return fail(StagePreprocessed, err)
	}
	defer func() {
		if err := norm.Release(); err != nil {
			log.Warn("could not remove temporary audio", logging.String("path", norm.Path), logging.String("error", err.Error()))
		}
	}()
	out.Stage = StagePreprocessed

	result, err := p.engine.Transcribe(ctx, norm.Path)
	if err != nil {
		return fail(StageTranscribed, err)
	}
	named := *result
	named.AudioFile = path
	out.Stage = StageTranscribed

	local := filepath.Join(p.cfg.StagingDir, p.store.TranscriptRelPath(path))
	if err := p.writer.Write(ctx, &named, local, p.cfg.Format); err != nil {
		return fail(StageLocallyWritten, err)
	}
	out.Stage = StageLocallyWritten

	dest, err := p.store.Publish(ctx, local, path)
	if err != nil {
		log.Warn("local transcript kept", logging.String("path", local))
		return fail(StagePublished, err)
	}
	out.Stage = StagePublished
	out.Output = dest

	if err := os.Remove(local); err != nil {
		log.Warn("could not clean up local transcript", logging.String("path", local), logging.String("error", err.Error()))
	}

	if p.cfg.SyncTimeout > 0 {
		if err := p.store.WaitForSync(ctx, dest, p.cfg.SyncTimeout); err != nil {
			log.Warn("transcript not yet readable in synced folder",
				logging.String("path", dest),
				logging.Duration("timeout", p.cfg.SyncTimeout),
			)
		}
	}

	stats := named.Stats()
	log.Info("transcription completed",
		logging.Int("words", stats.Words),
		logging.Int("characters", stats.Characters),
		logging.Int("segments", stats.Segments),
		logging.Float64("duration_s", stats.Duration),
		logging.String("language", named.Language),
		logging.String("model", p.engine.ModelSize()),
	)

	out.Stage = StageDone
	return nil
}

func (p *Pipeline) record(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters.Processed++
	if err == nil {
		p.counters.Succeeded++
		return
	}
	p.counters.Failed++
	if stage, ok := FailedStage(err); ok {
		p.counters.ByStage[stage]++
	}
}

// Counters returns a snapshot of the run counters.
func (p *Pipeline) Counters() Counters {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.counters
	c.ByStage = make(map[Stage]int, len(p.counters.ByStage))
	for k, v := range p.counters.ByStage {
		c.ByStage[k] = v
	}
	return c
}
