package transcribe

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/audio"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/client"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/logging"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/output"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/pidfile"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/stabilizer"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/status"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/syncstore"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/watcher"
)

// stabilizationInterval is the size poll period when stabilization checks are on.
const stabilizationInterval = time.Second

// Service owns the configured components and runs sweeps and watch sessions.
type Service struct {
	config  *Config
	logger  *logging.FileLogger
	store   *syncstore.Store
	matcher *watcher.Matcher
	pid     *pidfile.File

	transcriber Transcriber
	console     io.Writer
	signals     bool
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithTranscriber injects a ready engine instead of loading one from config.
func WithTranscriber(t Transcriber) ServiceOption {
	return func(s *Service) {
		s.transcriber = t
	}
}

// WithConsole sets where log lines are echoed (default stderr; nil disables).
func WithConsole(w io.Writer) ServiceOption {
	return func(s *Service) {
		s.console = w
	}
}

// WithoutSignals stops Start from handling SIGINT and SIGTERM itself.
func WithoutSignals() ServiceOption {
	return func(s *Service) {
		s.signals = false
	}
}

// NewService creates a service for cfg. The engine is not loaded until Start.
func NewService(cfg *Config, opts ...ServiceOption) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		config:  cfg,
		console: os.Stderr,
		signals: true,
	}
	for _, opt := range opts {
		opt(s)
	}

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logConfig := logging.ConfigForFile(cfg.Logging.File).WithMinLevel(level)
	logConfig.RetentionDays = cfg.Logging.RetentionDays
	logConfig.Console = s.console
	logConfig.Component = "service"
	logger, err := logging.New(logConfig)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	s.logger = logger

	s.store = syncstore.New(cfg.ICloud.BasePath, cfg.ICloud.AudioSource, cfg.ICloud.TranscriptDest, cfg.Format(),
		syncstore.WithLogger(logger.WithComponent("store")),
	)
	s.matcher = watcher.NewMatcher(cfg.Audio.SupportedFormats)
	s.pid = pidfile.New(cfg.Monitoring.PIDFile)
	return s, nil
}

// Close releases the log file.
func (s *Service) Close() error {
	return s.logger.Close()
}

// Store returns the synced store adapter.
func (s *Service) Store() *syncstore.Store {
	return s.store
}

// StartOptions selects what Start does. At least one must be set.
type StartOptions struct {
	Monitor         bool
	ProcessExisting bool
}

// RunSummary reports what a Start call did.
type RunSummary struct {
	Sweep    *watcher.SweepResult
	Counters Counters
}

// Start checks the store, loads the engine, optionally sweeps existing files
// and optionally watches for new ones until ctx is cancelled or a signal
// arrives. Startup failures are returned; per-file failures are only counted.
func (s *Service) Start(ctx context.Context, opts StartOptions) (*RunSummary, error) {
	if !opts.Monitor && !opts.ProcessExisting {
		return nil, fmt.Errorf("nothing to do: enable monitoring or processing of existing files")
	}

	if err := s.store.EnsureReady(); err != nil {
		return nil, err
	}

	engine, err := s.loadTranscriber(ctx)
	if err != nil {
		return nil, err
	}
	pipeline := s.newPipeline(engine)

	s.logger.Info("audio transcriber ready",
		logging.String("source", s.store.SourceDir()),
		logging.String("dest", s.store.DestDir()),
		logging.String("format", string(s.config.Format())),
		logging.String("model", engine.ModelSize()),
	)

	if s.signals {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
	}

	summary := &RunSummary{}

	if opts.ProcessExisting {
		res, err := s.sweep(ctx, pipeline)
		summary.Sweep = res
		if err != nil && ctx.Err() == nil {
			summary.Counters = pipeline.Counters()
			return summary, err
		}
	}

	if opts.Monitor && ctx.Err() == nil {
		if err := s.monitor(ctx, pipeline); err != nil {
			summary.Counters = pipeline.Counters()
			return summary, err
		}
	}

	summary.Counters = pipeline.Counters()
	s.logger.Info("run finished",
		logging.Int("processed", summary.Counters.Processed),
		logging.Int("succeeded", summary.Counters.Succeeded),
		logging.Int("failed", summary.Counters.Failed),
	)
	return summary, nil
}

func (s *Service) sweep(ctx context.Context, pipeline *Pipeline) (*watcher.SweepResult, error) {
	var skip watcher.SkipFunc
	if s.config.Monitoring.SkipExisting {
		skip = s.store.HasTranscript
	}

	s.logger.Info("processing existing files", logging.String("path", s.store.SourceDir()))
	res, err := watcher.Sweep(ctx, s.store.SourceDir(), s.matcher, skip, finishInFlight(pipeline.Handle))
	if res != nil {
		s.logger.Info("existing files processed",
			logging.Int("found", res.Found),
			logging.Int("skipped", res.Skipped),
			logging.Int("succeeded", res.Succeeded()),
			logging.Int("failed", len(res.Failures)),
		)
	}
	return res, err
}

func (s *Service) monitor(ctx context.Context, pipeline *Pipeline) error {
	if err := s.pid.Acquire(); err != nil {
		return fmt.Errorf("%w: %w", ErrWatcherStart, err)
	}
	defer s.pid.Remove()

	w := watcher.New(s.matcher,
		watcher.WithBackend(s.config.WatchBackend()),
		watcher.WithSettle(s.settle()),
		watcher.WithLogger(s.logger.WithComponent("watcher")),
	)
	if err := w.Start(ctx, s.store.SourceDir(), finishInFlight(pipeline.Handle)); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
	case <-w.Done():
		s.logger.Warn("watcher exited unexpectedly")
	}
	return w.Stop()
}

// finishInFlight detaches each handler call from cancellation. A signal stops
// new files from being dispatched but the one in progress runs to the end.
func finishInFlight(handler watcher.Handler) watcher.Handler {
	return func(ctx context.Context, path string) error {
		return handler(context.WithoutCancel(ctx), path)
	}
}

func (s *Service) settle() stabilizer.Stabilizer {
	chain := stabilizer.Chain{stabilizer.Delay(s.config.SettleDelay())}
	if n := s.config.Monitoring.StabilizationChecks; n > 0 {
		poll := stabilizer.NewPollStabilizer(stabilizationInterval, n)
		poll.Timeout = time.Duration(s.config.Monitoring.StabilizationTimeoutSeconds) * time.Second
		chain = append(chain, poll)
	}
	return chain
}

func (s *Service) newPipeline(engine Transcriber) *Pipeline {
	cfg := s.config
	pre := audio.NewPreprocessor(audio.Options{
		MaxBytes:   int64(cfg.Audio.MaxFileSizeMB) * 1024 * 1024,
		SampleRate: cfg.Audio.Preprocessing.TargetSampleRate,
		Mono:       cfg.Audio.Preprocessing.ConvertToMono,
		Normalize:  cfg.Audio.Preprocessing.Normalize,
		TargetDBFS: cfg.Audio.Preprocessing.TargetDBFS,
		TempDir:    cfg.Audio.TempDir,
		FFmpegPath: cfg.Audio.FFmpegPath,
	}, audio.WithLogger(s.logger.WithComponent("audio")))

	return NewPipeline(pre, engine, output.NewWriter(), s.store, PipelineConfig{
		Format:      cfg.Format(),
		StagingDir:  cfg.Output.StagingDir,
		SyncTimeout: cfg.SyncTimeout(),
	}, WithPipelineLogger(s.logger.WithComponent("pipeline")))
}

// loadTranscriber builds the configured backend and probes it once.
func (s *Service) loadTranscriber(ctx context.Context) (Transcriber, error) {
	if s.transcriber != nil {
		return s.transcriber, nil
	}

	cfg := s.config.Transcription
	log := s.logger.WithComponent("engine")

	var c client.TranscriptionClient
	switch cfg.Backend {
	case BackendWhisperCPP:
		c = client.NewWhisperCPPClient(cfg.BinaryPath, s.config.ModelPath(),
			client.WithTempDir(s.config.Audio.TempDir),
		)
	default:
		c = client.NewRetryClient(
			client.NewWhisperASRClient(cfg.APIURL, client.WithTimeout(s.config.RequestTimeout())),
			client.WithRetryCount(cfg.RetryCount),
			client.WithLogger(log),
		)
	}

	engine, err := client.NewEngine(ctx, c, client.EngineConfig{
		ModelSize:  cfg.ModelSize,
		Language:   cfg.Language,
		Task:       cfg.Task,
		Timestamps: s.config.WantTimestamps(),
	}, log)
	if err != nil {
		return nil, err
	}
	return engine, nil
}

// Report is the data behind the status command.
type Report struct {
	Store      syncstore.Status
	Audio      watcher.FileStats
	Formats    []string
	Backend    string
	APIURL     string
	Model      string
	Format     output.Format
	Running    bool
	PID        int
	LogPath    string
	Today      *status.Stats
	SkipExists bool
}

// Status collects store, source-folder, process and log information.
func (s *Service) Status() (*Report, error) {
	r := &Report{
		Store:      s.store.Status(),
		Formats:    s.matcher.Extensions(),
		Backend:    s.config.Transcription.Backend,
		APIURL:     s.config.Transcription.APIURL,
		Model:      s.config.Transcription.ModelSize,
		Format:     s.config.Format(),
		SkipExists: s.config.Monitoring.SkipExisting,
		LogPath:    s.logger.LogPath(),
	}

	if r.Store.Source.Exists {
		stats, err := watcher.Stats(s.store.SourceDir(), s.matcher)
		if err != nil {
			return nil, err
		}
		r.Audio = stats
	}

	running, pid, err := s.pid.IsRunning()
	if err != nil {
		s.logger.Warn("could not read PID file", logging.String("path", s.pid.Path()), logging.String("reason", err.Error()))
	}
	r.Running, r.PID = running, pid

	if logCfg := logging.ConfigForFile(s.config.Logging.File); logCfg.LogDir != "" {
		today, err := status.ParseDay(logCfg.LogDir, logCfg.Prefix, time.Now())
		if err != nil {
			return nil, fmt.Errorf("parse log: %w", err)
		}
		r.Today = today
	}
	return r, nil
}

// Cleanup removes transcripts older than days from the synced folder.
func (s *Service) Cleanup(days int) (int, error) {
	if !s.store.Status().Ready() {
		return 0, fmt.Errorf("%s does not exist: %w", s.store.BasePath(), ErrStoreNotReady)
	}
	return s.store.PurgeOlderThan(days)
}
