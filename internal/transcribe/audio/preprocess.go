package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/executor"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/logging"
)

var (
	// ErrTooLarge is returned for files above the configured size limit.
	ErrTooLarge = errors.New("audio file too large")
	// ErrDecodeFailed is returned when the container cannot be decoded.
	ErrDecodeFailed = errors.New("audio decode failed")
)

// Options configures a Preprocessor.
type Options struct {
	MaxBytes   int64
	SampleRate int
	Mono       bool
	Normalize  bool
	TargetDBFS float64
	TempDir    string
	FFmpegPath string
}

// DefaultOptions matches the engine's expected input: 16 kHz mono at -20 dBFS.
func DefaultOptions() Options {
	return Options{
		MaxBytes:   500 * 1024 * 1024,
		SampleRate: 16000,
		Mono:       true,
		Normalize:  true,
		TargetDBFS: -20,
		FFmpegPath: "ffmpeg",
	}
}

// Normalized is a prepared temporary WAV file. The caller must Release it.
type Normalized struct {
	Path       string
	SampleRate int
	Channels   int
	Duration   float64
	// InputDBFS is the loudness before gain was applied.
	InputDBFS float64
	// Normalized is false when gain was not applied (disabled or silent input).
	Normalized bool
}

// Release deletes the temporary file. It is safe to call more than once.
func (n *Normalized) Release() error {
	if n == nil || n.Path == "" {
		return nil
	}
	if err := os.Remove(n.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove normalized audio: %w", err)
	}
	return nil
}

// Preprocessor turns source files into mono, fixed-rate, level-normalized
// 32-bit float WAV.
type Preprocessor struct {
	opts   Options
	exec   executor.Executor
	logger logging.Logger
}

// Option configures a Preprocessor.
type Option func(*Preprocessor)

// WithExecutor sets the command runner used for ffmpeg.
func WithExecutor(e executor.Executor) Option {
	return func(p *Preprocessor) {
		p.exec = e
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Preprocessor) {
		p.logger = l
	}
}

// NewPreprocessor creates a Preprocessor.
func NewPreprocessor(opts Options, options ...Option) *Preprocessor {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	p := &Preprocessor{
		opts:   opts,
		exec:   executor.New(),
		logger: logging.Discard(),
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Prepare decodes src and writes the normalized result to a new temp file.
func (p *Preprocessor) Prepare(ctx context.Context, src *Source) (*Normalized, error) {
	if p.opts.MaxBytes > 0 && src.Size > p.opts.MaxBytes {
		return nil, fmt.Errorf("%s is %d bytes, limit %d: %w", src.Path, src.Size, p.opts.MaxBytes, ErrTooLarge)
	}

	buf, err := p.decode(ctx, src)
	if err != nil {
		return nil, err
	}
	if buf.Frames() == 0 {
		return nil, fmt.Errorf("%s has no audio frames: %w", src.Path, ErrDecodeFailed)
	}

	if p.opts.Mono && buf.Channels > 1 {
		buf.Downmix()
	}
	if p.opts.SampleRate > 0 && buf.SampleRate != p.opts.SampleRate {
		buf.Resample(p.opts.SampleRate)
	}

	out := &Normalized{
		SampleRate: buf.SampleRate,
		Channels:   buf.Channels,
		Duration:   buf.Duration(),
		InputDBFS:  buf.LoudnessDBFS(),
	}

	if p.opts.Normalize {
		out.Normalized = buf.Normalize(p.opts.TargetDBFS)
		if !out.Normalized {
			p.logger.Warn("no measurable signal, skipping normalization",
				logging.String("path", src.Path),
			)
		} else if peak := buf.Peak(); peak > 1 {
			p.logger.Debug("normalized peaks exceed full scale",
				logging.String("path", src.Path),
				logging.Float64("peak", peak),
			)
		}
	}

	f, err := os.CreateTemp(p.opts.TempDir, "processed-"+src.Stem()+"-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	out.Path = f.Name()

	// Float samples keep the exact gain even where peaks pass full scale.
	if err := encodeFloatWAV(f, buf); err != nil {
		f.Close()
		out.Release()
		return nil, err
	}
	if err := f.Close(); err != nil {
		out.Release()
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	fields := []logging.Field{
		logging.String("path", src.Path),
		logging.String("output", out.Path),
		logging.Int("sample_rate", out.SampleRate),
		logging.Float64("duration_s", out.Duration),
	}
	if !math.IsInf(out.InputDBFS, -1) {
		fields = append(fields, logging.Float64("input_dbfs", out.InputDBFS))
	}
	p.logger.Debug("audio prepared", fields...)

	return out, nil
}

func (p *Preprocessor) decode(ctx context.Context, src *Source) (*Buffer, error) {
	if src.Format == "wav" || src.Format == "wave" {
		buf, err := ReadWAV(src.Path)
		if err == nil {
			return buf, nil
		}
		p.logger.Debug("native WAV decode failed, trying ffmpeg",
			logging.String("path", src.Path),
			logging.String("reason", err.Error()),
		)
	}
	return p.decodeWithFFmpeg(ctx, src)
}

// decodeWithFFmpeg converts the container to 16-bit PCM WAV and decodes that.
// Channel layout and rate are kept so the same transforms apply to every input.
func (p *Preprocessor) decodeWithFFmpeg(ctx context.Context, src *Source) (*Buffer, error) {
	dir, err := os.MkdirTemp(p.opts.TempDir, "decode-*")
	if err != nil {
		return nil, fmt.Errorf("create decode dir: %w", err)
	}
	defer os.RemoveAll(dir)

	pcm := filepath.Join(dir, src.Stem()+".wav")
	_, err = p.exec.Execute(ctx, p.opts.FFmpegPath,
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-y", "-i", src.Path,
		"-vn", "-acodec", "pcm_s16le", "-f", "wav",
		pcm,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", src.Path, err, ErrDecodeFailed)
	}

	buf, err := ReadWAV(pcm)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", src.Path, err, ErrDecodeFailed)
	}
	return buf, nil
}
