package transcribe

import (
	"errors"
	"fmt"

	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/audio"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/client"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/output"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/syncstore"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/watcher"
)

// ErrConfig is returned for unreadable or invalid configuration.
var ErrConfig = errors.New("invalid configuration")

// Error kinds raised by the pipeline stages, re-exported so callers only
// need this package for errors.Is checks.
var (
	ErrModelLoad        = client.ErrModelLoad
	ErrTooLarge         = audio.ErrTooLarge
	ErrDecodeFailed     = audio.ErrDecodeFailed
	ErrTranscribeFailed = client.ErrTranscribeFailed
	ErrWriteFailed      = output.ErrWrite
	ErrPublishFailed    = syncstore.ErrPublish
	ErrWatcherStart     = watcher.ErrWatcherStart
	ErrStoreNotReady    = syncstore.ErrNotReady
)

// Stage names a step of the per-file pipeline.
type Stage string

const (
	StageDiscovered     Stage = "discovered"
	StagePreprocessed   Stage = "preprocessed"
	StageTranscribed    Stage = "transcribed"
	StageLocallyWritten Stage = "locally_written"
	StagePublished      Stage = "published"
	StageDone           Stage = "done"
)

// StageError records which stage a file failed in.
type StageError struct {
	Stage Stage
	Path  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: stage %s: %v", e.Path, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage returns the stage of a *StageError in err's chain.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
