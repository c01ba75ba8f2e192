package transcribe

import (
	"context"
	"time"

	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/audio"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/output"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/transcript"
)

// Preprocessor turns a source file into a temporary normalized WAV.
type Preprocessor interface {
	// Prepare returns audio the caller must Release.
	Prepare(ctx context.Context, src *audio.Source) (*audio.Normalized, error)
}

// Transcriber runs speech-to-text on a prepared file.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (*transcript.Result, error)
	ModelSize() string
}

// TranscriptWriter serializes a result to a local file.
type TranscriptWriter interface {
	Write(ctx context.Context, result *transcript.Result, path string, format output.Format) error
}

// Publisher places transcripts into the synced tree.
type Publisher interface {
	// TranscriptRelPath is the destination path relative to the
	// transcript folder for a given source audio file.
	TranscriptRelPath(audioPath string) string
	// Publish copies localPath into the synced tree and returns the destination.
	Publish(ctx context.Context, localPath, audioPath string) (string, error)
	// WaitForSync blocks until path is readable or timeout passes.
	WaitForSync(ctx context.Context, path string, timeout time.Duration) error
}
