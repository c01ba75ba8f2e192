package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/audio"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/client"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/output"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/syncstore"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/transcript"
)

// stubEngine returns a fixed result and records what it was given.
type stubEngine struct {
	result  *transcript.Result
	err     error
	calls   []string
	existed bool
}

func (s *stubEngine) Transcribe(ctx context.Context, path string) (*transcript.Result, error) {
	s.calls = append(s.calls, path)
	_, statErr := os.Stat(path)
	s.existed = statErr == nil
	if s.err != nil {
		return nil, s.err
	}
	r := *s.result
	r.AudioFile = path
	return &r, nil
}

func (s *stubEngine) ModelSize() string { return "base" }

func helloResult() *transcript.Result {
	return &transcript.Result{
		Text:     "hello world",
		Language: "en",
		Segments: []transcript.Segment{
			{Start: 0.0, End: 0.5, Text: "hello"},
			{Start: 0.5, End: 1.0, Text: "world"},
		},
		Metadata: transcript.Metadata{ModelSize: "base", Task: transcript.TaskTranscribe, TimestampIncluded: true},
	}
}

func writeSine(t *testing.T, path string, rate, channels int, seconds float64) {
	t.Helper()
	frames := int(float64(rate) * seconds)
	buf := &audio.Buffer{Samples: make([]float64, frames*channels), Channels: channels, SampleRate: rate}
	for f := 0; f < frames; f++ {
		v := 0.3 * math.Sin(2*math.Pi*440*float64(f)/float64(rate))
		for c := 0; c < channels; c++ {
			buf.Samples[f*channels+c] = v
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := audio.WriteWAV(path, buf); err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}
}

type pipelineFixture struct {
	base    string
	store   *syncstore.Store
	tempDir string
	staging string
}

func newFixture(t *testing.T, format output.Format) *pipelineFixture {
	t.Helper()
	base := t.TempDir()
	store := syncstore.New(base, "Audio Files", "Transcripts", format)
	if err := store.EnsureReady(); err != nil {
		t.Fatal(err)
	}
	return &pipelineFixture{
		base:    base,
		store:   store,
		tempDir: t.TempDir(),
		staging: t.TempDir(),
	}
}

func (f *pipelineFixture) pipeline(engine Transcriber, format output.Format, pub Publisher, maxBytes int64) *Pipeline {
	opts := audio.DefaultOptions()
	opts.TempDir = f.tempDir
	opts.MaxBytes = maxBytes
	if pub == nil {
		pub = f.store
	}
	return NewPipeline(audio.NewPreprocessor(opts), engine, output.NewWriter(), pub, PipelineConfig{
		Format:     format,
		StagingDir: f.staging,
	})
}

func assertEmptyDir(t *testing.T, dir, what string) {
	t.Helper()
	var files []string
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if len(files) != 0 {
		t.Errorf("expected no %s left, found %v", what, files)
	}
}

func TestPipeline_EndToEndJSON(t *testing.T) {
	f := newFixture(t, output.FormatJSON)
	src := filepath.Join(f.store.SourceDir(), "sub", "x.wav")
	writeSine(t, src, 44100, 2, 0.5)

	engine := &stubEngine{result: helloResult()}
	p := f.pipeline(engine, output.FormatJSON, nil, 0)

	outcome, err := p.Process(context.Background(), src)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	dest := filepath.Join(f.store.DestDir(), "sub", "x_transcript.json")
	if outcome.Output != dest {
		t.Errorf("expected output %s, got %s", dest, outcome.Output)
	}
	if outcome.Stage != StageDone {
		t.Errorf("expected stage done, got %s", outcome.Stage)
	}
	if outcome.RunID == "" {
		t.Error("expected a run id")
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("expected transcript at %s: %v", dest, err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got["text"] != "hello world" || got["language"] != "en" {
		t.Errorf("unexpected content %v", got)
	}
	if got["audio_file"] != src {
		t.Errorf("expected audio_file %s, got %v", src, got["audio_file"])
	}
	if segs, ok := got["segments"].([]any); !ok || len(segs) != 2 {
		t.Errorf("expected 2 segments, got %v", got["segments"])
	}

	if len(engine.calls) != 1 || !engine.existed {
		t.Fatalf("expected engine to receive an existing prepared file, got %v", engine.calls)
	}
	if _, err := os.Stat(engine.calls[0]); !os.IsNotExist(err) {
		t.Errorf("expected prepared audio %s to be removed", engine.calls[0])
	}
	assertEmptyDir(t, f.tempDir, "temporary audio")
	assertEmptyDir(t, f.staging, "local transcripts")

	c := p.Counters()
	if c.Processed != 1 || c.Succeeded != 1 || c.Failed != 0 {
		t.Errorf("unexpected counters %+v", c)
	}
}

// capturingPublisher records the local artifact as it is handed over.
type capturingPublisher struct {
	*syncstore.Store
	local     string
	localData []byte
}

func (c *capturingPublisher) Publish(ctx context.Context, localPath, audioPath string) (string, error) {
	c.local = localPath
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	c.localData = data
	return c.Store.Publish(ctx, localPath, audioPath)
}

// levelEngine measures the prepared audio and returns ten seconds of
// back-to-back segments.
type levelEngine struct {
	loudness float64
	duration float64
	prepared string
}

func (l *levelEngine) Transcribe(ctx context.Context, path string) (*transcript.Result, error) {
	l.prepared = path
	buf, err := audio.ReadWAV(path)
	if err != nil {
		return nil, err
	}
	l.loudness = buf.LoudnessDBFS()
	l.duration = buf.Duration()
	return &transcript.Result{
		AudioFile: path,
		Text:      "one two three four",
		Language:  "en",
		Segments: []transcript.Segment{
			{Start: 0, End: 2.5, Text: " one"},
			{Start: 2.5, End: 5, Text: " two"},
			{Start: 5.2, End: 7.5, Text: " three"},
			{Start: 7.5, End: 10, Text: " four"},
		},
		Metadata: transcript.Metadata{ModelSize: "base", Task: transcript.TaskTranscribe, TimestampIncluded: true},
	}, nil
}

func (l *levelEngine) ModelSize() string { return "base" }

func TestPipeline_TenSecondClipAtTargetLevel(t *testing.T) {
	f := newFixture(t, output.FormatJSON)
	src := filepath.Join(f.store.SourceDir(), "trip", "memo.wav")

	const rate = 16000
	clip := &audio.Buffer{Samples: make([]float64, rate*10), Channels: 1, SampleRate: rate}
	for i := range clip.Samples {
		clip.Samples[i] = 0.4 * math.Sin(2*math.Pi*220*float64(i)/rate)
	}
	clip.Normalize(-20)
	if err := os.MkdirAll(filepath.Dir(src), 0755); err != nil {
		t.Fatal(err)
	}
	if err := audio.WriteWAV(src, clip); err != nil {
		t.Fatal(err)
	}

	engine := &levelEngine{}
	pub := &capturingPublisher{Store: f.store}
	p := f.pipeline(engine, output.FormatJSON, pub, 0)

	outcome, err := p.Process(context.Background(), src)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if math.Abs(engine.loudness-(-20)) > 1e-4 {
		t.Errorf("expected prepared audio at -20 dBFS, got %.6f", engine.loudness)
	}
	if math.Abs(engine.duration-10) > 1e-6 {
		t.Errorf("expected 10s of prepared audio, got %v", engine.duration)
	}
	if _, err := os.Stat(engine.prepared); !os.IsNotExist(err) {
		t.Errorf("expected prepared audio %s to be removed", engine.prepared)
	}

	if pub.localData == nil {
		t.Fatal("expected a local artifact to be published")
	}
	if filepath.Dir(pub.local) == filepath.Dir(outcome.Output) {
		t.Errorf("expected the local artifact outside the destination, got %s", pub.local)
	}
	if _, err := os.Stat(pub.local); !os.IsNotExist(err) {
		t.Error("expected local artifact to be removed after publishing")
	}

	dest := filepath.Join(f.store.DestDir(), "trip", "memo_transcript.json")
	if outcome.Output != dest {
		t.Errorf("expected output %s, got %s", dest, outcome.Output)
	}
	remote, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("expected destination copy: %v", err)
	}
	if string(remote) != string(pub.localData) {
		t.Error("expected destination copy to match the local artifact")
	}

	var doc struct {
		Text     string `json:"text"`
		Language string `json:"language"`
		Segments []struct {
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(remote, &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if doc.Text == "" || doc.Language == "" {
		t.Errorf("expected text and language, got %q %q", doc.Text, doc.Language)
	}
	if len(doc.Segments) != 4 {
		t.Fatalf("expected 4 segments, got %d", len(doc.Segments))
	}
	for i, seg := range doc.Segments {
		if seg.End < seg.Start {
			t.Errorf("segment %d ends before it starts: %+v", i, seg)
		}
		if i > 0 && seg.Start < doc.Segments[i-1].End {
			t.Errorf("segment %d overlaps the previous one: %+v", i, seg)
		}
	}

	assertEmptyDir(t, f.tempDir, "temporary audio")
	assertEmptyDir(t, f.staging, "local transcripts")
}

func TestPipeline_TranscribeFailureReleasesAudio(t *testing.T) {
	f := newFixture(t, output.FormatText)
	src := filepath.Join(f.store.SourceDir(), "memo.wav")
	writeSine(t, src, 16000, 1, 0.25)

	engine := &stubEngine{err: fmt.Errorf("%w: model crashed", client.ErrTranscribeFailed)}
	p := f.pipeline(engine, output.FormatText, nil, 0)

	outcome, err := p.Process(context.Background(), src)
	if !errors.Is(err, ErrTranscribeFailed) {
		t.Fatalf("expected ErrTranscribeFailed, got %v", err)
	}
	if stage, _ := FailedStage(err); stage != StageTranscribed {
		t.Errorf("expected failure at %s, got %s", StageTranscribed, stage)
	}
	if outcome.Stage != StagePreprocessed {
		t.Errorf("expected last reached stage preprocessed, got %s", outcome.Stage)
	}

	assertEmptyDir(t, f.tempDir, "temporary audio")
	if f.store.HasTranscript(src) {
		t.Error("expected no published transcript")
	}

	c := p.Counters()
	if c.Failed != 1 || c.ByStage[StageTranscribed] != 1 {
		t.Errorf("unexpected counters %+v", c)
	}
}

func TestPipeline_TooLargeNeverReachesEngine(t *testing.T) {
	f := newFixture(t, output.FormatText)
	src := filepath.Join(f.store.SourceDir(), "big.wav")
	writeSine(t, src, 16000, 1, 0.25)

	engine := &stubEngine{result: helloResult()}
	p := f.pipeline(engine, output.FormatText, nil, 100)

	_, err := p.Process(context.Background(), src)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if stage, _ := FailedStage(err); stage != StagePreprocessed {
		t.Errorf("expected failure at %s, got %s", StagePreprocessed, stage)
	}
	if len(engine.calls) != 0 {
		t.Error("engine should not be called")
	}
}

func TestPipeline_DecodeFailure(t *testing.T) {
	f := newFixture(t, output.FormatText)
	src := filepath.Join(f.store.SourceDir(), "broken.wav")
	os.WriteFile(src, []byte("RIFF not really"), 0644)

	opts := audio.DefaultOptions()
	opts.TempDir = f.tempDir
	opts.FFmpegPath = "definitely-not-ffmpeg"
	p := NewPipeline(audio.NewPreprocessor(opts), &stubEngine{result: helloResult()}, output.NewWriter(), f.store,
		PipelineConfig{Format: output.FormatText, StagingDir: f.staging})

	_, err := p.Process(context.Background(), src)
	if !errors.Is(err, ErrDecodeFailed) {
		t.Fatalf("expected ErrDecodeFailed, got %v", err)
	}
	assertEmptyDir(t, f.tempDir, "temporary audio")
}

// failingPublisher wraps a store but refuses to publish.
type failingPublisher struct {
	*syncstore.Store
}

func (failingPublisher) Publish(ctx context.Context, localPath, audioPath string) (string, error) {
	return "", fmt.Errorf("disk full: %w", syncstore.ErrPublish)
}

func TestPipeline_PublishFailureKeepsLocalArtifact(t *testing.T) {
	f := newFixture(t, output.FormatText)
	src := filepath.Join(f.store.SourceDir(), "memo.wav")
	writeSine(t, src, 16000, 1, 0.25)

	p := f.pipeline(&stubEngine{result: helloResult()}, output.FormatText, failingPublisher{f.store}, 0)

	_, err := p.Process(context.Background(), src)
	if !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("expected ErrPublishFailed, got %v", err)
	}

	local := filepath.Join(f.staging, "memo_transcript.txt")
	data, err := os.ReadFile(local)
	if err != nil {
		t.Fatalf("expected local transcript to be kept: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("unexpected local transcript %q", data)
	}
	assertEmptyDir(t, f.tempDir, "temporary audio")
}

func TestPipeline_WaitsForSyncWhenConfigured(t *testing.T) {
	f := newFixture(t, output.FormatSRT)
	src := filepath.Join(f.store.SourceDir(), "memo.wav")
	writeSine(t, src, 16000, 1, 0.25)

	opts := audio.DefaultOptions()
	opts.TempDir = f.tempDir
	p := NewPipeline(audio.NewPreprocessor(opts), &stubEngine{result: helloResult()}, output.NewWriter(), f.store,
		PipelineConfig{Format: output.FormatSRT, StagingDir: f.staging, SyncTimeout: 2 * time.Second})

	outcome, err := p.Process(context.Background(), src)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	data, err := os.ReadFile(outcome.Output)
	if err != nil {
		t.Fatal(err)
	}
	want := "1\n00:00:00,000 --> 00:00:00,500\nhello\n\n2\n00:00:00,500 --> 00:00:01,000\nworld\n\n"
	if string(data) != want {
		t.Errorf("unexpected SRT:\n%q\nwant:\n%q", data, want)
	}
}

func TestStageError(t *testing.T) {
	err := fmt.Errorf("sweep: %w", &StageError{Stage: StagePublished, Path: "/a.wav", Err: ErrPublishFailed})

	if !errors.Is(err, ErrPublishFailed) {
		t.Error("expected StageError to unwrap to its cause")
	}
	stage, ok := FailedStage(err)
	if !ok || stage != StagePublished {
		t.Errorf("expected stage %s, got %s (%v)", StagePublished, stage, ok)
	}
	if _, ok := FailedStage(errors.New("plain")); ok {
		t.Error("expected no stage for a plain error")
	}
}
