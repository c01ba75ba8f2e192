// Package output serializes transcription results to text, JSON and SRT files.
package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/transcript"
)

// ErrWrite wraps every filesystem failure while writing a transcript.
var ErrWrite = errors.New("transcript write failed")

// Format is a transcript serialization format.
type Format string

const (
	FormatText Format = "txt"
	FormatJSON Format = "json"
	FormatSRT  Format = "srt"
)

// ParseFormat accepts the config names txt, json and srt, plus a few aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "txt", "text":
		return FormatText, nil
	case "json", "structured":
		return FormatJSON, nil
	case "srt", "subtitle":
		return FormatSRT, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// Ext returns the file extension without the dot.
func (f Format) Ext() string {
	return string(f)
}

// NeedsTimestamps reports whether the format is useless without segments.
func (f Format) NeedsTimestamps() bool {
	return f == FormatSRT
}

// TranscriptName returns "<stem>_transcript.<ext>".
func TranscriptName(stem string, f Format) string {
	return stem + "_transcript." + f.Ext()
}

// Writer writes transcript artifacts.
type Writer struct{}

// NewWriter creates a Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Write serializes result to path in the given format, creating parent directories.
func (w *Writer) Write(ctx context.Context, result *transcript.Result, path string, format Format) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := Encode(result, format)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %v: %w", err, ErrWrite)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %v: %w", path, err, ErrWrite)
	}
	return nil
}

// Encode renders result in the given format.
func Encode(result *transcript.Result, format Format) ([]byte, error) {
	switch format {
	case FormatText:
		return []byte(result.Text), nil
	case FormatJSON:
		return encodeJSON(result)
	case FormatSRT:
		return []byte(EncodeSRT(result.Segments)), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

func encodeJSON(result *transcript.Result) ([]byte, error) {
	r := *result
	if r.Segments == nil {
		r.Segments = []transcript.Segment{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&r); err != nil {
		return nil, fmt.Errorf("encode JSON: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeSRT renders numbered subtitle blocks starting at 1.
func EncodeSRT(segments []transcript.Segment) string {
	var sb strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&sb, "%d\n%s --> %s\n%s\n\n",
			i+1,
			FormatTimestamp(seg.Start),
			FormatTimestamp(seg.End),
			strings.TrimSpace(seg.Text),
		)
	}
	return sb.String()
}

// FormatTimestamp renders seconds as HH:MM:SS,mmm. Milliseconds are rounded
// and a carry into the next second is propagated.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	whole := math.Floor(seconds)
	ms := int64(whole)*1000 + int64(math.Round((seconds-whole)*1000))

	h := ms / 3_600_000
	m := (ms % 3_600_000) / 60_000
	s := (ms % 60_000) / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}
