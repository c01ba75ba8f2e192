// Package audio inspects audio files and prepares them for transcription.
package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
)

// Source describes an audio file found by discovery. Fields other than
// Path, Size and Format are best effort and zero when unknown.
type Source struct {
	Path       string
	Size       int64
	Format     string
	Duration   time.Duration
	SampleRate int
	Channels   int
	Created    time.Time
}

// Stem returns the file name without its extension.
func (s *Source) Stem() string {
	base := filepath.Base(s.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// FormatOf returns the lower-case extension of path without the dot.
func FormatOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// Inspect stats path and reads whatever header metadata the container exposes.
// Header parse failures are not errors; the decoder reports those later.
func Inspect(path string) (*Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat audio file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("stat audio file: %s is a directory", path)
	}

	src := &Source{
		Path:   path,
		Size:   info.Size(),
		Format: FormatOf(path),
	}

	switch src.Format {
	case "wav", "wave":
		inspectWAV(src)
	case "m4a", "mp4", "m4b", "aac", "mov":
		inspectMP4(src)
	}

	return src, nil
}

func inspectWAV(src *Source) {
	f, err := os.Open(src.Path)
	if err != nil {
		return
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return
	}
	src.SampleRate = int(dec.SampleRate)
	src.Channels = int(dec.NumChans)
	if d, err := dec.Duration(); err == nil {
		src.Duration = d
	}
}

func inspectMP4(src *Source) {
	f, err := os.Open(src.Path)
	if err != nil {
		return
	}
	defer f.Close()

	info, err := parseMP4(f)
	if err != nil {
		return
	}
	src.Duration = info.Duration
	src.Created = info.Created
}
