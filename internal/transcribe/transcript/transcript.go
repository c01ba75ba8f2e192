// Package transcript defines the result produced by a speech-to-text engine.
package transcript

import (
	"strings"
	"unicode/utf8"
)

// Task kinds understood by the engines.
const (
	TaskTranscribe = "transcribe"
	TaskTranslate  = "translate"
)

// UnknownLanguage is reported when the engine does not detect a language.
const UnknownLanguage = "unknown"

// Segment is a timed span of recognized text.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Metadata describes how a result was produced.
type Metadata struct {
	ModelSize         string `json:"model_size"`
	Task              string `json:"task"`
	TimestampIncluded bool   `json:"timestamp_included"`
}

// Result is an immutable transcription of one audio file.
// Segments keep the engine's order.
type Result struct {
	AudioFile string    `json:"audio_file"`
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	Segments  []Segment `json:"segments"`
	Metadata  Metadata  `json:"metadata"`
}

// Stats summarizes a result for logging.
type Stats struct {
	Words      int
	Characters int
	Segments   int
	Duration   float64
}

// Stats computes word, character and segment counts for the result.
func (r *Result) Stats() Stats {
	s := Stats{
		Words:      len(strings.Fields(r.Text)),
		Characters: utf8.RuneCountInString(r.Text),
		Segments:   len(r.Segments),
	}
	for _, seg := range r.Segments {
		if seg.End > s.Duration {
			s.Duration = seg.End
		}
	}
	return s
}
