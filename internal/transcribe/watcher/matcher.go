package watcher

import (
	"path/filepath"
	"sort"
	"strings"
)

// DefaultFormats are the audio extensions accepted when none are configured.
var DefaultFormats = []string{".mp3", ".wav", ".m4a", ".aac", ".flac", ".ogg", ".wma"}

// Matcher classifies paths as audio by extension, case-insensitively.
type Matcher struct {
	exts map[string]bool
}

// NewMatcher builds a Matcher from extensions such as ".wav" or "MP3".
func NewMatcher(formats []string) *Matcher {
	m := &Matcher{exts: make(map[string]bool, len(formats))}
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" || f == "." {
			continue
		}
		if !strings.HasPrefix(f, ".") {
			f = "." + f
		}
		m.exts[f] = true
	}
	return m
}

// Match reports whether path has an allowed extension.
func (m *Matcher) Match(path string) bool {
	return m.exts[strings.ToLower(filepath.Ext(path))]
}

// Extensions returns the normalized allow-list, sorted.
func (m *Matcher) Extensions() []string {
	out := make([]string, 0, len(m.exts))
	for e := range m.exts {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
