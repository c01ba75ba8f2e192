// Package status reads the transcriber log to report recent activity.
package status

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/logging"
)

// Stats holds parsed statistics from the log file.
type Stats struct {
	FilesProcessed int
	FilesFailed    int
	Errors         int
	LastProcessed  *ProcessedFile
}

// ProcessedFile holds information about the last processed file.
type ProcessedFile struct {
	Timestamp time.Time
	Path      string
	Output    string
}

// value matches a bare or double-quoted logger field value.
const value = `("(?:[^"\\]|\\.)*"|\S+)`

// Format: 2026-01-22T14:30:00Z INFO  [pipeline] file processing complete path="/x/Audio Files/a.m4a" output=/x/Transcripts/a_transcript.txt elapsed=1.5s
var (
	completedPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z)\s+INFO\s+\[pipeline\]\s+file processing complete\s+path=` + value + `\s+output=` + value)
	failedPattern    = regexp.MustCompile(`\s+ERROR\s+\[pipeline\]\s+file processing failed\s`)
	errorPattern     = regexp.MustCompile(`\s+ERROR\s+`)
)

// ParseDay parses the daily log file for day in dir.
// Returns empty stats if the log file doesn't exist.
func ParseDay(dir, prefix string, day time.Time) (*Stats, error) {
	return ParseLogFile(logging.PathForDate(dir, prefix, day))
}

// ParseLogFile parses a log file and returns statistics.
// Returns empty stats if the file doesn't exist.
func ParseLogFile(path string) (*Stats, error) {
	stats := &Stats{}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if matches := completedPattern.FindStringSubmatch(line); matches != nil {
			stats.FilesProcessed++
			timestamp, err := time.Parse(time.RFC3339, matches[1])
			if err == nil {
				stats.LastProcessed = &ProcessedFile{
					Timestamp: timestamp,
					Path:      unquoteIfNeeded(matches[2]),
					Output:    unquoteIfNeeded(matches[3]),
				}
			}
		}

		if failedPattern.MatchString(line) {
			stats.FilesFailed++
		}
		if errorPattern.MatchString(line) {
			stats.Errors++
		}
	}

	return stats, scanner.Err()
}

// unquoteIfNeeded reverses the logger's quoting of values with spaces.
func unquoteIfNeeded(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
		return s[1 : len(s)-1]
	}
	return s
}

// FormatTimestamp formats a timestamp for display.
func FormatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02T15:04:05")
}

// BaseName returns just the filename from a path.
func BaseName(path string) string {
	return filepath.Base(strings.TrimSuffix(path, "/"))
}
