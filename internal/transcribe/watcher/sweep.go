package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Handler processes one discovered file.
type Handler func(ctx context.Context, path string) error

// SkipFunc reports whether a discovered file should not be dispatched.
type SkipFunc func(path string) bool

// Failure records a handler error during a sweep.
type Failure struct {
	Path string
	Err  error
}

// SweepResult summarizes a sweep.
type SweepResult struct {
	Found      int
	Skipped    int
	Dispatched int
	Failures   []Failure
}

// Succeeded returns the number of dispatched files whose handler returned nil.
func (r *SweepResult) Succeeded() int {
	return r.Dispatched - len(r.Failures)
}

// Find lists every matching file under root, sorted by full path.
// Unreadable subtrees are skipped.
func Find(root string, m *Matcher) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && m.Match(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// Sweep dispatches every matching file under root in sorted order. Files for
// which skip returns true are not dispatched. Handler errors are collected
// and the sweep continues; only cancellation of ctx ends it early.
func Sweep(ctx context.Context, root string, m *Matcher, skip SkipFunc, handler Handler) (*SweepResult, error) {
	files, err := Find(root, m)
	if err != nil {
		return nil, err
	}

	res := &SweepResult{Found: len(files)}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if skip != nil && skip(path) {
			res.Skipped++
			continue
		}
		res.Dispatched++
		if err := handler(ctx, path); err != nil {
			res.Failures = append(res.Failures, Failure{Path: path, Err: err})
		}
	}
	return res, nil
}

// FileStats describes the audio files under a folder.
type FileStats struct {
	TotalFiles int
	TotalBytes int64
	Formats    map[string]int
}

// TotalMB returns TotalBytes in mebibytes.
func (s FileStats) TotalMB() float64 {
	return float64(s.TotalBytes) / (1024 * 1024)
}

// Stats counts matching files under root by extension.
func Stats(root string, m *Matcher) (FileStats, error) {
	stats := FileStats{Formats: map[string]int{}}
	files, err := Find(root, m)
	if err != nil {
		return stats, err
	}
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		stats.TotalFiles++
		stats.TotalBytes += info.Size()
		stats.Formats[strings.ToLower(filepath.Ext(path))]++
	}
	return stats, nil
}
