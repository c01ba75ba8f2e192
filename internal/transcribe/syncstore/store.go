// Package syncstore manages the cloud-synced folder that receives transcripts.
//
// The base folder is owned by the sync client (iCloud Drive, Dropbox, ...).
// Its presence is the signal that the client is running, so it is never
// created here. The audio source and transcript folders beneath it are.
package syncstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/logging"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/output"
)

var (
	// ErrNotReady is returned when the base folder does not exist.
	ErrNotReady = errors.New("synced store not ready")
	// ErrPublish wraps failures copying a transcript into the store.
	ErrPublish = errors.New("publish failed")
	// ErrSyncTimeout is returned when a file does not become readable in time.
	ErrSyncTimeout = errors.New("timed out waiting for sync")
)

// DefaultPollInterval is the WaitForSync poll period.
const DefaultPollInterval = time.Second

// Store is the synced folder layout: base, base/<source>, base/<dest>.
type Store struct {
	base         string
	source       string
	dest         string
	format       output.Format
	pollInterval time.Duration
	logger       logging.Logger
	now          func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPollInterval sets how often WaitForSync checks the file.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		s.pollInterval = d
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates a Store rooted at basePath. sourceDir and destDir are
// folder names (or relative paths) beneath it.
func New(basePath, sourceDir, destDir string, format output.Format, opts ...Option) *Store {
	s := &Store{
		base:         filepath.Clean(basePath),
		source:       filepath.Join(basePath, sourceDir),
		dest:         filepath.Join(basePath, destDir),
		format:       format,
		pollInterval: DefaultPollInterval,
		logger:       logging.Discard(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BasePath returns the sync root.
func (s *Store) BasePath() string { return s.base }

// SourceDir returns the folder watched for audio.
func (s *Store) SourceDir() string { return s.source }

// DestDir returns the folder receiving transcripts.
func (s *Store) DestDir() string { return s.dest }

// EnsureReady checks the base folder exists and creates the source and
// destination folders if needed.
func (s *Store) EnsureReady() error {
	info, err := os.Stat(s.base)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s does not exist: %w", s.base, ErrNotReady)
		}
		return fmt.Errorf("stat %s: %v: %w", s.base, err, ErrNotReady)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory: %w", s.base, ErrNotReady)
	}

	for _, dir := range []string{s.source, s.dest} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			s.logger.Info("creating directory", logging.String("path", dir))
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// TranscriptRelPath mirrors audioPath's position under the source folder:
// source/sub/x.wav becomes sub/x_transcript.<ext>. Audio outside the source
// folder maps to a flat name.
func (s *Store) TranscriptRelPath(audioPath string) string {
	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	name := output.TranscriptName(stem, s.format)

	rel, err := filepath.Rel(s.source, filepath.Clean(audioPath))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return name
	}
	if dir := filepath.Dir(rel); dir != "." {
		return filepath.Join(dir, name)
	}
	return name
}

// DestinationFor returns the absolute transcript path for audioPath.
func (s *Store) DestinationFor(audioPath string) string {
	return filepath.Join(s.dest, s.TranscriptRelPath(audioPath))
}

// HasTranscript reports whether a transcript for audioPath is already published.
func (s *Store) HasTranscript(audioPath string) bool {
	_, err := os.Stat(s.DestinationFor(audioPath))
	return err == nil
}

// Publish copies the local artifact to its mirrored destination and returns that path.
// Mode and modification time are preserved.
func (s *Store) Publish(ctx context.Context, localPath, audioPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("transcript %s: %v: %w", localPath, err, ErrPublish)
	}

	dest := s.DestinationFor(audioPath)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("create %s: %v: %w", filepath.Dir(dest), err, ErrPublish)
	}

	if err := copyFile(localPath, dest, info.Mode()); err != nil {
		return "", fmt.Errorf("copy to %s: %v: %w", dest, err, ErrPublish)
	}
	if err := os.Chtimes(dest, info.ModTime(), info.ModTime()); err != nil {
		return "", fmt.Errorf("preserve mtime on %s: %v: %w", dest, err, ErrPublish)
	}

	s.logger.Info("transcript published", logging.String("path", dest))
	return dest, nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}
	if err := dstFile.Sync(); err != nil {
		dstFile.Close()
		return err
	}
	return dstFile.Close()
}

// WaitForSync polls until path exists and its first KiB can be read, or
// timeout elapses.
func (s *Store) WaitForSync(ctx context.Context, path string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if readable(path) {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				s.logger.Warn("timeout waiting for sync", logging.String("path", path))
				return fmt.Errorf("%s: %w", path, ErrSyncTimeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, 1024)
	_, err = f.Read(buf)
	return err == nil || err == io.EOF
}

// DirStatus describes one folder of the store.
type DirStatus struct {
	Path   string
	Exists bool
	Files  int
	Dirs   int
}

// Status is a snapshot of the store layout.
type Status struct {
	Base        DirStatus
	Source      DirStatus
	Transcripts DirStatus
}

// Ready reports whether the base folder exists.
func (st Status) Ready() bool {
	return st.Base.Exists
}

// Status reports existence flags and recursive file and directory counts.
func (s *Store) Status() Status {
	st := Status{
		Base:        DirStatus{Path: s.base, Exists: isDir(s.base)},
		Source:      s.dirStatus(s.source),
		Transcripts: s.dirStatus(s.dest),
	}
	return st
}

func (s *Store) dirStatus(dir string) DirStatus {
	ds := DirStatus{Path: dir, Exists: isDir(dir)}
	if !ds.Exists {
		return ds
	}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == dir {
			return nil
		}
		if d.IsDir() {
			ds.Dirs++
		} else {
			ds.Files++
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("counting files failed", logging.String("path", dir), logging.String("reason", err.Error()))
	}
	return ds
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// PurgeOlderThan removes files in the transcript folder whose modification
// time is more than days old. It returns how many were removed; files that
// cannot be removed are logged and skipped.
func (s *Store) PurgeOlderThan(days int) (int, error) {
	if days < 0 {
		return 0, fmt.Errorf("days must not be negative, got %d", days)
	}
	if !isDir(s.dest) {
		return 0, nil
	}

	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	removed := 0

	err := filepath.WalkDir(s.dest, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("skipping unreadable path", logging.String("path", path), logging.String("reason", err.Error()))
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to remove old transcript", logging.String("path", path), logging.String("reason", err.Error()))
			return nil
		}
		removed++
		s.logger.Debug("removed old transcript", logging.String("path", path))
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("walk %s: %w", s.dest, err)
	}

	if removed > 0 {
		s.logger.Info("cleaned up old transcripts", logging.Int("removed", removed), logging.Int("days", days))
	}
	return removed, nil
}
