// Package pidfile tracks the running monitor process.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Common errors
var (
	ErrNoPIDFile       = errors.New("no PID file found")
	ErrInvalidPID      = errors.New("invalid PID in file")
	ErrProcessNotFound = errors.New("process not found")
	ErrAlreadyRunning  = errors.New("monitor already running")
)

const (
	dirPerm  = 0755
	filePerm = 0644
)

// File is a PID file at a fixed path.
type File struct {
	path string
}

// New returns a File for path. Nothing is created until Write.
func New(path string) *File {
	return &File{path: path}
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

// Write records pid, creating parent directories if needed.
func (f *File) Write(pid int) error {
	if err := os.MkdirAll(filepath.Dir(f.path), dirPerm); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	content := strconv.Itoa(pid) + "\n"
	if err := os.WriteFile(f.path, []byte(content), filePerm); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	return nil
}

// Acquire writes the current PID unless another live process owns the file.
// A stale file is replaced.
func (f *File) Acquire() error {
	running, pid, err := f.IsRunning()
	if err != nil && !errors.Is(err, ErrInvalidPID) {
		return err
	}
	if running && pid != os.Getpid() {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}
	return f.Write(os.Getpid())
}

// Read returns the PID stored in the file.
// Returns ErrNoPIDFile if the file doesn't exist and ErrInvalidPID if the
// content is not a positive integer.
func (f *File) Read() (int, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNoPIDFile
		}
		return 0, fmt.Errorf("read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, ErrInvalidPID
	}
	return pid, nil
}

// Remove deletes the file. A missing file is not an error.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove PID file: %w", err)
	}
	return nil
}

// IsRunning reports whether the recorded process is alive.
// With no PID file it returns (false, 0, nil); with a stale one (false, pid, nil).
func (f *File) IsRunning() (bool, int, error) {
	pid, err := f.Read()
	if err != nil {
		if errors.Is(err, ErrNoPIDFile) {
			return false, 0, nil
		}
		return false, 0, err
	}
	alive, err := Alive(pid)
	return alive, pid, err
}

// CleanStale removes the file if its process is gone.
// Returns true if a stale file was removed.
func (f *File) CleanStale() (bool, error) {
	running, pid, err := f.IsRunning()
	if err != nil || running || pid == 0 {
		return false, err
	}
	if err := f.Remove(); err != nil {
		return false, err
	}
	return true, nil
}

// Alive checks a process with signal 0.
func Alive(pid int) (bool, error) {
	err := unix.Kill(pid, 0)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.ESRCH):
		return false, nil
	case errors.Is(err, unix.EPERM):
		// exists but owned by someone else
		return true, nil
	default:
		return false, fmt.Errorf("check process: %w", err)
	}
}

// Signal sends sig to pid. A vanished process is ErrProcessNotFound.
func Signal(pid int, sig unix.Signal) error {
	if err := unix.Kill(pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return ErrProcessNotFound
		}
		return fmt.Errorf("signal process %d: %w", pid, err)
	}
	return nil
}
