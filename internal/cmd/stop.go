package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/pidfile"
)

// stopTimeout is the maximum time to wait for graceful shutdown before sending SIGKILL
const stopTimeout = 10 * time.Second

// ErrNotRunning indicates the monitor is not running
var ErrNotRunning = errors.New("transcriber is not running")

// ErrStaleProcess indicates the PID file exists but the process is not running
var ErrStaleProcess = errors.New("stale PID file (process not running)")

// NewStopCmd creates the stop command
func NewStopCmd() *cobra.Command {
	var configPath, pidPath string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running monitor",
		Long: `Stop a monitor started with "transcriber start --monitor".

Reads the PID from monitoring.pid_file (or --pid-file) and sends SIGTERM so the
file in progress can finish. If the process doesn't exit within 10 seconds,
SIGKILL is sent. The PID file is removed after the process exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pidPath == "" {
				cfg, err := transcribe.Load(configPath)
				if err != nil {
					return err
				}
				pidPath = cfg.Monitoring.PIDFile
			}
			return stopProcess(cmd.OutOrStdout(), pidfile.New(pidPath), stopTimeout)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&pidPath, "pid-file", "", "PID file to use instead of the one in the settings file")
	return cmd
}

// stopProcess terminates the process recorded in pf, escalating to SIGKILL after timeout.
func stopProcess(out io.Writer, pf *pidfile.File, timeout time.Duration) error {
	pid, err := pf.Read()
	if err != nil {
		if errors.Is(err, pidfile.ErrNoPIDFile) {
			return ErrNotRunning
		}
		return fmt.Errorf("read PID file: %w", err)
	}

	alive, err := pidfile.Alive(pid)
	if err != nil {
		return err
	}
	if !alive {
		if err := pf.Remove(); err != nil {
			fmt.Fprintf(out, "Warning: failed to remove stale PID file: %v\n", err)
		}
		return ErrStaleProcess
	}

	fmt.Fprintf(out, "Stopping transcriber (PID %d)...\n", pid)

	if err := pidfile.Signal(pid, unix.SIGTERM); err != nil && !errors.Is(err, pidfile.ErrProcessNotFound) {
		return fmt.Errorf("send SIGTERM: %w", err)
	}

	if !waitForExit(pid, timeout) {
		fmt.Fprintln(out, "Process did not exit gracefully, sending SIGKILL...")
		if err := pidfile.Signal(pid, unix.SIGKILL); err != nil && !errors.Is(err, pidfile.ErrProcessNotFound) {
			return fmt.Errorf("send SIGKILL: %w", err)
		}
		waitForExit(pid, 2*time.Second)
	}

	if err := pf.Remove(); err != nil {
		fmt.Fprintf(out, "Warning: failed to remove PID file: %v\n", err)
	}

	fmt.Fprintln(out, "Transcriber stopped")
	return nil
}

// waitForExit polls until the process exits or timeout is reached
func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if alive, err := pidfile.Alive(pid); err != nil || !alive {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}
