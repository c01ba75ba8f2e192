package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/status"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/syncstore"
)

// NewStatusCmd creates the status command
func NewStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show folder, engine and activity status",
		Long: `Show whether the iCloud folders exist, how much audio is waiting in the
source folder, which engine is configured, whether a monitor is running and
what today's log says about processed files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := transcribe.Load(configPath)
			if err != nil {
				return err
			}

			svc, err := transcribe.NewService(cfg, transcribe.WithConsole(nil))
			if err != nil {
				return fmt.Errorf("create service: %w", err)
			}
			defer svc.Close()

			report, err := svc.Status()
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func printReport(out io.Writer, r *transcribe.Report) {
	fmt.Fprintln(out, "Folders")
	printDir(out, "iCloud", r.Store.Base)
	printDir(out, "Audio", r.Store.Source)
	printDir(out, "Transcripts", r.Store.Transcripts)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Audio files")
	fmt.Fprintf(out, "  Total:   %d (%.1f MB)\n", r.Audio.TotalFiles, r.Audio.TotalMB())
	exts := make([]string, 0, len(r.Audio.Formats))
	for ext := range r.Audio.Formats {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	for _, ext := range exts {
		fmt.Fprintf(out, "  %-8s %d\n", ext+":", r.Audio.Formats[ext])
	}
	fmt.Fprintf(out, "  Formats: %s\n", strings.Join(r.Formats, ", "))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Transcription")
	fmt.Fprintf(out, "  Backend: %s\n", r.Backend)
	if r.Backend == transcribe.BackendWhisperASR {
		fmt.Fprintf(out, "  API:     %s\n", r.APIURL)
	}
	fmt.Fprintf(out, "  Model:   %s\n", r.Model)
	fmt.Fprintf(out, "  Output:  %s\n", r.Format)
	fmt.Fprintf(out, "  Skip existing: %v\n", r.SkipExists)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Monitor")
	if r.Running {
		fmt.Fprintf(out, "  Running (PID %d)\n", r.PID)
	} else {
		fmt.Fprintln(out, "  Not running")
	}

	if r.Today != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Today")
		fmt.Fprintf(out, "  Processed: %d\n", r.Today.FilesProcessed)
		fmt.Fprintf(out, "  Failed:    %d\n", r.Today.FilesFailed)
		fmt.Fprintf(out, "  Errors:    %d\n", r.Today.Errors)
		if last := r.Today.LastProcessed; last != nil {
			fmt.Fprintf(out, "  Last:      %s at %s\n", status.BaseName(last.Path), status.FormatTimestamp(last.Timestamp))
		}
		fmt.Fprintf(out, "  Log:       %s\n", r.LogPath)
	}
}

func printDir(out io.Writer, label string, d syncstore.DirStatus) {
	if !d.Exists {
		fmt.Fprintf(out, "  %-12s %s (missing)\n", label+":", d.Path)
		return
	}
	fmt.Fprintf(out, "  %-12s %s (%d files, %d dirs)\n", label+":", d.Path, d.Files, d.Dirs)
}
