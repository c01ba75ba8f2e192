package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe"
)

// ErrNoMode is returned when start is given neither --monitor nor --process-existing.
var ErrNoMode = errors.New("nothing to do: pass --monitor and/or --process-existing")

// NewStartCmd creates the start command
func NewStartCmd() *cobra.Command {
	var (
		configPath string
		opts       transcribe.StartOptions
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Transcribe existing audio and/or watch for new files",
		Long: `Start the transcriber in the foreground.

With --process-existing every supported audio file already in the source
folder is transcribed first (files with a published transcript are skipped
when monitoring.skip_existing is set). With --monitor the source folder is
then watched until Ctrl+C or SIGTERM.

Failures on individual files are logged and counted; only startup problems
such as a bad config, a missing iCloud folder or an unreachable engine make
the command fail.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.Monitor && !opts.ProcessExisting {
				return ErrNoMode
			}

			cfg, err := transcribe.Load(configPath)
			if err != nil {
				return err
			}

			svc, err := transcribe.NewService(cfg, transcribe.WithConsole(cmd.ErrOrStderr()))
			if err != nil {
				return fmt.Errorf("create service: %w", err)
			}
			defer svc.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Source: %s\n", cfg.SourceDir())
			fmt.Fprintf(out, "Output: %s\n", cfg.DestDir())
			if opts.Monitor {
				fmt.Fprintln(out, "Press Ctrl+C to stop")
			}
			fmt.Fprintln(out)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			summary, err := svc.Start(ctx, opts)
			if summary != nil {
				printSummary(out, summary)
			}
			return err
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVarP(&opts.Monitor, "monitor", "m", false, "watch the source folder for new audio")
	cmd.Flags().BoolVarP(&opts.ProcessExisting, "process-existing", "p", false, "transcribe audio already in the source folder")

	return cmd
}

func printSummary(out io.Writer, s *transcribe.RunSummary) {
	if s.Sweep != nil {
		fmt.Fprintf(out, "Existing files: %d found, %d skipped\n", s.Sweep.Found, s.Sweep.Skipped)
	}
	fmt.Fprintf(out, "Processed: %d  Succeeded: %d  Failed: %d\n",
		s.Counters.Processed, s.Counters.Succeeded, s.Counters.Failed)
	if s.Sweep != nil {
		for _, f := range s.Sweep.Failures {
			fmt.Fprintf(out, "  failed: %s: %v\n", f.Path, f.Err)
		}
	}
}
