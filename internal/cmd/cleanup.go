package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe"
)

// defaultCleanupDays is how old a transcript must be before cleanup removes it.
const defaultCleanupDays = 30

// NewCleanupCmd creates the cleanup command
func NewCleanupCmd() *cobra.Command {
	var (
		configPath string
		days       int
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old transcripts from the synced folder",
		Long:  "Delete transcripts whose modification time is more than --days days old",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 0 {
				return fmt.Errorf("--days must not be negative, got %d", days)
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

			removed, err := svc.Cleanup(days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d transcript(s) older than %d days\n", removed, days)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&days, "days", "d", defaultCleanupDays, "remove transcripts older than this many days")
	return cmd
}
