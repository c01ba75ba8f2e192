package cmd

import (
	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe"
)

// NewRootCmd creates the root command for the transcriber CLI
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "transcriber",
		Short: "Transcribe audio dropped into an iCloud folder",
		Long: `Audio Transcriber watches an iCloud Drive folder for audio files, runs
speech-to-text on each one and publishes the transcript next to it in a
synced Transcripts folder.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(NewStartCmd())
	rootCmd.AddCommand(NewStatusCmd())
	rootCmd.AddCommand(NewCleanupCmd())
	rootCmd.AddCommand(NewStopCmd())
	rootCmd.AddCommand(NewInitCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// addConfigFlag registers --config/-c on cmd.
func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", transcribe.DefaultConfigPath, "path to the settings file")
}
