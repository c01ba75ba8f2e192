package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe"
)

// ErrConfigExists is returned when init would overwrite a settings file.
var ErrConfigExists = errors.New("settings file already exists (use --force to overwrite)")

// NewInitCmd creates the init command
func NewInitCmd() *cobra.Command {
	var (
		configPath string
		basePath   string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default settings file",
		Long: `Write a settings file with default values for the given iCloud Drive
folder. Edit the file afterwards to pick a backend, model or output format.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s: %w", configPath, ErrConfigExists)
			}

			cfg := transcribe.Default()
			cfg.ICloud.BasePath = basePath
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(configPath); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration saved to %s\n", configPath)
			if _, err := os.Stat(basePath); err != nil {
				fmt.Fprintf(out, "Warning: %s does not exist yet\n", basePath)
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&basePath, "base-path", "", "iCloud Drive folder holding the audio and transcript folders")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing settings file")
	cmd.MarkFlagRequired("base-path")
	return cmd
}
