package daemonrun

import (
	"github.com/spf13/cobra"

	"medscribe/internal/config"
)

// NewServeCommand builds the command that runs the daemon in the foreground.
// loadConfig is called when the command runs, after flags are parsed.
func NewServeCommand(use string, loadConfig func() (*config.Config, error)) *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   use,
		Short: "Run the MedScribe daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return Run(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&opts.Development, "dev", false, "Include source locations in logs")
	return cmd
}
