// Command medscribed runs the MedScribe daemon. It is equivalent to
// `medscribe serve`.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"medscribe/internal/config"
	"medscribe/internal/daemonrun"
)

func newRootCommand() *cobra.Command {
	var configPath string
	load := func() (*config.Config, error) {
		cfg, _, _, err := config.Load(strings.TrimSpace(configPath))
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}

	rootCmd := daemonrun.NewServeCommand("medscribed", load)
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	return rootCmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
