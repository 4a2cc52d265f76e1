package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"medscribe/internal/config"
	"medscribe/internal/preflight"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigValidateCommand(ctx))
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		targetPath string
		overwrite  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			var err error
			if target == "" {
				target, err = config.DefaultConfigPath()
			} else {
				target, err = config.ExpandPath(target)
			}
			if err != nil {
				return fmt.Errorf("resolve config path: %w", err)
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set llm.base_url and diarization.hf_token (or MEDSCRIBE_HF_TOKEN) before running `medscribe serve`.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	var checks bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", ctx.configPath)
			fmt.Fprintln(out, renderTable([]string{"Setting", "Value"}, configRows(cfg), nil))

			if checks {
				if err := cfg.EnsureDirectories(); err != nil {
					return err
				}
				results := preflight.RunAll(cmd.Context(), cfg)
				rows := make([][]string, 0, len(results))
				for _, res := range results {
					rows = append(rows, []string{res.Name, passLabel(res), res.Detail})
				}
				fmt.Fprintln(out, renderTable([]string{"Check", "Result", "Detail"}, rows, nil))
				if !preflight.Passed(results) {
					return fmt.Errorf("preflight checks failed")
				}
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
	cmd.Flags().BoolVar(&checks, "checks", false, "Also run filesystem and service preflight checks")
	return cmd
}

func configRows(cfg *config.Config) [][]string {
	diarization := "disabled"
	if cfg.DiarizationAvailable() {
		diarization = cfg.Diarization.BaseURL
	} else if cfg.Diarization.Enabled {
		diarization = "enabled (missing url or token)"
	}
	rateLimit := "disabled"
	if cfg.Paths.SubmitRateLimit > 0 {
		rateLimit = strconv.Itoa(cfg.Paths.SubmitRateLimit) + " per " + cfg.SubmitRateWindow().String()
	}
	return [][]string{
		{"API bind", cfg.Paths.APIBind},
		{"API token", yesNo(cfg.Paths.APIToken != "")},
		{"Submit limit", rateLimit},
		{"Data dir", cfg.Paths.DataDir},
		{"Job store", cfg.Store.Driver},
		{"Artifacts", cfg.Artifacts.Backend},
		{"Max upload", humanize.IBytes(uint64(cfg.MaxUploadBytes()))},
		{"Whisper", cfg.Transcription.Command + " (" + cfg.Transcription.DefaultModel + ")"},
		{"Diarization", diarization},
		{"LLM", cfg.LLM.Model + " @ " + cfg.LLM.BaseURL},
		{"Workers", strconv.Itoa(cfg.Workers.Count)},
		{"Job TTL", cfg.JobTTL().String()},
	}
}

func passLabel(res preflight.Result) string {
	switch {
	case res.Passed:
		return "ok"
	case res.Optional:
		return "warn"
	default:
		return "fail"
	}
}
