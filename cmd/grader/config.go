package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/grader/internal/api"
	"github.com/jackzampolin/grader/internal/config"
	"github.com/jackzampolin/grader/internal/home"
	"github.com/jackzampolin/grader/internal/svcctx"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration file",
	Long: `Write the default configuration to ~/.grader/config.yaml, or to path.

API keys are written as ${ENV_VAR} references and resolved when the
config is loaded.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		path := h.ConfigPath()
		if len(args) == 1 {
			path = args[0]
		} else if err := h.EnsureExists(); err != nil {
			return err
		}

		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and GRADER_*
environment overrides are merged. API keys are shown unresolved.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := withServices(cmd)
		if err != nil {
			return err
		}
		format := api.GetOutputFormat()
		if format == api.OutputFormatText {
			format = api.OutputFormatYAML
		}
		return api.OutputTo(os.Stdout, format, svcctx.ConfigFrom(ctx).Get())
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
