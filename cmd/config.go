package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/bookpipe/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialise the configuration",
		Long: `Show or initialise the bookpipe configuration.

Configuration is layered: built-in defaults, then the config file
(~/.bookpipe/config.yaml, $BOOKPIPE_CONFIG_DIR/config.yaml, or --config), then
BOOKPIPE_* environment variables, then command-line flags.`,
	}

	cmd.AddCommand(newConfigShowCommand(deps))
	cmd.AddCommand(newConfigInitCommand(deps))
	cmd.AddCommand(newConfigPathCommand(deps))

	return cmd
}

func newConfigShowCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.config()
			if err != nil {
				return err
			}
			if cfg.OutputFormat == config.OutputFormatJSON {
				return writeOutput(cmd.OutOrStdout(), cfg.OutputFormat, cfg, nil)
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigInitCommand(deps *CommandDeps) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Long: `Write a config file containing every default setting, ready to edit.

The file is written to --config if given, otherwise to the default location.
An existing file is left alone unless --force is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.OutOrStdout(), deps, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func runConfigInit(out io.Writer, deps *CommandDeps, force bool) error {
	path, err := configFilePath(deps)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
	}
	if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s\n", path)
	return nil
}

func newConfigPathCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configFilePath(deps)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func configFilePath(deps *CommandDeps) (string, error) {
	if deps.ConfigPath != "" {
		return config.ExpandPath(deps.ConfigPath)
	}
	return config.ConfigPath()
}
