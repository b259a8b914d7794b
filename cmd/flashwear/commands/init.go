package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/flashwear/internal/cli/prompt"
	"github.com/marmos91/flashwear/pkg/api"
	"github.com/marmos91/flashwear/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample flashwear configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/flashwear/config.yaml.
Use --config to specify a custom path. An existing file is only replaced
after confirmation, or with --force.

Examples:
  # Initialize with default location
  flashwear init

  # Initialize with custom path
  flashwear init --config /etc/flashwear/config.yaml

  # Overwrite without asking
  flashwear init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file without asking")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	err := config.InitConfigToPath(configPath, initForce)
	if errors.Is(err, config.ErrConfigExists) {
		ok, perr := prompt.Confirm(fmt.Sprintf("Overwrite %s", configPath), false)
		if perr != nil {
			if prompt.IsAborted(perr) {
				return nil
			}
			return perr
		}
		if !ok {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Keeping the existing configuration.")
			return nil
		}
		err = config.InitConfigToPath(configPath, true)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Set device.block_count and device.block_size to match your flash")
	_, _ = fmt.Fprintln(out, "  2. Start the daemon with: flashwear start")
	_, _ = fmt.Fprintln(out, "  3. Mint an operator token with: flashwear token --save")
	_, _ = fmt.Fprintln(out, "\nSecurity note:")
	_, _ = fmt.Fprintln(out, "  A random JWT secret has been written to the file.")
	_, _ = fmt.Fprintln(out, "  In production, keep it out of the file and use an environment variable:")
	_, _ = fmt.Fprintf(out, "    export %s=$(openssl rand -hex 32)\n", api.EnvJWTSecret)
	return nil
}
