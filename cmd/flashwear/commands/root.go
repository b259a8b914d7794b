// Package commands implements the flashwear command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/flashwear/cmd/flashwear/cmdutil"
	configcmd "github.com/marmos91/flashwear/cmd/flashwear/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "flashwear",
	Short: "flashwear - NAND wear leveling and bad-block management",
	Long: `flashwear tracks the wear of every erase block of a flash device,
steers writes towards the least worn blocks, relocates cold data and retires
failing blocks.

Run 'flashwear start' to launch the daemon. The remaining commands talk to a
running daemon over its REST API, except 'simulate', which runs locally.

Use "flashwear [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cmdutil.Flags.ConfigFile, _ = cmd.Flags().GetString("config")
		cmdutil.Flags.ServerURL, _ = cmd.Flags().GetString("server")
		cmdutil.Flags.Token, _ = cmd.Flags().GetString("token")
		cmdutil.Flags.Output, _ = cmd.Flags().GetString("output")
		cmdutil.Flags.NoColor, _ = cmd.Flags().GetBool("no-color")
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default: $XDG_CONFIG_HOME/flashwear/config.yaml)")
	rootCmd.PersistentFlags().String("server", "", "Daemon URL (overrides the saved session)")
	rootCmd.PersistentFlags().String("token", "", "Operator token (overrides "+cmdutil.EnvToken+" and the saved session)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "Output format (table|json|yaml)")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(configcmd.Cmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(blocksCmd)
	rootCmd.AddCommand(badBlocksCmd)
	rootCmd.AddCommand(markBadCmd)
	rootCmd.AddCommand(maintainCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cmdutil.Flags.ConfigFile
}
