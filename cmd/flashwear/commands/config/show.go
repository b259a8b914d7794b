package config

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/flashwear/cmd/flashwear/cmdutil"
	"github.com/marmos91/flashwear/internal/cli/output"
	"github.com/marmos91/flashwear/pkg/config"
)

const redacted = "<redacted>"

var showSecrets bool

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective flashwear configuration, after defaults and
environment overrides are applied.

Prints YAML unless --output json is given. The JWT secret is redacted unless
--show-secrets is set.

Examples:
  # Show default config as YAML
  flashwear config show

  # Show as JSON
  flashwear config show --output json

  # Show specific config file
  flashwear config show --config /etc/flashwear/config.yaml`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print the JWT secret in clear")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}
	if !showSecrets && cfg.API.JWT.Secret != "" {
		cfg.API.JWT.Secret = redacted
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	return printConfig(cmd.OutOrStdout(), cfg, format)
}

// printConfig writes YAML with the file's own keys; the table format has no
// meaning for a nested document and also prints YAML.
func printConfig(w io.Writer, cfg *config.Config, format output.Format) error {
	if format == output.FormatJSON {
		return output.PrintJSON(w, cfg)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
