package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/flashwear/pkg/api"
	"github.com/marmos91/flashwear/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the flashwear configuration file.

Checks for syntax errors, missing required fields, invalid values and an
inconsistent wear policy, then warns about settings that lose state.

Examples:
  # Validate default config
  flashwear config validate

  # Validate specific config file
  flashwear config validate --config /etc/flashwear/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if warnings := Warnings(cfg); len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Device:          %s, %d blocks of %s\n", cfg.Device.Type, cfg.Device.BlockCount, cfg.Device.BlockSize)
	_, _ = fmt.Fprintf(out, "  Snapshot store:  %s\n", cfg.Snapshot.Type)
	_, _ = fmt.Fprintf(out, "  Journal:         %t\n", cfg.Journal.Enabled)
	_, _ = fmt.Fprintf(out, "  Max erases:      %d\n", cfg.Policy.MaxEraseCount)
	_, _ = fmt.Fprintf(out, "  API port:        %d\n", cfg.API.Port)
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)
	return nil
}

// Warnings lists valid settings that are probably not what an operator
// wants in production.
func Warnings(cfg *config.Config) []string {
	var warnings []string
	if cfg.API.IsEnabled() && cfg.API.JWT.Secret == "" {
		warnings = append(warnings, fmt.Sprintf("JWT secret not configured - operator routes are disabled (set %s)", api.EnvJWTSecret))
	}
	if cfg.Device.Type == "memory" {
		warnings = append(warnings, "memory device - block contents are lost on exit")
	}
	if cfg.Snapshot.Type == "memory" {
		warnings = append(warnings, "memory snapshot store - wear counters are lost on exit")
	}
	if !cfg.Journal.Enabled {
		warnings = append(warnings, "journal disabled - blocks retired after the last snapshot are forgotten on a crash")
	}
	if cfg.Maintenance.Interval == 0 {
		warnings = append(warnings, "maintenance interval is zero - cycles only run when triggered through the API")
	}
	return warnings
}
