package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/marmos91/flashwear/internal/bytesize"
	"github.com/marmos91/flashwear/pkg/config"
)

var schemaFile string

// durationPattern matches what time.ParseDuration accepts for non-negative
// values.
const durationPattern = `^(0|([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+)$`

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate JSON schema for configuration",
	Long: `Generate a JSON schema for the flashwear configuration file.

The schema can be used for IDE autocompletion and for validating
configuration files in CI.

Examples:
  # Print schema to stdout
  flashwear config schema

  # Save schema to file
  flashwear config schema --file config.schema.json`,
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().StringVarP(&schemaFile, "file", "f", "", "Output file (default: stdout)")
}

// GenerateSchema reflects the configuration struct using its yaml keys.
func GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "yaml",
		Mapper:                    mapType,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Version = "https://json-schema.org/draft/2020-12/schema"
	schema.Title = "flashwear Configuration"
	schema.Description = "Configuration schema for the flashwear daemon"
	return schema
}

// mapType describes the types whose YAML form differs from their Go kind.
func mapType(t reflect.Type) *jsonschema.Schema {
	switch t {
	case reflect.TypeOf(time.Duration(0)):
		// Field descriptions replace Description on struct properties, so
		// the format is carried by Title and Pattern.
		return &jsonschema.Schema{
			Type:     "string",
			Title:    "duration",
			Pattern:  durationPattern,
			Examples: []any{"30s", "24h"},
		}
	case reflect.TypeOf(bytesize.ByteSize(0)):
		return &jsonschema.Schema{
			OneOf: []*jsonschema.Schema{
				{Type: "integer", Description: "size in bytes"},
				{Type: "string", Description: "size with unit, e.g. 128Ki or 4MB"},
			},
		}
	}
	return nil
}

func runSchema(cmd *cobra.Command, args []string) error {
	schemaJSON, err := json.MarshalIndent(GenerateSchema(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	if schemaFile != "" {
		if err := os.WriteFile(schemaFile, schemaJSON, 0644); err != nil {
			return fmt.Errorf("failed to write schema file: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", schemaFile)
		return nil
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(schemaJSON))
	return nil
}
