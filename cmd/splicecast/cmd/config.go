package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/splicecast/splicecast/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing splicecast configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration values in YAML format.

This shows all available configuration options with the values currently
in effect (defaults, config file, and environment combined). Redirect the
output to a file to create a configuration template:

  splicecast config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml in ., ./configs, /etc/splicecast, $HOME/.splicecast)
  - Environment variables (SPLICECAST_SERVER_PORT, SPLICECAST_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the SPLICECAST_ prefix and underscores for nesting.
Example: server.port -> SPLICECAST_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags,
// formatting durations for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(v)
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(_ *cobra.Command, _ []string) error {
	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# splicecast Configuration File")
	fmt.Println("# =============================")
	fmt.Println("#")
	fmt.Println("# Duration format: 500ms, 30s, 5m, 1h")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   SPLICECAST_SERVER_HOST, SPLICECAST_SERVER_PORT")
	fmt.Println("#   SPLICECAST_DATABASE_DSN")
	fmt.Println("#   SPLICECAST_STORAGE_OUTPUT_DIR")
	fmt.Println("#   SPLICECAST_LOGGING_LEVEL, SPLICECAST_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
