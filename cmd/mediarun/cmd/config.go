package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mediarun/mediarun/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing mediarun configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  mediarun config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, /etc/mediarun, $HOME/.mediarun)
  - Environment variables (MEDIARUN_RUNTIME_NODE_TIMEOUT, MEDIARUN_IPC_SOCKET_DIR, etc.)
  - Command-line flags (for some options)

Environment variables use the MEDIARUN_ prefix and underscores for nesting.
Example: runtime.node_timeout -> MEDIARUN_RUNTIME_NODE_TIMEOUT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map, formatting durations and sizes for human readability.
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
		if !field.CanInterface() {
			continue
		}

		// Get mapstructure tag, then yaml tag, else the Go field name
		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Tag.Get("yaml")
		}
		if key == "" {
			key = fieldType.Name
		}

		switch val := field.Interface().(type) {
		case config.ByteSize:
			result[key] = val.String()
		case config.Duration:
			result[key] = val.String()
		case time.Duration:
			result[key] = val.String()
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

func runConfigDump(cmd *cobra.Command, args []string) error {
	// Load config with defaults (no file, just defaults)
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Convert to map with human-readable values
	cfgMap := toMap(cfg)

	// Marshal to YAML
	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Print header with documentation
	fmt.Println("# mediarun Configuration File")
	fmt.Println("# ===========================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println("# Duration format: 30s, 5m, 1h")
	fmt.Println("# Size format: 5MB, 1GB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   MEDIARUN_RUNTIME_NODE_TIMEOUT, MEDIARUN_RUNTIME_MAX_CONCURRENT_SESSIONS")
	fmt.Println("#   MEDIARUN_IPC_SOCKET_DIR, MEDIARUN_IPC_SHM_SEGMENT_SIZE")
	fmt.Println("#   MEDIARUN_WORKER_SPAWN_TIMEOUT, MEDIARUN_WORKER_HEARTBEAT_INTERVAL")
	fmt.Println("#   MEDIARUN_LOGGING_LEVEL, MEDIARUN_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
