package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage DepthStreamer configuration",
	Long:  `View and validate DepthStreamer configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Display the effective configuration: file contents merged over defaults.`,
	Example: `  # Show configuration as YAML (default)
  depthstreamer config show

  # Show configuration as JSON
  depthstreamer config show --format json`,
	RunE: runConfigShow,
}

var configFormat string

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "yaml", "output format (yaml, json)")
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	switch configFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		fmt.Print(string(data))
		return nil
	default:
		return fmt.Errorf("unknown format: %s", configFormat)
	}
}
