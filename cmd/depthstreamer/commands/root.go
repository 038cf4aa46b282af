package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/DepthStreamer/internal/config"
	"github.com/bryanchriswhite/DepthStreamer/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "depthstreamer",
		Short: "DepthStreamer - network hardware video decoding with point-cloud delivery",
		Long: `DepthStreamer receives encoded video streams over the network, decodes
them on a background loop and hands frames and depth-derived point clouds
to a polling consumer through a lock-stable snapshot API.

Features:
  • Multi-stream decoding (depth + texture pairing)
  • Depth-map unprojection into colored point clouds
  • Zero-copy snapshot views for render loops
  • Browser preview with MJPEG and websocket point-cloud feeds
  • Prometheus metrics`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/depthstreamer/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "human-readable console logging")

	// Bind flags to viper
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// loadConfig builds the effective configuration from the config file plus
// flag overrides and initializes logging from it.
func loadConfig() (*config.Config, error) {
	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := mgr.Get()

	if viper.IsSet("log_level") {
		if lvl := viper.GetString("log_level"); lvl != "" {
			cfg.LogLevel = lvl
		}
	}
	if viper.IsSet("log_pretty") {
		cfg.LogPretty = viper.GetBool("log_pretty")
	}

	logger.Init(cfg.LogLevel, cfg.LogPretty)
	return cfg, nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
