package commands

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/DepthStreamer/internal/config"
	"github.com/bryanchriswhite/DepthStreamer/internal/frame"
	"github.com/bryanchriswhite/DepthStreamer/internal/logger"
	"github.com/bryanchriswhite/DepthStreamer/internal/pipeline"
)

var (
	cloudFPS    int
	cloudClouds int

	cloudCmd = &cobra.Command{
		Use:   "cloud",
		Short: "Poll unprojected point clouds and log their point counts",
		Long: `Run the pipeline with depth unprojection enabled and poll the
point-cloud snapshot API at a fixed rate, logging used-point counts.

Depth camera intrinsics come from the config file's depth section. Without
one, intrinsics matching a common 848x480 depth stream are used so the
simulated engine produces a cloud out of the box.`,
		Example: `  # Unproject the default simulated stream
  depthstreamer cloud

  # Use real camera intrinsics
  depthstreamer cloud --config /path/to/config.yaml`,
		RunE: runCloud,
	}
)

func init() {
	cloudCmd.Flags().IntVar(&cloudFPS, "fps", 30, "snapshot polling rate")
	cloudCmd.Flags().IntVar(&cloudClouds, "clouds", 0, "stop after this many non-empty snapshots (0 = run until interrupted)")
	rootCmd.AddCommand(cloudCmd)
}

// defaultIntrinsics approximates a 848x480 depth stream so the cloud
// command works against the simulated engine without a config file.
func defaultIntrinsics() *config.DepthConfig {
	return &config.DepthConfig{
		PPX: 421.47, PPY: 240.58,
		FX: 426.90, FY: 426.90,
		DepthUnit: 0.0001,
		MinMargin: 0.19, MaxMargin: 9.99,
	}
}

func runCloud(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cloudFPS <= 0 {
		return fmt.Errorf("fps must be positive")
	}
	log := logger.WithComponent("cloud")

	depth := cfg.Depth
	if depth == nil {
		depth = defaultIntrinsics()
		log.Warn().Msg("no depth config, using built-in intrinsics")
	}

	decoders := cfg.Decoders
	if !isDepthFormat(decoders[0].PixelFormat) {
		// slot 0 feeds the unprojector and must be a 16-bit depth layout
		decoders = append([]config.DecoderConfig(nil), decoders...)
		decoders[0].PixelFormat = "gray16le"
		log.Warn().Msg("forcing slot 0 to gray16le for unprojection")
	}

	pipe, err := pipeline.New(pipeline.Config{
		Net:      cfg.Net,
		Decoders: decoders,
		Depth:    depth,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	defer pipe.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(cloudFPS))
	defer ticker.Stop()

	var cloud pipeline.CloudView
	seen := 0
	for {
		select {
		case <-sigChan:
			log.Info().Int("snapshots", seen).Msg("interrupted")
			return pipe.Close()
		case <-ticker.C:
		}

		berr := pipe.BeginCloud(&cloud)
		if berr == nil && cloud.Size > 0 {
			log.Info().
				Int("used", cloud.Used).
				Int("size", cloud.Size).
				Floats32("position", cloud.Position[:]).
				Msg("cloud")
			seen++
		}
		if err := pipe.EndCloud(); err != nil {
			return fmt.Errorf("pipeline stopped: %w", err)
		}
		if berr != nil && !errors.Is(berr, pipeline.ErrNoData) {
			return berr
		}

		if cloudClouds > 0 && seen >= cloudClouds {
			log.Info().Int("snapshots", seen).Msg("done")
			return pipe.Close()
		}
	}
}

func isDepthFormat(name string) bool {
	f, err := frame.ParsePixelFormat(name)
	return err == nil && f.IsDepth16()
}
