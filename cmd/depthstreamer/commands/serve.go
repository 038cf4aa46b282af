package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/DepthStreamer/internal/logger"
	"github.com/bryanchriswhite/DepthStreamer/internal/pipeline"
	"github.com/bryanchriswhite/DepthStreamer/internal/preview"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline with the HTTP preview server",
	Long: `Start the decode pipeline and serve a browser preview: an MJPEG stream
of a decoder slot, a websocket point-cloud feed, JSON stats and Prometheus
metrics.`,
	Example: `  # Serve the default simulated stream on :8080
  depthstreamer serve

  # Serve a real stream described by a config file
  depthstreamer serve --config /path/to/config.yaml

  # Serve with debug logging
  depthstreamer serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("serve")

	pipe, err := pipeline.New(pipeline.Config{
		Net:      cfg.Net,
		Decoders: cfg.Decoders,
		Depth:    cfg.Depth,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	defer pipe.Close()

	if !cfg.Preview.Enabled {
		log.Warn().Msg("preview disabled in config, enabling for serve")
		cfg.Preview.Enabled = true
	}

	server := preview.NewServer(pipe, cfg.Preview)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	log.Info().
		Str("addr", cfg.Preview.Addr).
		Int("decoders", len(cfg.Decoders)).
		Bool("unprojection", cfg.Depth != nil).
		Msg("depthstreamer is running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("preview server failed: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("preview server shutdown failed")
	}
	return pipe.Close()
}
