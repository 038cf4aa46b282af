package commands

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/DepthStreamer/internal/logger"
	"github.com/bryanchriswhite/DepthStreamer/internal/pipeline"
)

var (
	viewFPS    int
	viewFrames int

	viewCmd = &cobra.Command{
		Use:   "view",
		Short: "Poll decoded frames in a render-loop and log their metadata",
		Long: `Run the pipeline and poll the frame snapshot API at a fixed rate, the
way a render loop would, logging the metadata of every fresh frame set.
Useful for verifying a stream without a display.`,
		Example: `  # Poll the default simulated stream at 30 Hz
  depthstreamer view

  # Poll 300 non-empty snapshots, then exit
  depthstreamer view --frames 300`,
		RunE: runView,
	}
)

func init() {
	viewCmd.Flags().IntVar(&viewFPS, "fps", 30, "snapshot polling rate")
	viewCmd.Flags().IntVar(&viewFrames, "frames", 0, "stop after this many non-empty snapshots (0 = run until interrupted)")
	rootCmd.AddCommand(viewCmd)
}

func runView(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if viewFPS <= 0 {
		return fmt.Errorf("fps must be positive")
	}
	log := logger.WithComponent("view")

	pipe, err := pipeline.New(pipeline.Config{
		Net:      cfg.Net,
		Decoders: cfg.Decoders,
		Depth:    cfg.Depth,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	defer pipe.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(viewFPS))
	defer ticker.Stop()

	frames := make([]pipeline.FrameView, len(cfg.Decoders))
	seen := 0
	for {
		select {
		case <-sigChan:
			log.Info().Int("snapshots", seen).Msg("interrupted")
			return pipe.Close()
		case <-ticker.C:
		}

		berr := pipe.BeginFrames(frames)
		if berr == nil {
			for i, v := range frames {
				if v.Data[0] == nil {
					continue
				}
				log.Info().
					Int("slot", i).
					Int("width", v.Width).
					Int("height", v.Height).
					Stringer("format", v.Format).
					Int("linesize", v.Linesize[0]).
					Msg("frame")
			}
			seen++
		}
		if err := pipe.EndFrames(); err != nil {
			return fmt.Errorf("pipeline stopped: %w", err)
		}
		if berr != nil && !errors.Is(berr, pipeline.ErrNoData) {
			return berr
		}

		if viewFrames > 0 && seen >= viewFrames {
			log.Info().Int("snapshots", seen).Msg("done")
			return pipe.Close()
		}
	}
}
