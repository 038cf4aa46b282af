// Package pipeline delivers decoded video frames and depth-derived point
// clouds from a background decode loop to a single polling consumer.
//
// A producer goroutine pulls frame sets from the decode engine, optionally
// unprojects the depth slot into a double-buffered point cloud, and
// publishes results under one shared mutex. Consumers read through paired
// Begin/End snapshot calls; the mutex is held for the whole begin/end
// window, so snapshot views are stable, shallow and never torn.
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/DepthStreamer/internal/config"
	"github.com/bryanchriswhite/DepthStreamer/internal/decode"
	"github.com/bryanchriswhite/DepthStreamer/internal/frame"
	"github.com/bryanchriswhite/DepthStreamer/internal/logger"
	"github.com/bryanchriswhite/DepthStreamer/internal/unproject"
)

// MaxDecoders bounds the number of decoder slots per pipeline.
const MaxDecoders = config.MaxDecoders

// Slot conventions for depth unprojection, matching the canonical
// depth+texture stream layout.
const (
	depthSlot   = 0
	textureSlot = 1
)

var (
	// ErrNoData is returned by Begin when no decoder slot has published
	// yet. The shared lock is still held; callers must call End.
	ErrNoData = errors.New("pipeline: no data")
	// ErrClosed is returned for usage errors: nil handle, closed pipeline,
	// or End without a matching Begin.
	ErrClosed = errors.New("pipeline: closed")
)

// Config assembles a pipeline. Engine and Unprojector are optional
// overrides; when nil they are built from Net/Decoders/Depth.
type Config struct {
	Net      config.NetConfig
	Decoders []config.DecoderConfig
	// Depth enables unprojection of slot 0 (paired with slot 1 as texture
	// when two or more decoders are configured).
	Depth *config.DepthConfig

	Engine      decode.Engine
	Unprojector unproject.Unprojector
}

// Pipeline is the shared state between one producer goroutine and one
// polling consumer.
type Pipeline struct {
	// mu guards the frame store and the published point-cloud buffer. It
	// is held by consumers across a whole Begin/End window.
	mu     sync.Mutex
	store  *frameStore
	clouds *cloudBuffer // nil when unprojection is disabled

	engine      decode.Engine
	unprojector unproject.Unprojector
	texSlot     int // -1 when no texture decoder is configured

	// texRef is the producer's reference to the most recent texture
	// frame. Producer-owned; never touched under mu.
	texRef *frame.Frame

	stopping atomic.Bool
	done     chan struct{}
	closed   atomic.Bool
	snapOpen atomic.Bool
	closeFn  sync.Once

	fatalMu sync.Mutex
	fatal   error

	log zerolog.Logger
}

// New validates the configuration, constructs the decode engine, frame
// store and (optionally) the unprojector, then starts the producer
// goroutine. Any failure releases everything allocated so far and returns
// a nil pipeline.
func New(cfg Config) (*Pipeline, error) {
	n := len(cfg.Decoders)
	if n == 0 {
		return nil, fmt.Errorf("pipeline: at least one decoder required")
	}
	if n > MaxDecoders {
		return nil, fmt.Errorf("pipeline: decoder count %d exceeds maximum of %d", n, MaxDecoders)
	}

	engine := cfg.Engine
	if engine == nil {
		var err error
		engine, err = decode.Open(cfg.Net, cfg.Decoders)
		if err != nil {
			return nil, fmt.Errorf("pipeline: failed to initialize decode engine: %w", err)
		}
	}

	p := &Pipeline{
		store:   newFrameStore(n),
		engine:  engine,
		texSlot: -1,
		done:    make(chan struct{}),
		log:     *logger.WithComponent("pipeline"),
	}

	if cfg.Depth != nil {
		up := cfg.Unprojector
		if up == nil {
			var err error
			up, err = unproject.NewPinhole(
				unproject.Intrinsics{
					PPX: cfg.Depth.PPX, PPY: cfg.Depth.PPY,
					FX: cfg.Depth.FX, FY: cfg.Depth.FY,
					DepthUnit: cfg.Depth.DepthUnit,
					MinMargin: cfg.Depth.MinMargin,
					MaxMargin: cfg.Depth.MaxMargin,
				},
				unproject.Pose{Position: cfg.Depth.Position, Rotation: cfg.Depth.Rotation},
			)
			if err != nil {
				engine.Close()
				return nil, fmt.Errorf("pipeline: failed to initialize unprojector: %w", err)
			}
		}
		p.unprojector = up
		p.clouds = newCloudBuffer()
		if n > 1 {
			p.texSlot = textureSlot
		}
	}

	// started last, after every piece of state it touches exists
	go p.run()

	p.log.Info().
		Int("decoders", n).
		Bool("unprojection", p.clouds != nil).
		Str("engine", engine.Name()).
		Msg("pipeline started")
	return p, nil
}

// Close stops the producer, joins it (bounded by the engine's receive
// timeout), then tears down in reverse initialization order. Safe to call
// multiple times and on a nil pipeline.
func (p *Pipeline) Close() error {
	if p == nil {
		return nil
	}
	p.closeFn.Do(func() {
		p.stopping.Store(true)
		<-p.done
		p.closed.Store(true)

		p.mu.Lock()
		p.store.releaseAll()
		p.mu.Unlock()

		if err := p.engine.Close(); err != nil {
			p.log.Warn().Err(err).Msg("decode engine close failed")
		}
		if p.unprojector != nil {
			if err := p.unprojector.Close(); err != nil {
				p.log.Warn().Err(err).Msg("unprojector close failed")
			}
		}
		if p.clouds != nil {
			p.clouds.free()
		}
		p.log.Info().Msg("pipeline closed")
	})
	return nil
}

// Err reports the producer's terminal error, if any. A non-nil result
// means the pipeline has permanently stopped producing; snapshots keep
// working but will only ever see stale or no data.
func (p *Pipeline) Err() error {
	if p == nil {
		return ErrClosed
	}
	p.fatalMu.Lock()
	defer p.fatalMu.Unlock()
	return p.fatal
}

func (p *Pipeline) setFatal(err error) {
	if err == nil {
		err = errors.New("pipeline: decode engine failed")
	}
	p.fatalMu.Lock()
	if p.fatal == nil {
		p.fatal = err
	}
	p.fatalMu.Unlock()
}
