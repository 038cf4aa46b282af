package decode

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/DepthStreamer/internal/config"
	"github.com/bryanchriswhite/DepthStreamer/internal/frame"
	"github.com/bryanchriswhite/DepthStreamer/internal/logger"
)

func init() {
	Register("sim", NewSimEngine)
}

const (
	simDefaultWidth  = 640
	simDefaultHeight = 360
	simFrameInterval = 33 * time.Millisecond
	simStrideAlign   = 64
)

// SimEngine is a pure-Go Engine that synthesizes frames at a fixed cadence:
// a scrolling 16-bit ramp for depth formats and moving color bars for
// texture formats. It honors the receive-timeout contract, which makes it
// usable both for demos without camera hardware and for pipeline soak
// tests.
type SimEngine struct {
	decoders []simDecoder
	timeout  time.Duration
	interval time.Duration

	next    time.Time
	counter uint64

	// mu guards last and closed: Close may run while a Receive is in
	// flight, and both release the engine's frame references.
	mu     sync.Mutex
	last   []*frame.Frame
	closed bool

	stop     chan struct{}
	stopOnce sync.Once
}

type simDecoder struct {
	format   frame.PixelFormat
	width    int
	height   int
	linesize [frame.NumPlanes]int
	pool     *frame.Pool
}

// NewSimEngine builds a simulated engine for the given decoder configs.
// The network config's timeout bounds each Receive call.
func NewSimEngine(net config.NetConfig, decoders []config.DecoderConfig) (Engine, error) {
	e := &SimEngine{
		timeout:  time.Duration(net.TimeoutMS) * time.Millisecond,
		interval: simFrameInterval,
		stop:     make(chan struct{}),
	}

	for i, dc := range decoders {
		format, err := frame.ParsePixelFormat(dc.PixelFormat)
		if err != nil {
			return nil, fmt.Errorf("sim decoder %d: %w", i, err)
		}
		w, h := dc.Width, dc.Height
		if w == 0 {
			w = simDefaultWidth
		}
		if h == 0 {
			h = simDefaultHeight
		}

		d := simDecoder{format: format, width: w, height: h}
		var sizes [frame.NumPlanes]int
		switch format {
		case frame.FormatGray16LE, frame.FormatP010LE, frame.FormatP016LE:
			d.linesize[0] = alignStride(w * 2)
			sizes[0] = d.linesize[0] * h
			if format != frame.FormatGray16LE {
				d.linesize[1] = d.linesize[0]
				sizes[1] = d.linesize[1] * h / 2
			}
		case frame.FormatRGB0, frame.FormatRGBA:
			d.linesize[0] = alignStride(w * 4)
			sizes[0] = d.linesize[0] * h
		case frame.FormatNV12:
			d.linesize[0] = alignStride(w)
			d.linesize[1] = d.linesize[0]
			sizes[0] = d.linesize[0] * h
			sizes[1] = d.linesize[1] * h / 2
		case frame.FormatYUV420P:
			d.linesize[0] = alignStride(w)
			d.linesize[1] = alignStride(w / 2)
			d.linesize[2] = d.linesize[1]
			sizes[0] = d.linesize[0] * h
			sizes[1] = d.linesize[1] * h / 2
			sizes[2] = d.linesize[2] * h / 2
		default:
			return nil, fmt.Errorf("sim decoder %d: unsupported format %s", i, format)
		}
		d.pool = frame.NewPool(sizes)
		e.decoders = append(e.decoders, d)
	}

	e.next = time.Now().Add(e.interval)
	logger.WithComponent("sim-engine").Info().
		Int("decoders", len(e.decoders)).
		Dur("interval", e.interval).
		Dur("timeout", e.timeout).
		Msg("simulated decode engine ready")
	return e, nil
}

// Receive blocks until the next synthetic frame set is due or the timeout
// elapses, whichever comes first.
func (e *SimEngine) Receive() Result {
	wait := time.Until(e.next)
	if wait > e.timeout {
		select {
		case <-e.stop:
			return Result{Status: StatusFatal, Err: fmt.Errorf("sim engine closed")}
		case <-time.After(e.timeout):
			return Result{Status: StatusTimeout}
		}
	}
	if wait > 0 {
		select {
		case <-e.stop:
			return Result{Status: StatusFatal, Err: fmt.Errorf("sim engine closed")}
		case <-time.After(wait):
		}
	}

	e.next = e.next.Add(e.interval)
	if time.Until(e.next) < 0 {
		// consumer fell behind, skip ahead instead of bursting
		e.next = time.Now().Add(e.interval)
	}

	frames := make([]*frame.Frame, len(e.decoders))
	for i := range e.decoders {
		frames[i] = e.decoders[i].generate(e.counter)
	}
	e.counter++

	e.mu.Lock()
	if e.closed {
		// Close won the race and already dropped e.last; this set was
		// never handed out, so it is released here.
		e.mu.Unlock()
		for _, f := range frames {
			f.Release()
		}
		return Result{Status: StatusFatal, Err: fmt.Errorf("sim engine closed")}
	}
	// The previous set's engine references are dropped here; holders that
	// retained a frame keep its buffer alive.
	for _, f := range e.last {
		f.Release()
	}
	e.last = frames
	e.mu.Unlock()

	return Result{Status: StatusOK, Frames: frames}
}

// Close makes any in-flight Receive return promptly and drops the engine's
// frame references.
func (e *SimEngine) Close() error {
	e.stopOnce.Do(func() {
		close(e.stop)
		e.mu.Lock()
		e.closed = true
		for _, f := range e.last {
			f.Release()
		}
		e.last = nil
		e.mu.Unlock()
	})
	return nil
}

// Name identifies the backend.
func (e *SimEngine) Name() string { return "sim" }

func (d *simDecoder) generate(counter uint64) *frame.Frame {
	buf := d.pool.Get()
	switch {
	case d.format.IsDepth16():
		d.fillDepthRamp(buf.Planes[0], counter)
	case d.format.IsTexture32():
		d.fillColorBars(buf.Planes[0], counter)
	default:
		d.fillLumaGradient(buf.Planes[0], counter)
	}
	return frame.New(d.width, d.height, d.format, d.linesize, buf)
}

// fillDepthRamp writes a horizontal 16-bit ramp with a band that advances
// each frame, so consecutive clouds are distinguishable.
func (d *simDecoder) fillDepthRamp(plane []byte, counter uint64) {
	band := int(counter*8) % d.width
	for y := 0; y < d.height; y++ {
		row := plane[y*d.linesize[0]:]
		for x := 0; x < d.width; x++ {
			v := uint16(2000 + x*16)
			if dx := x - band; dx >= 0 && dx < 32 {
				v += 8000
			}
			binary.LittleEndian.PutUint16(row[2*x:], v)
		}
	}
}

// fillColorBars writes classic vertical color bars scrolling with the
// frame counter.
func (d *simDecoder) fillColorBars(plane []byte, counter uint64) {
	bars := [8][3]byte{
		{255, 255, 255}, {255, 255, 0}, {0, 255, 255}, {0, 255, 0},
		{255, 0, 255}, {255, 0, 0}, {0, 0, 255}, {0, 0, 0},
	}
	barWidth := d.width / len(bars)
	if barWidth == 0 {
		barWidth = 1
	}
	offset := int(counter) % d.width
	for y := 0; y < d.height; y++ {
		row := plane[y*d.linesize[0]:]
		for x := 0; x < d.width; x++ {
			bar := ((x + offset) / barWidth) % len(bars)
			c := bars[bar]
			row[4*x] = c[0]
			row[4*x+1] = c[1]
			row[4*x+2] = c[2]
			row[4*x+3] = 255
		}
	}
}

func (d *simDecoder) fillLumaGradient(plane []byte, counter uint64) {
	for y := 0; y < d.height; y++ {
		row := plane[y*d.linesize[0]:]
		for x := 0; x < d.width; x++ {
			row[x] = byte(x + y + int(counter))
		}
	}
}

func alignStride(n int) int {
	return (n + simStrideAlign - 1) &^ (simStrideAlign - 1)
}
