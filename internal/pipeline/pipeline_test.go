package pipeline

import (
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/DepthStreamer/internal/config"
	"github.com/bryanchriswhite/DepthStreamer/internal/decode"
	"github.com/bryanchriswhite/DepthStreamer/internal/frame"
	"github.com/bryanchriswhite/DepthStreamer/internal/unproject"
)

// fakeEngine plays back scripted results. It mimics the real engine's
// ownership contract: frames from the previous successful receive are
// released when the next receive hands out a new set.
type fakeEngine struct {
	results chan decode.Result
	timeout time.Duration

	last      []*frame.Frame
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newFakeEngine(timeout time.Duration) *fakeEngine {
	return &fakeEngine{
		results: make(chan decode.Result, 64),
		timeout: timeout,
		closeCh: make(chan struct{}),
	}
}

func (e *fakeEngine) push(res decode.Result) { e.results <- res }

func (e *fakeEngine) Receive() decode.Result {
	select {
	case res := <-e.results:
		if res.Status == decode.StatusOK {
			for _, f := range e.last {
				f.Release()
			}
			e.last = res.Frames
		}
		return res
	case <-e.closeCh:
		return decode.Result{Status: decode.StatusFatal, Err: fmt.Errorf("engine closed")}
	case <-time.After(e.timeout):
		return decode.Result{Status: decode.StatusTimeout}
	}
}

func (e *fakeEngine) Close() error {
	e.closeOnce.Do(func() {
		close(e.closeCh)
		for _, f := range e.last {
			f.Release()
		}
		e.last = nil
	})
	return nil
}

func (e *fakeEngine) Name() string { return "fake" }

// drain releases frames from results the producer never consumed, so leak
// assertions only see references the pipeline was responsible for.
func (e *fakeEngine) drain() {
	for {
		select {
		case res := <-e.results:
			for _, f := range res.Frames {
				f.Release()
			}
		default:
			return
		}
	}
}

// refTracker records every buffer handed to the pipeline so shutdown tests
// can assert zero outstanding references.
type refTracker struct {
	mu   sync.Mutex
	bufs []*frame.Buffer
}

func (tr *refTracker) track(b *frame.Buffer) *frame.Buffer {
	tr.mu.Lock()
	tr.bufs = append(tr.bufs, b)
	tr.mu.Unlock()
	return b
}

func (tr *refTracker) assertAllReleased(t *testing.T) {
	t.Helper()
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for i, b := range tr.bufs {
		assert.Equal(t, int32(0), b.Refs(), "buffer %d leaked", i)
	}
}

func depthFrame16(tr *refTracker, w, h int, sample uint16) *frame.Frame {
	stride := w * 2
	buf := tr.track(frame.NewBuffer([frame.NumPlanes]int{stride * h}))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			binary.LittleEndian.PutUint16(buf.Planes[0][y*stride+2*x:], sample)
		}
	}
	return frame.New(w, h, frame.FormatGray16LE, [frame.NumPlanes]int{stride}, buf)
}

func textureFrame(tr *refTracker, w, h int, marker byte) *frame.Frame {
	stride := w * 4
	buf := tr.track(frame.NewBuffer([frame.NumPlanes]int{stride * h}))
	for i := range buf.Planes[0] {
		buf.Planes[0][i] = marker
	}
	return frame.New(w, h, frame.FormatRGBA, [frame.NumPlanes]int{stride}, buf)
}

// markUnprojector scribbles over the whole output buffer and reports the
// depth frame's first sample as the used count, so tests can trace which
// input produced the published cloud and verify suffix zero-fill.
type markUnprojector struct{}

func (markUnprojector) Unproject(in unproject.Depth, out *unproject.Cloud) {
	for i := range out.Points {
		out.Points[i] = [3]float32{9, 9, 9}
		out.Colors[i] = 0xDEADBEEF
	}
	used := int(binary.LittleEndian.Uint16(in.DepthData))
	if used > out.Size {
		used = out.Size
	}
	out.Used = used
}

func (markUnprojector) Close() error { return nil }

func twoDecoders() []config.DecoderConfig {
	return []config.DecoderConfig{
		{Hardware: "fake", Codec: "hevc", PixelFormat: "gray16le"},
		{Hardware: "fake", Codec: "hevc", PixelFormat: "rgba"},
	}
}

func depthConfig() *config.DepthConfig {
	return &config.DepthConfig{PPX: 2, PPY: 2, FX: 100, FY: 100, DepthUnit: 0.001}
}

func newTestPipeline(t *testing.T, eng decode.Engine, depth *config.DepthConfig, up unproject.Unprojector) *Pipeline {
	t.Helper()
	p, err := New(Config{
		Decoders:    twoDecoders(),
		Depth:       depth,
		Engine:      eng,
		Unprojector: up,
	})
	require.NoError(t, err)
	return p
}

// waitForData polls Begin/End until a snapshot succeeds or the deadline
// hits. End always runs before any fatal assertion: aborting between Begin
// and End would leave the snapshot lock held and deadlock a deferred Close.
func waitForData(t *testing.T, p *Pipeline, frames []FrameView, cloud *CloudView) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		berr := p.Begin(frames, cloud)
		require.NoError(t, p.End())
		if berr == nil {
			return
		}
		require.ErrorIs(t, berr, ErrNoData)
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no data before deadline")
}

func TestNewRejectsBadDecoderCounts(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Decoders: make([]config.DecoderConfig, MaxDecoders+1)})
	assert.Error(t, err)
}

func TestNoDataBeforeFirstPublish(t *testing.T) {
	eng := newFakeEngine(20 * time.Millisecond)
	p := newTestPipeline(t, eng, nil, nil)
	defer p.Close()

	// End is still mandatory after NO_DATA and must not poison later calls
	frames := make([]FrameView, 2)
	err := p.BeginFrames(frames)
	require.NoError(t, p.EndFrames())
	require.ErrorIs(t, err, ErrNoData)

	err = p.BeginFrames(frames)
	require.NoError(t, p.EndFrames())
	require.ErrorIs(t, err, ErrNoData)
}

func TestSnapshotSeesPublishedFrames(t *testing.T) {
	tr := &refTracker{}
	eng := newFakeEngine(20 * time.Millisecond)
	p := newTestPipeline(t, eng, nil, nil)
	defer p.Close()

	eng.push(decode.Result{
		Status: decode.StatusOK,
		Frames: []*frame.Frame{
			depthFrame16(tr, 8, 4, 1234),
			textureFrame(tr, 8, 4, 0x55),
		},
	})

	frames := make([]FrameView, 2)
	waitForData(t, p, frames, nil)

	assert.Equal(t, 8, frames[0].Width)
	assert.Equal(t, 4, frames[0].Height)
	assert.Equal(t, frame.FormatGray16LE, frames[0].Format)
	assert.Equal(t, 16, frames[0].Linesize[0])
	require.NotNil(t, frames[0].Data[0])
	assert.Equal(t, uint16(1234), binary.LittleEndian.Uint16(frames[0].Data[0]))

	assert.Equal(t, frame.FormatRGBA, frames[1].Format)
	assert.Equal(t, byte(0x55), frames[1].Data[0][0])

	// End released the slots: with no new publish, the next Begin reports
	// no data again.
	err := p.BeginFrames(frames)
	assert.ErrorIs(t, err, ErrNoData)
	require.NoError(t, p.EndFrames())
}

func TestSnapshotNeverTorn(t *testing.T) {
	tr := &refTracker{}
	eng := newFakeEngine(5 * time.Millisecond)
	p := newTestPipeline(t, eng, nil, nil)

	stop := make(chan struct{})
	var feederDone sync.WaitGroup
	feederDone.Add(1)
	go func() {
		defer feederDone.Done()
		gen := uint16(0)
		for {
			select {
			case <-stop:
				return
			default:
			}
			gen++
			// width and pixel payload both encode the generation; a torn
			// snapshot would mix the two
			w := 4 + int(gen%8)*2
			eng.push(decode.Result{
				Status: decode.StatusOK,
				Frames: []*frame.Frame{depthFrame16(tr, w, 2, gen), nil},
			})
			time.Sleep(200 * time.Microsecond)
		}
	}()

	// drive until enough successful snapshots were checked, not for a
	// fixed wall-clock window; slow machines just take longer
	const wantChecked = 25
	frames := make([]FrameView, 2)
	deadline := time.Now().Add(10 * time.Second)
	checked := 0
	for checked < wantChecked && time.Now().Before(deadline) {
		berr := p.Begin(frames, nil)
		if berr == nil {
			fv := frames[0]
			gen := binary.LittleEndian.Uint16(fv.Data[0])
			assert.Equal(t, 4+int(gen%8)*2, fv.Width,
				"metadata inconsistent with plane payload")
			assert.Equal(t, fv.Width*2, fv.Linesize[0])
			checked++
		}
		require.NoError(t, p.End())
		if berr != nil {
			require.ErrorIs(t, berr, ErrNoData)
		}
	}
	require.Equal(t, wantChecked, checked, "stress loop starved of snapshots")

	close(stop)
	feederDone.Wait()
	require.NoError(t, p.Close())
	eng.drain()
	tr.assertAllReleased(t)
}

func TestSecondBeginBlocksUntilEnd(t *testing.T) {
	tr := &refTracker{}
	eng := newFakeEngine(20 * time.Millisecond)
	p := newTestPipeline(t, eng, nil, nil)
	defer p.Close()

	eng.push(decode.Result{
		Status: decode.StatusOK,
		Frames: []*frame.Frame{depthFrame16(tr, 4, 4, 1), nil},
	})

	// acquire a snapshot and keep it open
	frames := make([]FrameView, 2)
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := p.BeginFrames(frames)
		if err == nil {
			break
		}
		require.NoError(t, p.EndFrames())
		require.ErrorIs(t, err, ErrNoData)
		require.True(t, time.Now().Before(deadline), "no data before deadline")
		time.Sleep(time.Millisecond)
	}

	const hold = 100 * time.Millisecond
	acquired := make(chan time.Duration, 1)
	start := time.Now()
	go func() {
		e := p.BeginFrames(make([]FrameView, 2))
		acquired <- time.Since(start)
		_ = e
		p.EndFrames()
	}()

	time.Sleep(hold)
	require.NoError(t, p.EndFrames())

	select {
	case waited := <-acquired:
		assert.GreaterOrEqual(t, waited, hold-10*time.Millisecond,
			"second Begin must block until the pending End")
	case <-time.After(2 * time.Second):
		t.Fatal("second Begin never acquired the snapshot lock")
	}
}

func TestCloudSwapFollowsDepthFrames(t *testing.T) {
	tr := &refTracker{}
	eng := newFakeEngine(20 * time.Millisecond)
	p := newTestPipeline(t, eng, depthConfig(), markUnprojector{})
	defer p.Close()

	const w, h = 4, 4 // 16 points
	for marker := uint16(1); marker <= 5; marker++ {
		eng.push(decode.Result{
			Status: decode.StatusOK,
			Frames: []*frame.Frame{depthFrame16(tr, w, h, marker), nil},
		})
	}

	// The published cloud must converge on the last input frame's marker.
	// The suffix/prefix verification runs inside the open snapshot window
	// with non-fatal asserts only: a fatal abort between Begin and End
	// would leave the lock held and deadlock the deferred Close.
	var cloud CloudView
	deadline := time.Now().Add(2 * time.Second)
	lastUsed := 0
	verified := false
	for !verified && time.Now().Before(deadline) {
		berr := p.BeginCloud(&cloud)
		if berr == nil {
			assert.GreaterOrEqual(t, cloud.Used, lastUsed,
				"published clouds must advance in input order")
			lastUsed = cloud.Used
			if cloud.Used == 5 {
				assert.Equal(t, w*h, cloud.Size)
				// the used prefix keeps the unprojector's output
				for i := 0; i < cloud.Used; i++ {
					assert.Equal(t, uint32(0xDEADBEEF), cloud.Colors[i])
				}
				// zero-filled suffix: everything past Used reads as zero
				for i := cloud.Used; i < cloud.Size; i++ {
					assert.Equal(t, [3]float32{}, cloud.Points[i], "point %d not zeroed", i)
					assert.Equal(t, uint32(0), cloud.Colors[i], "color %d not zeroed", i)
				}
				verified = true
			}
		}
		require.NoError(t, p.EndCloud())
		if berr != nil {
			require.ErrorIs(t, berr, ErrNoData)
			time.Sleep(time.Millisecond)
		}
	}
	require.True(t, verified, "published cloud never reached the last input")
}

func TestBadDepthFormatLeavesCloudUntouched(t *testing.T) {
	tr := &refTracker{}
	eng := newFakeEngine(20 * time.Millisecond)
	p := newTestPipeline(t, eng, depthConfig(), markUnprojector{})
	defer p.Close()

	eng.push(decode.Result{
		Status: decode.StatusOK,
		Frames: []*frame.Frame{depthFrame16(tr, 4, 4, 3), nil},
	})

	var cloud CloudView
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		err := p.BeginCloud(&cloud)
		used := cloud.Used
		require.NoError(t, p.EndCloud())
		if err == nil && used == 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 3, cloud.Used)

	// an 8-bit layout in the depth slot is a transient error: the frame
	// is still published, the cloud is not
	eng.push(decode.Result{
		Status: decode.StatusOK,
		Frames: []*frame.Frame{textureFrame(tr, 4, 4, 0xAA), nil},
	})

	frames := make([]FrameView, 2)
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		err := p.Begin(frames, &cloud)
		ok := err == nil && frames[0].Format == frame.FormatRGBA
		require.NoError(t, p.End())
		if ok {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, frame.FormatRGBA, frames[0].Format, "rejected frame must still be published")
	assert.Equal(t, 3, cloud.Used, "rejected unprojection must not touch the published cloud")
}

func TestCloseWhileBlockedInReceive(t *testing.T) {
	eng := newFakeEngine(200 * time.Millisecond)
	p := newTestPipeline(t, eng, nil, nil)

	start := time.Now()
	require.NoError(t, p.Close())
	assert.Less(t, time.Since(start), time.Second,
		"Close must complete within roughly one receive timeout")

	// idempotent, and nil-safe
	require.NoError(t, p.Close())
	var nilP *Pipeline
	require.NoError(t, nilP.Close())
}

func TestShutdownReleasesAllBuffers(t *testing.T) {
	tr := &refTracker{}
	eng := newFakeEngine(20 * time.Millisecond)
	p := newTestPipeline(t, eng, depthConfig(), markUnprojector{})

	for marker := uint16(1); marker <= 4; marker++ {
		eng.push(decode.Result{
			Status: decode.StatusOK,
			Frames: []*frame.Frame{
				depthFrame16(tr, 4, 4, marker),
				textureFrame(tr, 4, 4, byte(marker)),
			},
		})
	}

	frames := make([]FrameView, 2)
	waitForData(t, p, frames, nil)

	require.NoError(t, p.Close())
	eng.drain()
	tr.assertAllReleased(t)
}

func TestFatalErrorStopsProducerButHandleSurvives(t *testing.T) {
	tr := &refTracker{}
	eng := newFakeEngine(20 * time.Millisecond)
	p := newTestPipeline(t, eng, nil, nil)

	eng.push(decode.Result{
		Status: decode.StatusOK,
		Frames: []*frame.Frame{depthFrame16(tr, 4, 4, 7), nil},
	})
	frames := make([]FrameView, 2)
	waitForData(t, p, frames, nil)

	eng.push(decode.Result{Status: decode.StatusFatal, Err: fmt.Errorf("link lost")})

	require.Eventually(t, func() bool { return p.Err() != nil },
		2*time.Second, time.Millisecond, "producer should record the fatal error")

	// the handle stays snapshottable; End surfaces the terminal error
	berr := p.BeginFrames(frames)
	err := p.EndFrames()
	require.ErrorIs(t, berr, ErrNoData)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "link lost")

	require.NoError(t, p.Close())
	tr.assertAllReleased(t)
}

func TestEndWithoutBeginIsUsageError(t *testing.T) {
	eng := newFakeEngine(20 * time.Millisecond)
	p := newTestPipeline(t, eng, nil, nil)
	defer p.Close()

	assert.ErrorIs(t, p.End(), ErrClosed)

	var nilP *Pipeline
	assert.ErrorIs(t, nilP.Begin(nil, nil), ErrClosed)
	assert.ErrorIs(t, nilP.End(), ErrClosed)
}
