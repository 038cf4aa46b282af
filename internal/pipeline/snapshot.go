package pipeline

import "github.com/bryanchriswhite/DepthStreamer/internal/frame"

// FrameView is a shallow, read-only view of one decoder slot. Data aliases
// producer-owned plane memory and is valid only until the matching End
// call; callers must not retain it past End.
type FrameView struct {
	Width    int
	Height   int
	Format   frame.PixelFormat
	Data     [frame.NumPlanes][]byte
	Linesize [frame.NumPlanes]int
}

// CloudView is a shallow view of the published point cloud. Points/Colors
// alias the published buffer and are valid only until the matching End
// call. Entries [Used, Size) are zero-filled, so the full range is safe to
// read.
type CloudView struct {
	Points   [][3]float32
	Colors   []uint32
	Size     int
	Used     int
	Position [3]float32
	Rotation [4]float32
}

// Begin opens a snapshot: it acquires the shared lock and fills the
// caller's descriptors with shallow views of the frame store and, when
// unprojection is enabled and cloud is non-nil, the published point cloud.
//
// If no decoder slot has published yet, Begin returns ErrNoData — with the
// lock still held. Every Begin must therefore be paired with exactly one
// End, regardless of Begin's result. The lock enforces at most one open
// snapshot at a time; a second Begin blocks until the pending End.
//
// frames may be nil (cloud-only retrieval) and is filled per slot up to
// its length. cloud may be nil (frame-only retrieval).
func (p *Pipeline) Begin(frames []FrameView, cloud *CloudView) error {
	if p == nil || p.closed.Load() {
		return ErrClosed
	}

	p.mu.Lock()
	p.snapOpen.Store(true)

	if !p.store.anyData() {
		metricSnapshots.WithLabelValues("no_data").Inc()
		return ErrNoData
	}

	if frames != nil {
		p.store.snapshot(frames)
	}
	if cloud != nil && p.clouds != nil {
		front := p.clouds.front
		*cloud = CloudView{
			Points:   front.Points,
			Colors:   front.Colors,
			Size:     front.Size,
			Used:     front.Used,
			Position: front.Position,
			Rotation: front.Rotation,
		}
	}

	metricSnapshots.WithLabelValues("ok").Inc()
	return nil
}

// End closes a snapshot: it releases every slot's frame reference (so the
// underlying buffers can be reclaimed or rewritten) and unlocks. It must
// be called exactly once per Begin, including after ErrNoData.
//
// A non-nil error with the pipeline otherwise healthy means End was called
// without a matching Begin. After the producer has died, End returns the
// terminal error; the caller should Close and possibly reinitialize.
func (p *Pipeline) End() error {
	if p == nil {
		return ErrClosed
	}
	if !p.snapOpen.Swap(false) {
		return ErrClosed
	}

	p.store.releaseAll()
	p.mu.Unlock()

	return p.Err()
}

// BeginFrames opens a frame-only snapshot. See Begin.
func (p *Pipeline) BeginFrames(frames []FrameView) error {
	return p.Begin(frames, nil)
}

// EndFrames closes a frame-only snapshot. See End.
func (p *Pipeline) EndFrames() error {
	return p.End()
}

// BeginCloud opens a point-cloud-only snapshot. See Begin.
func (p *Pipeline) BeginCloud(cloud *CloudView) error {
	return p.Begin(nil, cloud)
}

// EndCloud closes a point-cloud-only snapshot. See End.
func (p *Pipeline) EndCloud() error {
	return p.End()
}
