package pipeline

import (
	"errors"
	"fmt"

	"github.com/bryanchriswhite/DepthStreamer/internal/frame"
	"github.com/bryanchriswhite/DepthStreamer/internal/unproject"
)

// ErrBadFrameFormat marks depth/texture frames the unprojector cannot
// consume. Transient: the producer logs it and keeps running.
var ErrBadFrameFormat = errors.New("pipeline: unsupported frame format for unprojection")

// cloudBuffer is the point-cloud double buffer. front is the published
// instance consumers snapshot; back is producer-owned and mutated outside
// the lock. Roles swap by pointer exchange under the pipeline mutex.
type cloudBuffer struct {
	front *unproject.Cloud
	back  *unproject.Cloud
}

func newCloudBuffer() *cloudBuffer {
	return &cloudBuffer{front: &unproject.Cloud{}, back: &unproject.Cloud{}}
}

func (cb *cloudBuffer) free() {
	cb.front = &unproject.Cloud{}
	cb.back = &unproject.Cloud{}
}

// unprojectAndSwap validates the depth (and optional texture) frame,
// unprojects into the producer-side buffer, zero-fills the unused suffix
// and swaps the buffer roles under the lock. The unprojection math runs
// outside the lock; only the O(1) pointer swap blocks the consumer.
//
// Point clouds can reach hundreds of thousands of points, so the published
// buffer is never copied — only the role pointers are exchanged.
func (p *Pipeline) unprojectAndSwap(depth, texture *frame.Frame) error {
	if !depth.Format.IsDepth16() || depth.Linesize[0] < depth.Width*2 {
		return fmt.Errorf("%w: depth must be 16-bit gray16le/p010le/p016le, got %s",
			ErrBadFrameFormat, depth.Format)
	}

	in := unproject.Depth{
		DepthData:   depth.Data[0],
		Width:       depth.Width,
		Height:      depth.Height,
		DepthStride: depth.Linesize[0],
	}

	if texture != nil && texture.Data[0] != nil {
		if !texture.Format.IsTexture32() {
			return fmt.Errorf("%w: texture must be rgb0/rgba, got %s",
				ErrBadFrameFormat, texture.Format)
		}
		if texture.Width != depth.Width || texture.Height != depth.Height {
			return fmt.Errorf("%w: texture %dx%d does not match depth %dx%d",
				ErrBadFrameFormat, texture.Width, texture.Height, depth.Width, depth.Height)
		}
		in.TextureData = texture.Data[0]
		in.TextureStride = texture.Linesize[0]
	}

	// Reallocate only when the depth frame's pixel count changes.
	back := p.clouds.back
	if size := depth.Width * depth.Height; back.Size != size {
		back.Points = make([][3]float32, size)
		back.Colors = make([]uint32, size)
		back.Size = size
		back.Used = 0
	}

	p.unprojector.Unproject(in, back)

	// Zero the unused suffix so consumers may safely read the full
	// allocated range.
	for i := back.Used; i < back.Size; i++ {
		back.Points[i] = [3]float32{}
		back.Colors[i] = 0
	}

	p.mu.Lock()
	p.clouds.front, p.clouds.back = p.clouds.back, p.clouds.front
	p.mu.Unlock()

	metricCloudSwaps.Inc()
	metricCloudPoints.Set(float64(back.Used))
	return nil
}
