package preview

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/jpeg"
	"math"
	"time"

	"github.com/bryanchriswhite/DepthStreamer/internal/pipeline"
)

// renderLoop snapshots the pipeline at the configured rate, encodes the
// selected decoder slot as JPEG and fans it out to stream clients.
//
// The pixel copy into an RGBA image happens inside the snapshot window
// (the view's plane memory is only valid until End); scaling and JPEG
// encoding run afterwards so the producer is not blocked by them.
func (s *Server) renderLoop() {
	defer close(s.done)

	interval := time.Second / time.Duration(s.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	frames := make([]pipeline.FrameView, pipeline.MaxDecoders)
	var cloud pipeline.CloudView

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		berr := s.pipe.Begin(frames, &cloud)
		var img *image.RGBA
		cloudPoints := 0
		if berr == nil {
			if v := frames[s.cfg.Slot]; v.Data[0] != nil {
				img = frameToRGBA(v)
			}
			cloudPoints = cloud.Used
		}
		if err := s.pipe.End(); err != nil {
			s.log.Error().Err(err).Msg("pipeline unhealthy, render loop stopping")
			return
		}
		if img == nil {
			continue
		}

		scaled := scaleRGBA(img, s.cfg.Width, s.cfg.Height)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: s.cfg.JPEGQuality}); err != nil {
			s.log.Warn().Err(err).Msg("jpeg encode failed")
			continue
		}
		jpg := buf.Bytes()

		s.mu.Lock()
		s.stats.FramesRendered++
		s.stats.CloudPoints = cloudPoints
		s.stats.LastFrame = time.Now()
		for ch := range s.clients {
			select {
			case ch <- jpg:
			default:
				s.stats.DroppedSends++
			}
		}
		s.mu.Unlock()
	}
}

// encodeCloud packs the used prefix of a cloud view into a little-endian
// binary payload: uint32 used, uint32 size, then used records of
// x, y, z float32 plus a packed RGBA color.
func encodeCloud(c *pipeline.CloudView) []byte {
	buf := make([]byte, 8+16*c.Used)
	binary.LittleEndian.PutUint32(buf[0:], uint32(c.Used))
	binary.LittleEndian.PutUint32(buf[4:], uint32(c.Size))
	off := 8
	for i := 0; i < c.Used; i++ {
		p := c.Points[i]
		binary.LittleEndian.PutUint32(buf[off+0:], math.Float32bits(p[0]))
		binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(p[1]))
		binary.LittleEndian.PutUint32(buf[off+8:], math.Float32bits(p[2]))
		binary.LittleEndian.PutUint32(buf[off+12:], c.Colors[i])
		off += 16
	}
	return buf
}
