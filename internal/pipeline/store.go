package pipeline

import "github.com/bryanchriswhite/DepthStreamer/internal/frame"

// frameStore owns the most recently decoded frame per decoder slot. A nil
// slot entry is the "no data" sentinel: either nothing was ever published
// there, or the consumer's last End released it.
//
// All methods are called with the pipeline mutex held.
type frameStore struct {
	slots []*frame.Frame
}

func newFrameStore(n int) *frameStore {
	return &frameStore{slots: make([]*frame.Frame, n)}
}

// publish takes a reference to a freshly decoded frame, replacing the
// slot's prior occupant (whose reference is released).
func (s *frameStore) publish(slot int, f *frame.Frame) {
	old := s.slots[slot]
	s.slots[slot] = f.Retain()
	old.Release()
}

// anyData reports whether any slot currently holds a frame.
func (s *frameStore) anyData() bool {
	for _, f := range s.slots {
		if f != nil && f.Data[0] != nil {
			return true
		}
	}
	return false
}

// snapshot copies per-slot metadata (dimensions, format, plane pointers,
// strides — never pixel payload) into the caller's descriptors. Empty
// slots produce zeroed descriptors. Returns whether any slot had data.
func (s *frameStore) snapshot(out []FrameView) bool {
	any := false
	n := len(s.slots)
	if len(out) < n {
		n = len(out)
	}
	for i := 0; i < n; i++ {
		f := s.slots[i]
		if f == nil || f.Data[0] == nil {
			out[i] = FrameView{}
			continue
		}
		out[i] = FrameView{
			Width:    f.Width,
			Height:   f.Height,
			Format:   f.Format,
			Data:     f.Data,
			Linesize: f.Linesize,
		}
		any = true
	}
	return any
}

// releaseAll drops every slot's frame reference and resets the slots to
// the "no data" sentinel. Safe on already-empty slots.
func (s *frameStore) releaseAll() {
	for i, f := range s.slots {
		f.Release()
		s.slots[i] = nil
	}
}
