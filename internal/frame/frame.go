// Package frame models decoded video frames: pixel formats, plane strides
// and reference-counted plane storage. Frames are shallow descriptors over
// a shared Buffer; Retain/Release manage the underlying storage, never the
// pixel payload.
package frame

// Frame is a decoded video frame. Width/height/format describe the pixel
// layout, Data points into the backing buffer's planes and Linesize holds
// per-plane strides (row length including padding).
//
// A Frame does not own its pixels exclusively: holders coordinate through
// the buffer's reference count. The plane contents must be treated as
// read-only by everyone except the producer that currently holds the only
// reference.
type Frame struct {
	Width    int
	Height   int
	Format   PixelFormat
	Data     [NumPlanes][]byte
	Linesize [NumPlanes]int

	buf *Buffer
}

// New wraps buf in a frame descriptor. The frame shares buf's reference
// count; the caller's reference transfers to the returned frame.
func New(width, height int, format PixelFormat, linesize [NumPlanes]int, buf *Buffer) *Frame {
	f := &Frame{
		Width:    width,
		Height:   height,
		Format:   format,
		Linesize: linesize,
		buf:      buf,
	}
	if buf != nil {
		f.Data = buf.Planes
	}
	return f
}

// Retain acquires an additional reference to the backing buffer and
// returns a descriptor that may outlive the original.
func (f *Frame) Retain() *Frame {
	if f == nil {
		return nil
	}
	if f.buf != nil {
		f.buf.Retain()
	}
	cp := *f
	return &cp
}

// Release drops the frame's reference to the backing buffer. Safe on nil.
func (f *Frame) Release() {
	if f == nil || f.buf == nil {
		return
	}
	f.buf.Release()
	f.buf = nil
	f.Data = [NumPlanes][]byte{}
}

// Buffer exposes the backing storage for leak checks in tests.
func (f *Frame) Buffer() *Buffer {
	if f == nil {
		return nil
	}
	return f.buf
}
