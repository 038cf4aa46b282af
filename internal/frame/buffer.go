package frame

import (
	"sync"
	"sync/atomic"
)

// NumPlanes is the maximum number of planes for planar image formats.
const NumPlanes = 3

// Buffer is reference-counted plane storage shared between the decode
// engine and the frame store. The decode engine retains a reference while
// it may still rewrite the planes; the frame store retains one per occupied
// slot. When the last reference is released the buffer returns to its pool
// (if any) for reuse.
type Buffer struct {
	Planes [NumPlanes][]byte

	refs atomic.Int32
	pool *Pool
}

// NewBuffer allocates an unpooled buffer with one outstanding reference.
func NewBuffer(sizes [NumPlanes]int) *Buffer {
	b := &Buffer{}
	for i, n := range sizes {
		if n > 0 {
			b.Planes[i] = make([]byte, n)
		}
	}
	b.refs.Store(1)
	return b
}

// Retain acquires an additional reference.
func (b *Buffer) Retain() *Buffer {
	b.refs.Add(1)
	return b
}

// Release drops one reference. When the count reaches zero the buffer is
// handed back to its pool. Releasing below zero indicates a begin/end
// pairing bug and panics rather than silently corrupting reuse.
func (b *Buffer) Release() {
	n := b.refs.Add(-1)
	if n < 0 {
		panic("frame: buffer released more times than retained")
	}
	if n == 0 && b.pool != nil {
		b.pool.put(b)
	}
}

// Refs returns the current reference count. Intended for tests and
// shutdown leak checks.
func (b *Buffer) Refs() int32 {
	return b.refs.Load()
}

// Pool recycles buffers of a single plane-size shape.
type Pool struct {
	sizes [NumPlanes]int
	p     sync.Pool
}

// NewPool creates a pool producing buffers with the given plane sizes.
func NewPool(sizes [NumPlanes]int) *Pool {
	pl := &Pool{sizes: sizes}
	pl.p.New = func() any {
		b := NewBuffer(sizes)
		b.pool = pl
		b.refs.Store(0)
		return b
	}
	return pl
}

// Get returns a buffer with one outstanding reference. Plane contents are
// whatever the previous user left behind; callers overwrite what they use.
func (pl *Pool) Get() *Buffer {
	b := pl.p.Get().(*Buffer)
	b.refs.Store(1)
	return b
}

func (pl *Pool) put(b *Buffer) {
	pl.p.Put(b)
}
