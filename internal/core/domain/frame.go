package domain

import (
	"sync"
	"sync/atomic"
)

// Frame is one unit of a message body: either a *Content chunk or a
// terminal *Trailers block.
//
// A Frame value is a handle on a payload. Each handle must be released
// exactly once by whoever owns it; Retain returns an extra handle on the same
// payload. The payload's release hook runs when its last handle is released.
type Frame interface {
	// Terminal reports whether this frame ends its stream.
	Terminal() bool
	// Size is the number of content bytes the frame carries.
	Size() int
	// Retain returns a new handle sharing this frame's payload.
	Retain() Frame
	// Release gives up this handle. Releasing twice is a no-op.
	Release()
}

// refCount tracks the live handles of one payload.
type refCount struct {
	n         atomic.Int32
	onRelease func()
}

func newRefCount(onRelease func()) *refCount {
	if onRelease == nil {
		return nil
	}
	rc := &refCount{onRelease: onRelease}
	rc.n.Store(1)
	return rc
}

// handle is embedded by every frame type.
type handle struct {
	rc   *refCount
	once sync.Once
}

func (h *handle) retain() *refCount {
	if h.rc != nil {
		h.rc.n.Add(1)
	}
	return h.rc
}

// Release implements Frame.
func (h *handle) Release() {
	h.once.Do(func() {
		if h.rc != nil && h.rc.n.Add(-1) == 0 {
			h.rc.onRelease()
		}
	})
}

// Content carries a chunk of body bytes. Data must not be modified once the
// frame has been handed to a stream.
type Content struct {
	handle
	Data  []byte
	Final bool
}

// NewContent returns a content frame. onRelease, if non-nil, runs once all
// handles on the frame have been released.
func NewContent(data []byte, final bool, onRelease func()) *Content {
	return &Content{handle: handle{rc: newRefCount(onRelease)}, Data: data, Final: final}
}

// Terminal implements Frame.
func (c *Content) Terminal() bool { return c.Final }

// Size implements Frame.
func (c *Content) Size() int { return len(c.Data) }

// Retain implements Frame.
func (c *Content) Retain() Frame {
	return &Content{handle: handle{rc: c.retain()}, Data: c.Data, Final: c.Final}
}

// Trailers is the trailing metadata that terminates a stream.
type Trailers struct {
	handle
	Metadata Headers
}

// NewTrailers returns a trailers frame.
func NewTrailers(md Headers, onRelease func()) *Trailers {
	return &Trailers{handle: handle{rc: newRefCount(onRelease)}, Metadata: md}
}

// Terminal implements Frame.
func (t *Trailers) Terminal() bool { return true }

// Size implements Frame. Trailers carry no content bytes.
func (t *Trailers) Size() int { return 0 }

// Retain implements Frame.
func (t *Trailers) Retain() Frame {
	return &Trailers{handle: handle{rc: t.retain()}, Metadata: t.Metadata}
}
