// Package replay captures a size-bounded, replayable copy of a frame stream
// while the stream is consumed live.
package replay

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/vietddude/streamretry/internal/core/domain"
)

// ErrNotReplayable is returned by Snapshot when the buffer overflowed, was
// released, or has not yet observed the terminal frame.
var ErrNotReplayable = errors.New("stream is not replayable")

// Buffer tees a source stream: frames read through it are delivered in order
// to the live consumer while a handle on each is retained, up to capacity
// content bytes. Once the capacity is exceeded the buffer overflows for good
// and every later frame is forwarded without being retained.
//
// Read and Fill share a single reader slot, so the source only ever has one
// reader at a time.
type Buffer struct {
	source     domain.Stream
	capacity   int
	onOverflow func()

	slot chan struct{}

	mu         sync.Mutex
	retained   []domain.Frame
	pending    []domain.Frame
	size       int
	overflowed bool
	complete   bool
	released   bool
	srcDone    bool
	detached   bool
}

// New wraps source in a buffer of capacity bytes. onOverflow, if non-nil, is
// called once, the first time the buffer overflows.
func New(source domain.Stream, capacity int, onOverflow func()) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{
		source:     source,
		capacity:   capacity,
		onOverflow: onOverflow,
		slot:       make(chan struct{}, 1),
	}
}

// Read returns the next frame for the live consumer. Frames queued by Fill
// are delivered first.
func (b *Buffer) Read(ctx context.Context) (domain.Frame, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.release()

	b.mu.Lock()
	if b.detached {
		b.mu.Unlock()
		return nil, domain.ErrStreamDiscarded
	}
	if len(b.pending) > 0 {
		f := b.pending[0]
		b.pending[0] = nil
		b.pending = b.pending[1:]
		b.mu.Unlock()
		return f, nil
	}
	if b.srcDone {
		b.mu.Unlock()
		return nil, io.EOF
	}
	b.mu.Unlock()

	f, err := b.source.Read(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.capture(f)
	b.mu.Unlock()
	return f, nil
}

// Fill reads the source until its terminal frame or until the buffer
// overflows. Frames read by Fill are queued for the live consumer. Fill
// returns nil in both cases; callers tell them apart with Complete and
// Overflowed.
func (b *Buffer) Fill(ctx context.Context) error {
	if err := b.acquire(ctx); err != nil {
		return err
	}
	defer b.release()

	for {
		b.mu.Lock()
		done := b.complete || b.overflowed || b.srcDone || b.released
		b.mu.Unlock()
		if done {
			return nil
		}

		f, err := b.source.Read(ctx)
		if err != nil {
			if err == io.EOF {
				b.mu.Lock()
				b.srcDone = true
				b.mu.Unlock()
				return nil
			}
			return err
		}

		b.mu.Lock()
		b.capture(f)
		if b.detached {
			b.mu.Unlock()
			f.Release()
			continue
		}
		b.pending = append(b.pending, f)
		b.mu.Unlock()
	}
}

// capture retains a handle on f if the buffer still has room. Must be called
// with mu held.
func (b *Buffer) capture(f domain.Frame) {
	if f.Terminal() {
		b.srcDone = true
	}
	if b.overflowed || b.released {
		return
	}
	if b.size+f.Size() > b.capacity {
		b.overflowed = true
		if b.onOverflow != nil {
			b.onOverflow()
		}
		return
	}
	b.size += f.Size()
	b.retained = append(b.retained, f.Retain())
	if f.Terminal() {
		b.complete = true
	}
}

// Snapshot returns an independent stream over the retained frames. It fails
// with ErrNotReplayable unless the whole source fit in the buffer.
func (b *Buffer) Snapshot() (domain.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.overflowed || b.released || !b.complete {
		return nil, ErrNotReplayable
	}
	frames := make([]domain.Frame, len(b.retained))
	for i, f := range b.retained {
		frames[i] = f.Retain()
	}
	return domain.FromFrames(frames...), nil
}

// Trailers returns the trailing metadata of a complete buffer, if the source
// ended with a trailers frame.
func (b *Buffer) Trailers() (domain.Headers, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.complete || len(b.retained) == 0 {
		return nil, false
	}
	if t, ok := b.retained[len(b.retained)-1].(*domain.Trailers); ok {
		return t.Metadata, true
	}
	return nil, false
}

// Overflowed reports whether the source exceeded the capacity.
func (b *Buffer) Overflowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflowed
}

// Complete reports whether the terminal frame was retained.
func (b *Buffer) Complete() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.complete
}

// Size returns the retained content bytes.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Release stops retaining and drops the retained handles. The live consumer
// keeps reading the source as plain pass-through.
func (b *Buffer) Release() {
	b.mu.Lock()
	retained := b.retained
	b.retained = nil
	b.released = true
	b.mu.Unlock()

	for _, f := range retained {
		f.Release()
	}
}

// Discard implements domain.Stream: it releases everything the buffer holds
// and discards the source.
func (b *Buffer) Discard() {
	b.Release()

	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.srcDone = true
	b.mu.Unlock()

	for _, f := range pending {
		f.Release()
	}
	b.source.Discard()
}

// Live returns the consumer-facing view of the buffer. Discarding it ends
// the live consumer without touching the retained copy or the source, so a
// later Fill can still complete the capture.
func (b *Buffer) Live() domain.Stream {
	return live{b}
}

type live struct{ b *Buffer }

func (l live) Read(ctx context.Context) (domain.Frame, error) { return l.b.Read(ctx) }

func (l live) Discard() { l.b.detach() }

func (b *Buffer) detach() {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.detached = true
	b.mu.Unlock()

	for _, f := range pending {
		f.Release()
	}
}

func (b *Buffer) acquire(ctx context.Context) error {
	select {
	case b.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Buffer) release() {
	<-b.slot
}
