package domain

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// ErrStreamDiscarded is returned to a producer whose consumer went away.
var ErrStreamDiscarded = errors.New("stream discarded")

// Stream is an ordered, single-consumer sequence of frames.
//
// Read returns io.EOF after the terminal frame has been delivered. A Read that
// fails because ctx ended never consumes a frame. Discard abandons the stream
// and releases every frame it still holds.
type Stream interface {
	Read(ctx context.Context) (Frame, error)
	Discard()
}

// Pipe is a channel-backed stream fed by a single producer.
type Pipe struct {
	frames chan Frame
	done   chan struct{}
	failed chan struct{}

	discardOnce sync.Once
	failOnce    sync.Once
	err         error

	eof bool
}

// NewPipe returns a pipe that holds up to size unread frames.
func NewPipe(size int) *Pipe {
	return &Pipe{
		frames: make(chan Frame, size),
		done:   make(chan struct{}),
		failed: make(chan struct{}),
	}
}

// Write hands f to the consumer. On error the pipe releases f.
func (p *Pipe) Write(ctx context.Context, f Frame) error {
	select {
	case <-p.done:
		f.Release()
		return ErrStreamDiscarded
	default:
	}

	select {
	case p.frames <- f:
	case <-p.done:
		f.Release()
		return ErrStreamDiscarded
	case <-ctx.Done():
		f.Release()
		return ctx.Err()
	}

	// The consumer may have discarded while the send raced with it.
	select {
	case <-p.done:
		p.drain()
		return ErrStreamDiscarded
	default:
	}
	return nil
}

// Fail ends the stream with err after the frames already written.
func (p *Pipe) Fail(err error) {
	p.failOnce.Do(func() {
		p.err = err
		close(p.failed)
	})
}

// Read implements Stream.
func (p *Pipe) Read(ctx context.Context) (Frame, error) {
	if p.eof {
		return nil, io.EOF
	}

	select {
	case f := <-p.frames:
		return p.accept(f), nil
	default:
	}

	select {
	case f := <-p.frames:
		return p.accept(f), nil
	case <-p.failed:
		select {
		case f := <-p.frames:
			return p.accept(f), nil
		default:
		}
		return nil, p.err
	case <-p.done:
		return nil, ErrStreamDiscarded
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pipe) accept(f Frame) Frame {
	if f.Terminal() {
		p.eof = true
	}
	return f
}

// Discard implements Stream.
func (p *Pipe) Discard() {
	p.discardOnce.Do(func() {
		close(p.done)
	})
	p.drain()
}

// Done is closed once the consumer has discarded the pipe.
func (p *Pipe) Done() <-chan struct{} {
	return p.done
}

func (p *Pipe) drain() {
	for {
		select {
		case f := <-p.frames:
			f.Release()
		default:
			return
		}
	}
}

// sliceStream replays a fixed sequence of frames.
type sliceStream struct {
	mu     sync.Mutex
	frames []Frame
	eof    bool
}

// FromFrames returns a stream yielding frames in order. Ownership of the
// frames moves to the stream.
func FromFrames(frames ...Frame) Stream {
	return &sliceStream{frames: frames}
}

func (s *sliceStream) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eof || len(s.frames) == 0 {
		return nil, io.EOF
	}
	f := s.frames[0]
	s.frames[0] = nil
	s.frames = s.frames[1:]
	if f.Terminal() {
		s.eof = true
	}
	return f, nil
}

func (s *sliceStream) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.frames {
		f.Release()
	}
	s.frames = nil
	s.eof = true
}

// ReadAll drains s, releasing every frame, and returns the concatenated
// content and the trailing metadata if the stream ended with trailers.
func ReadAll(ctx context.Context, s Stream) ([]byte, Headers, error) {
	var buf bytes.Buffer
	for {
		f, err := s.Read(ctx)
		if err == io.EOF {
			return buf.Bytes(), nil, nil
		}
		if err != nil {
			s.Discard()
			return buf.Bytes(), nil, err
		}
		switch f := f.(type) {
		case *Content:
			buf.Write(f.Data)
		case *Trailers:
			md := f.Metadata
			f.Release()
			return buf.Bytes(), md, nil
		}
		f.Release()
		if f.Terminal() {
			return buf.Bytes(), nil, nil
		}
	}
}
