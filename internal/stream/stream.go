// Package stream frames the primary output channel and captures a copy of
// everything the engine writes. The engine only needs "can accept bytes",
// so every sink here is a plain io.Writer; framing and capture are
// independent sinks composed through an ordered fan-out.
package stream

import (
	"bytes"
	"io"
)

// Markers framing one generation on the primary channel. The parent process
// splits the stream on these exact lines.
const (
	StartMarker = "[LLM_STREAM_START]"
	EndMarker   = "[LLM_STREAM_END]"
)

// FrameWriter wraps the primary channel. The first non-empty write emits
// the start marker exactly once before any content; End emits the end
// marker exactly once, and only if something was written. A session that
// never writes produces no markers at all. Every write is followed by the
// flush callback (if any) because the parent consumes tokens incrementally.
type FrameWriter struct {
	w       io.Writer
	flush   func()
	started bool
}

// NewFrameWriter wraps w. flush may be nil for unbuffered destinations.
func NewFrameWriter(w io.Writer, flush func()) *FrameWriter {
	return &FrameWriter{w: w, flush: flush}
}

func (f *FrameWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if !f.started {
		if _, err := io.WriteString(f.w, StartMarker+"\n"); err != nil {
			return 0, err
		}
		f.started = true
	}
	n, err := f.w.Write(p)
	if f.flush != nil {
		f.flush()
	}
	return n, err
}

// Started reports whether the start marker has been emitted.
func (f *FrameWriter) Started() bool { return f.started }

// End closes the frame. It is a no-op when nothing was written.
func (f *FrameWriter) End() error {
	if !f.started {
		return nil
	}
	f.started = false
	if _, err := io.WriteString(f.w, EndMarker+"\n"); err != nil {
		return err
	}
	if f.flush != nil {
		f.flush()
	}
	return nil
}

// Capture accumulates a verbatim copy of every byte written, independent of
// framing, for the post-completion diagnostic event.
type Capture struct {
	buf bytes.Buffer
}

func (c *Capture) Write(p []byte) (int, error) { return c.buf.Write(p) }

// String returns everything captured so far.
func (c *Capture) String() string { return c.buf.String() }

// Len returns the number of captured bytes.
func (c *Capture) Len() int { return c.buf.Len() }

// Fanout forwards each write to an ordered set of downstream sinks. A short
// write or error from any sink stops the forwarding and is returned to the
// caller.
type Fanout struct {
	sinks []io.Writer
}

// NewFanout composes sinks in forwarding order.
func NewFanout(sinks ...io.Writer) *Fanout {
	return &Fanout{sinks: sinks}
}

func (t *Fanout) Write(p []byte) (int, error) {
	for _, s := range t.sinks {
		n, err := s.Write(p)
		if err != nil {
			return n, err
		}
		if n != len(p) {
			return n, io.ErrShortWrite
		}
	}
	return len(p), nil
}
