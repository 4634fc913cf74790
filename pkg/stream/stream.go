// Package stream implements the guest output channels and the interceptor
// that turns their writes into line-sized events.
package stream

import (
	"bytes"
	"io"
	"sync"
)

// Writer is the sink behind a Channel.
type Writer interface {
	io.Writer
	Flush() error
}

// Discard is a Writer that drops everything.
var Discard Writer = discard{}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
func (discard) Flush() error                { return nil }

// NewWriter adapts an io.Writer. Flush is a no-op.
func NewWriter(w io.Writer) Writer {
	return plainWriter{w}
}

type plainWriter struct{ io.Writer }

func (plainWriter) Flush() error { return nil }

// Channel is a guest-visible output channel whose sink can be swapped.
type Channel struct {
	name string
	mu   sync.Mutex
	w    Writer
}

// NewChannel creates a channel writing to w. A nil w discards.
func NewChannel(name string, w Writer) *Channel {
	if w == nil {
		w = Discard
	}
	return &Channel{name: name, w: w}
}

// Name returns the channel name (stdout, stderr).
func (c *Channel) Name() string { return c.name }

// Swap installs w and returns the previous writer.
func (c *Channel) Swap(w Writer) Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.w
	c.w = w
	return prev
}

func (c *Channel) current() Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w
}

// Write forwards p to the current writer.
func (c *Channel) Write(p []byte) (int, error) {
	return c.current().Write(p)
}

// WriteString forwards s to the current writer.
func (c *Channel) WriteString(s string) (int, error) {
	return c.Write([]byte(s))
}

// Flush flushes the current writer.
func (c *Channel) Flush() error {
	return c.current().Flush()
}

// Interceptor buffers a channel's output and hands it to a callback on every
// line end or carriage return.
type Interceptor struct {
	ch      *Channel
	onFlush func(string)

	mu     sync.Mutex
	buf    bytes.Buffer
	prev   Writer
	closed bool
}

// Open swaps an interceptor into ch. Close must be called to restore the
// previous writer; use it with defer.
func Open(ch *Channel, onFlush func(string)) *Interceptor {
	i := &Interceptor{ch: ch, onFlush: onFlush}
	i.prev = ch.Swap(i)
	return i
}

// Write appends p to the buffer and flushes when p holds a line end.
func (i *Interceptor) Write(p []byte) (int, error) {
	i.mu.Lock()
	i.buf.Write(p)
	var text string
	if bytes.ContainsAny(p, "\n\r") {
		text = i.take()
	}
	i.mu.Unlock()
	if text != "" {
		i.onFlush(text)
	}
	return len(p), nil
}

// Flush hands the buffered text to the callback. An empty buffer is a no-op.
func (i *Interceptor) Flush() error {
	i.mu.Lock()
	text := i.take()
	i.mu.Unlock()
	if text != "" {
		i.onFlush(text)
	}
	return nil
}

// take empties the buffer. Callers hold mu.
func (i *Interceptor) take() string {
	if i.buf.Len() == 0 {
		return ""
	}
	text := i.buf.String()
	i.buf.Reset()
	return text
}

// Close flushes any partial line and restores the channel's previous writer.
// Closing twice is a no-op.
func (i *Interceptor) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	i.mu.Unlock()

	err := i.Flush()
	i.ch.Swap(i.prev)
	return err
}
