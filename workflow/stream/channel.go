// Package stream provides the per-run output channel and the process-wide
// registry used to attach HTTP readers to runs that are still in progress.
package stream

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
)

// ErrChannelClosed is returned by Append and Close once a channel has been
// closed. Appending after close is a programming error in the producer.
var ErrChannelClosed = errors.New("stream: channel closed")

// Chunk is one unit of run output.
//
// Index is assigned by the Channel at append time. Indices start at 0 and are
// contiguous for the lifetime of a run; a chunk never changes once appended.
type Chunk struct {
	// Index is the zero-based sequence number of this chunk within its run.
	Index int64

	// Payload is the opaque value written by the workflow step.
	// The stream bridge encodes it as JSON.
	Payload any
}

// Channel is an append-only, offset-addressable buffer of chunks for one run.
//
// A Channel has a single producer (the step currently executing) and any
// number of consumers. Every consumer sees the full sequence from the offset
// it asked for, independent of other consumers:
//
//	ch := stream.NewChannel("run-001")
//	sub := ch.Subscribe(0)
//	defer sub.Close()
//
//	go func() {
//	    ch.Append("He")
//	    ch.Append("llo")
//	    ch.Close()
//	}()
//
//	for {
//	    chunk, err := sub.Next(ctx)
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
//
// Chunks are retained until the Channel itself is garbage collected; there is
// no eviction while a run is registered.
type Channel struct {
	runID string

	mu     sync.Mutex
	chunks []Chunk
	closed bool

	// wake is closed and replaced on every append and on close so that all
	// waiting readers observe the change.
	wake chan struct{}

	subscribers int
	onDetach    func(remaining int)
}

// NewChannel creates an open, empty channel for the given run.
func NewChannel(runID string) *Channel {
	return &Channel{
		runID: runID,
		wake:  make(chan struct{}),
	}
}

// RunID returns the identifier of the run that owns this channel.
func (c *Channel) RunID() string {
	return c.runID
}

// Append stores payload as the next chunk and wakes any waiting reader.
//
// Returns the index assigned to the chunk, or ErrChannelClosed when the
// channel has already been closed.
func (c *Channel) Append(payload any) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrChannelClosed
	}

	idx := int64(len(c.chunks))
	c.chunks = append(c.chunks, Chunk{Index: idx, Payload: payload})
	c.broadcastLocked()
	return idx, nil
}

// Close marks the end of the stream. Readers drain what is buffered from
// their offset and then receive io.EOF.
//
// Close reports ErrChannelClosed when called more than once so callers can
// enforce exactly-once closing.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}
	c.closed = true
	c.broadcastLocked()
	return nil
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Len returns the number of chunks appended so far.
func (c *Channel) Len() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.chunks))
}

// Subscribers returns the number of attached, not yet closed subscriptions.
func (c *Channel) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribers
}

// Subscribe attaches a reader starting at offset from. Negative offsets are
// treated as 0. An offset past the end waits for new chunks, or ends
// immediately once the channel is closed.
//
// The returned Subscription must be closed to detach it.
func (c *Channel) Subscribe(from int64) *Subscription {
	if from < 0 {
		from = 0
	}

	c.mu.Lock()
	c.subscribers++
	c.mu.Unlock()

	return &Subscription{ch: c, next: from}
}

// Chunks returns a lazy sequence of chunks from offset from. The sequence
// ends after the channel closes and the buffer is drained. A non-EOF error
// (context cancellation) is yielded once as the final element.
//
//	for chunk, err := range ch.Chunks(ctx, 0) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(chunk.Payload)
//	}
func (c *Channel) Chunks(ctx context.Context, from int64) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		sub := c.Subscribe(from)
		defer sub.Close()

		for {
			chunk, err := sub.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Chunk{}, err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// setDetachHook installs a callback invoked after a subscription detaches.
// The registry uses it to release closed runs once their last reader leaves.
func (c *Channel) setDetachHook(fn func(remaining int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDetach = fn
}

func (c *Channel) broadcastLocked() {
	close(c.wake)
	c.wake = make(chan struct{})
}

// read returns the chunk at idx if present, otherwise a channel that is
// signalled on the next append or close.
func (c *Channel) read(idx int64) (chunk Chunk, ok bool, closed bool, wait <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx < int64(len(c.chunks)) {
		return c.chunks[idx], true, c.closed, nil
	}
	return Chunk{}, false, c.closed, c.wake
}

func (c *Channel) detach() {
	c.mu.Lock()
	c.subscribers--
	remaining := c.subscribers
	hook := c.onDetach
	c.mu.Unlock()

	if hook != nil {
		hook(remaining)
	}
}

// Subscription is one reader's cursor into a Channel.
//
// A Subscription is not safe for concurrent use by multiple goroutines; each
// reader owns its own.
type Subscription struct {
	ch   *Channel
	next int64

	closeOnce sync.Once
	closed    bool
}

// Next blocks until the chunk at the subscription's offset is available and
// returns it, advancing the offset.
//
// Returns io.EOF after the channel is closed and every buffered chunk from the
// offset has been delivered, ctx.Err() when ctx is done first, and
// ErrSubscriptionClosed after Close.
func (s *Subscription) Next(ctx context.Context) (Chunk, error) {
	if s.closed {
		return Chunk{}, ErrSubscriptionClosed
	}

	for {
		chunk, ok, closed, wait := s.ch.read(s.next)
		if ok {
			s.next++
			return chunk, nil
		}
		if closed {
			return Chunk{}, io.EOF
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return Chunk{}, ctx.Err()
		}
	}
}

// Offset returns the index of the next chunk this subscription will read.
func (s *Subscription) Offset() int64 {
	return s.next
}

// Close detaches the subscription from its channel. It is safe to call more
// than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.closed = true
		s.ch.detach()
	})
}

// ErrSubscriptionClosed is returned by Next after the subscription was closed.
var ErrSubscriptionClosed = errors.New("stream: subscription closed")
