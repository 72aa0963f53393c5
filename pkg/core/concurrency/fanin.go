package concurrency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrConsumerGone is returned by Producer.Send after the consumer closed its end
	ErrConsumerGone = errors.New("consumer is gone")

	// ErrProducerClosed is returned when using a producer handle after its Close
	ErrProducerClosed = errors.New("producer is closed")
)

// fanIn is the shared state behind one Producer/Consumer pair.
// The underlying mailbox is closed when the last live producer handle closes,
// which is how the consumer learns that no more messages can arrive.
type fanIn[T any] struct {
	box *queueMailbox[T]

	mu        sync.Mutex
	producers int

	consumerGone atomic.Bool
}

// Producer is a send handle of a fan-in channel. Handles are cloned, one per
// sending goroutine, and each one must be closed exactly when its owner stops
// sending.
type Producer[T any] struct {
	f      *fanIn[T]
	closed atomic.Bool
}

// Consumer is the single receive handle of a fan-in channel
type Consumer[T any] struct {
	f *fanIn[T]
}

// NewFanIn creates an unbounded multi-producer, single-consumer channel.
// It returns the first producer handle and the consumer.
func NewFanIn[T any]() (*Producer[T], *Consumer[T]) {
	f := &fanIn[T]{
		box:       newQueueMailbox[T](0),
		producers: 1,
	}
	return &Producer[T]{f: f}, &Consumer[T]{f: f}
}

// Clone returns a new producer handle sharing the same channel.
// It fails once this handle is closed, even when racing its Close.
func (p *Producer[T]) Clone() (*Producer[T], error) {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	// closed flips under mu, so a handle seen open here still holds its count
	if p.closed.Load() || p.f.producers == 0 {
		return nil, ErrProducerClosed
	}
	p.f.producers++
	return &Producer[T]{f: p.f}, nil
}

// Send enqueues msg for the consumer without blocking
func (p *Producer[T]) Send(msg T) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	if p.f.consumerGone.Load() {
		return ErrConsumerGone
	}

	if err := p.f.box.Send(msg); err != nil {
		// This handle is live, so a closed box means the consumer left
		return ErrConsumerGone
	}
	return nil
}

// Close releases this handle. Closing the last handle closes the channel.
// Close is idempotent per handle.
func (p *Producer[T]) Close() {
	p.f.mu.Lock()
	if !p.closed.CompareAndSwap(false, true) {
		p.f.mu.Unlock()
		return
	}
	p.f.producers--
	last := p.f.producers == 0
	p.f.mu.Unlock()

	if last {
		p.f.box.Close()
	}
}

// Receive blocks until a message arrives, every producer has closed and the
// queue is drained (ErrMailboxClosed), or ctx is done
func (c *Consumer[T]) Receive(ctx context.Context) (T, error) {
	return c.f.box.Receive(ctx)
}

// Close detaches the consumer. Pending messages are dropped and further
// sends fail with ErrConsumerGone. Returns the number of dropped messages.
func (c *Consumer[T]) Close() int {
	if !c.f.consumerGone.CompareAndSwap(false, true) {
		return 0
	}
	c.f.box.Close()
	return c.f.box.discard()
}

// Size returns the number of messages waiting for the consumer
func (c *Consumer[T]) Size() int {
	return c.f.box.Size()
}

// Producers returns the number of live producer handles
func (c *Consumer[T]) Producers() int {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	return c.f.producers
}
