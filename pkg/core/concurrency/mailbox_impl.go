package concurrency

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// queueMailbox implements Mailbox on top of a growable ring buffer.
// A single mutex serializes every enqueue and dequeue; receivers park on a
// condition variable while the buffer is empty.
type queueMailbox[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	buf      *queue.Queue
	capacity int
	closed   bool
}

// NewUnboundedMailbox creates a mailbox that grows without limit
func NewUnboundedMailbox[T any]() Mailbox[T] {
	return newQueueMailbox[T](0)
}

// NewBoundedMailbox creates a mailbox holding at most capacity messages.
// A capacity below 1 yields an unbounded mailbox.
func NewBoundedMailbox[T any](capacity int) Mailbox[T] {
	if capacity < 0 {
		capacity = 0
	}
	return newQueueMailbox[T](capacity)
}

func newQueueMailbox[T any](capacity int) *queueMailbox[T] {
	mb := &queueMailbox[T]{
		buf:      queue.New(),
		capacity: capacity,
	}
	mb.notEmpty = sync.NewCond(&mb.mu)
	return mb
}

// Send implements Mailbox interface
func (mb *queueMailbox[T]) Send(msg T) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return ErrMailboxClosed
	}
	if mb.capacity > 0 && mb.buf.Length() >= mb.capacity {
		return ErrMailboxFull
	}

	mb.buf.Add(msg)
	mb.notEmpty.Signal()
	return nil
}

// Receive implements Mailbox interface
func (mb *queueMailbox[T]) Receive(ctx context.Context) (T, error) {
	var zero T

	// Wake parked receivers when ctx ends. The broadcast takes the lock, so it
	// cannot slip in between our ctx check and Wait.
	stop := context.AfterFunc(ctx, func() {
		mb.mu.Lock()
		mb.notEmpty.Broadcast()
		mb.mu.Unlock()
	})
	defer stop()

	mb.mu.Lock()
	defer mb.mu.Unlock()

	for mb.buf.Length() == 0 {
		if mb.closed {
			return zero, ErrMailboxClosed
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		mb.notEmpty.Wait()
	}

	return mb.buf.Remove().(T), nil
}

// TryReceive implements Mailbox interface
func (mb *queueMailbox[T]) TryReceive() (T, bool, error) {
	var zero T

	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.buf.Length() == 0 {
		if mb.closed {
			return zero, false, ErrMailboxClosed
		}
		return zero, false, nil
	}
	return mb.buf.Remove().(T), true, nil
}

// Close implements Mailbox interface
func (mb *queueMailbox[T]) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return
	}
	mb.closed = true
	// Receivers blocked on an empty buffer must observe the close
	mb.notEmpty.Broadcast()
}

// discard drops every queued message and returns how many were dropped
func (mb *queueMailbox[T]) discard() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	n := mb.buf.Length()
	for mb.buf.Length() > 0 {
		mb.buf.Remove()
	}
	return n
}

// Capacity implements Mailbox interface
func (mb *queueMailbox[T]) Capacity() int {
	return mb.capacity
}

// Size implements Mailbox interface
func (mb *queueMailbox[T]) Size() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.buf.Length()
}

// IsClosed implements Mailbox interface
func (mb *queueMailbox[T]) IsClosed() bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.closed
}
