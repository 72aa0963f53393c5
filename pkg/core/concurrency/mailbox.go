package concurrency

import (
	"context"
	"errors"
)

var (
	// ErrMailboxClosed is returned by Send after Close, and by Receive once the
	// mailbox is closed and every queued message has been handed out
	ErrMailboxClosed = errors.New("mailbox is closed")

	// ErrMailboxFull is returned when sending to a bounded mailbox at capacity (backpressure)
	ErrMailboxFull = errors.New("mailbox is full")
)

// Mailbox is a multi-producer, multi-consumer FIFO queue of T.
// Each message is delivered to exactly one receiver, whichever asks first.
type Mailbox[T any] interface {
	// Send enqueues a message without blocking
	// Returns ErrMailboxFull if a bounded mailbox is at capacity
	// Returns ErrMailboxClosed if the mailbox is closed
	Send(msg T) error

	// Receive blocks until a message is available, the mailbox is closed and
	// drained (ErrMailboxClosed), or ctx is done (ctx.Err())
	Receive(ctx context.Context) (T, error)

	// TryReceive returns (msg, true, nil) if a message is queued,
	// (zero, false, nil) if the mailbox is open but empty, and
	// (zero, false, ErrMailboxClosed) if it is closed and drained
	TryReceive() (T, bool, error)

	// Close stops accepting new messages. Messages already queued remain
	// receivable. Close is idempotent.
	Close()

	// Capacity returns the maximum number of queued messages, 0 when unbounded
	Capacity() int

	// Size returns the current number of queued messages
	Size() int

	// IsClosed returns true once Close has been called
	IsClosed() bool
}
