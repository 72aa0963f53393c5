package pipeline

import (
	"context"
	"errors"

	"github.com/fluxorio/kvpipe/pkg/core/concurrency"
)

// SubmissionQueue is the shared work queue between submitters and workers.
// Workers compete on one receive end; whichever is free next takes the next
// unit. No ordering is promised across workers.
type SubmissionQueue struct {
	box concurrency.Mailbox[WorkUnit]
}

// NewSubmissionQueue creates a queue; capacity 0 means unbounded
func NewSubmissionQueue(capacity int) *SubmissionQueue {
	if capacity > 0 {
		return &SubmissionQueue{box: concurrency.NewBoundedMailbox[WorkUnit](capacity)}
	}
	return &SubmissionQueue{box: concurrency.NewUnboundedMailbox[WorkUnit]()}
}

// Submit enqueues a unit without blocking
func (q *SubmissionQueue) Submit(unit WorkUnit) error {
	err := q.box.Send(unit)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, concurrency.ErrMailboxClosed):
		return ErrQueueClosed
	case errors.Is(err, concurrency.ErrMailboxFull):
		return ErrQueueFull
	default:
		return err
	}
}

// Close signals that no more input will arrive. Queued units stay deliverable.
func (q *SubmissionQueue) Close() {
	q.box.Close()
}

// Next blocks until a unit is available. ok is false once the queue is
// closed and drained.
func (q *SubmissionQueue) Next(ctx context.Context) (unit WorkUnit, ok bool, err error) {
	unit, err = q.box.Receive(ctx)
	if err != nil {
		if errors.Is(err, concurrency.ErrMailboxClosed) {
			return WorkUnit{}, false, nil
		}
		return WorkUnit{}, false, err
	}
	return unit, true, nil
}

// Len returns the number of units waiting for a worker
func (q *SubmissionQueue) Len() int { return q.box.Size() }

func (q *SubmissionQueue) Closed() bool { return q.box.IsClosed() }
