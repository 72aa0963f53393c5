package pipeline

import (
	"fmt"
	"time"

	"github.com/fluxorio/kvpipe/pkg/command"
	"github.com/fluxorio/kvpipe/pkg/store"
)

// WorkUnit is one raw input line waiting to be parsed
type WorkUnit struct {
	Raw string
	Seq uint64
}

// ParsedMessage is a parsed command travelling from a worker to the state owner
type ParsedMessage struct {
	Command  command.Command
	Seq      uint64
	WorkerID int
}

// WorkerState is the position of a worker in its loop
type WorkerState int32

const (
	StateIdle WorkerState = iota
	StateFetching
	StateParsing
	StateDispatching
	StateClosed  // queue closed and drained
	StateAborted // state owner gone
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateParsing:
		return "parsing"
	case StateDispatching:
		return "dispatching"
	case StateClosed:
		return "closed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ExitKind tells how a worker terminated
type ExitKind int

const (
	ExitClosed   ExitKind = iota // normal: submission queue closed and drained
	ExitAborted                  // dispatch failed because the state owner is gone
	ExitPanicked                 // the worker goroutine panicked
)

func (k ExitKind) String() string {
	switch k {
	case ExitClosed:
		return "closed"
	case ExitAborted:
		return "aborted"
	case ExitPanicked:
		return "panicked"
	default:
		return fmt.Sprintf("exit(%d)", int(k))
	}
}

// WorkerStatus is the termination record of one worker
type WorkerStatus struct {
	ID   int
	Exit ExitKind
	Err  error // nil for ExitClosed
}

func (s WorkerStatus) String() string {
	if s.Err != nil {
		return fmt.Sprintf("worker %d %s: %v", s.ID, s.Exit, s.Err)
	}
	return fmt.Sprintf("worker %d %s", s.ID, s.Exit)
}

// ParseFailure reports a line the parser rejected. The unit is discarded.
type ParseFailure struct {
	WorkerID int
	Seq      uint64
	Raw      string
	Err      error
}

// Outcome is the result of applying one ParsedMessage to the store.
// Err is non-nil for per-command failures such as store.ErrKeyNotFound.
type Outcome struct {
	Seq      uint64
	WorkerID int
	Command  command.Command
	Result   store.Result
	Err      error
	Elapsed  time.Duration
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("[Line %d | worker %d] Error: %v", o.Seq, o.WorkerID, o.Err)
	}
	return fmt.Sprintf("[Line %d | worker %d] %s", o.Seq, o.WorkerID, o.Result)
}

// Report is returned by Pool.Shutdown once every goroutine has been joined
type Report struct {
	RunID string

	// Processed counts messages the state owner received, including those
	// that failed with a per-command error
	Processed uint64

	ParseFailures uint64
	Skipped       uint64 // blank lines

	// Dropped counts parsed messages discarded because the state owner left
	Dropped uint64

	Workers  []WorkerStatus
	OwnerErr error

	// Store is the final store contents, handed back after the owner exited
	Store map[string]string
}

// Failed returns the workers that did not terminate normally
func (r Report) Failed() []WorkerStatus {
	var out []WorkerStatus
	for _, w := range r.Workers {
		if w.Exit != ExitClosed {
			out = append(out, w)
		}
	}
	return out
}

// Healthy is true when every worker closed normally and the owner did not fail
func (r Report) Healthy() bool {
	return r.OwnerErr == nil && len(r.Failed()) == 0
}
