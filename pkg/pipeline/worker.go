package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/fluxorio/kvpipe/pkg/command"
	"github.com/fluxorio/kvpipe/pkg/core"
	"github.com/fluxorio/kvpipe/pkg/core/concurrency"
)

// ParseFunc turns a raw line into a Command
type ParseFunc func(line string) (command.Command, error)

// worker pulls units off the shared queue, parses them and forwards the
// results to the state owner. Its status is valid once done is closed.
type worker struct {
	id         int
	units      *SubmissionQueue
	out        *concurrency.Producer[ParsedMessage]
	parse      ParseFunc
	observer   Observer
	logger     core.Logger
	chaos      *chaos
	lockThread bool

	parseFailures *atomic.Uint64
	skipped       *atomic.Uint64

	state  atomic.Int32
	done   chan struct{}
	status WorkerStatus
}

func (w *worker) setState(s WorkerState) { w.state.Store(int32(s)) }

func (w *worker) State() WorkerState { return WorkerState(w.state.Load()) }

func (w *worker) start() {
	go w.run()
}

func (w *worker) run() {
	defer close(w.done)
	// Dropping the send handle is what lets the dispatch channel close
	defer w.out.Close()
	defer func() {
		if r := recover(); r != nil {
			w.status = WorkerStatus{
				ID:   w.id,
				Exit: ExitPanicked,
				Err:  fmt.Errorf("worker %d panicked: %v", w.id, r),
			}
		}
		w.observer.WorkerExited(w.status)
	}()

	if w.lockThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	w.logger.Debugf("worker %d started", w.id)
	w.status = w.loop()
	w.logger.Debugf("worker %d exiting: %s", w.id, w.status.Exit)
}

func (w *worker) loop() WorkerStatus {
	for {
		w.setState(StateFetching)
		unit, ok, err := w.units.Next(context.Background())
		if err != nil || !ok {
			w.setState(StateClosed)
			return WorkerStatus{ID: w.id, Exit: ExitClosed}
		}

		w.chaos.pause()

		if strings.TrimSpace(unit.Raw) == "" {
			w.skipped.Add(1)
			w.setState(StateIdle)
			continue
		}

		w.setState(StateParsing)
		cmd, err := w.parse(unit.Raw)
		if err != nil {
			w.reportParseFailure(unit, err)
			w.setState(StateIdle)
			continue
		}

		w.setState(StateDispatching)
		msg := ParsedMessage{Command: cmd, Seq: unit.Seq, WorkerID: w.id}
		if err := w.out.Send(msg); err != nil {
			w.setState(StateAborted)
			w.logger.Warnf("worker %d: state owner disconnected, dropping line %d", w.id, unit.Seq)
			return WorkerStatus{ID: w.id, Exit: ExitAborted, Err: err}
		}
		w.setState(StateIdle)
	}
}

func (w *worker) reportParseFailure(unit WorkUnit, err error) {
	var se *command.SyntaxError
	if errors.As(err, &se) {
		err = se.WithLine(unit.Seq)
	} else {
		err = fmt.Errorf("line %d: %w (raw %q)", unit.Seq, err, unit.Raw)
	}
	w.parseFailures.Add(1)
	w.observer.ParseFailed(ParseFailure{
		WorkerID: w.id,
		Seq:      unit.Seq,
		Raw:      unit.Raw,
		Err:      err,
	})
}
