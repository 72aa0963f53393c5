// Package pipeline applies a stream of text commands to an in-memory store.
//
// Raw lines go into a shared SubmissionQueue. N workers compete for them,
// parse them and forward the commands through a fan-in channel to a single
// state owner goroutine, the only code that ever touches the store.
//
// Shutdown runs in the reverse direction: close submission, join every
// worker, then join the owner. The dispatch channel closes by itself once
// the last worker has released its producer handle, so the owner always
// terminates after the workers do.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fluxorio/kvpipe/pkg/core"
	"github.com/fluxorio/kvpipe/pkg/core/concurrency"
	"github.com/fluxorio/kvpipe/pkg/store"
)

const tracerName = "github.com/fluxorio/kvpipe/pkg/pipeline"

// Pool wires the submission queue, workers, dispatch channel and state owner
type Pool struct {
	runID    string
	queue    *SubmissionQueue
	workers  []*worker
	owner    *owner
	observer Observer
	logger   core.Logger

	seqMu         sync.Mutex
	seq           uint64
	parseFailures atomic.Uint64
	skipped       atomic.Uint64

	started  atomic.Bool
	shutdown atomic.Bool
}

// New builds a pool and starts its workers. The state owner waits for Run.
func New(cfg Config, opts ...Option) (*Pool, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("%w: workers must be >= 1, got %d", ErrInvalidConfig, cfg.Workers)
	}
	if cfg.QueueCapacity < 0 {
		return nil, fmt.Errorf("%w: queue capacity must be >= 0, got %d", ErrInvalidConfig, cfg.QueueCapacity)
	}
	o := buildOptions(opts)

	p := &Pool{
		runID:    o.runID,
		observer: o.observer,
	}
	p.logger = o.logger.WithFields(map[string]interface{}{"run": p.runID})

	// Dispatch channel first, then the queue feeding it
	root, consumer := concurrency.NewFanIn[ParsedMessage]()
	p.queue = NewSubmissionQueue(cfg.QueueCapacity)

	ch := newChaos(cfg.Chaos, o.randSource)
	if cfg.Chaos.Enabled {
		if _, swapped := cfg.Chaos.Normalized(); swapped {
			p.logger.Warnf("chaos min_delay %s > max_delay %s, swapping", cfg.Chaos.MinDelay, cfg.Chaos.MaxDelay)
		}
	}

	p.workers = make([]*worker, cfg.Workers)
	for i := range p.workers {
		out, err := root.Clone()
		if err != nil {
			return nil, err
		}
		p.workers[i] = &worker{
			id:            i,
			units:         p.queue,
			out:           out,
			parse:         o.parse,
			observer:      o.observer,
			logger:        p.logger,
			chaos:         ch,
			lockThread:    cfg.LockOSThread,
			parseFailures: &p.parseFailures,
			skipped:       &p.skipped,
			done:          make(chan struct{}),
		}
	}
	// Only workers may hold send handles, otherwise the channel never closes
	root.Close()

	p.owner = &owner{
		ctx:        core.WithRunID(context.Background(), p.runID),
		in:         consumer,
		store:      store.New(),
		observer:   o.observer,
		logger:     p.logger,
		tracer:     o.tracerProvider.Tracer(tracerName),
		lockThread: cfg.LockOSThread,
		done:       make(chan struct{}),
	}

	for _, w := range p.workers {
		w.start()
	}
	p.logger.Infof("pipeline created with %d workers", cfg.Workers)
	return p, nil
}

// RunID identifies this pool in logs and reports
func (p *Pool) RunID() string { return p.runID }

// Workers returns the number of workers
func (p *Pool) Workers() int { return len(p.workers) }

// WorkerStates returns the current loop state of every worker
func (p *Pool) WorkerStates() []WorkerState {
	out := make([]WorkerState, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.State()
	}
	return out
}

// Pending returns the number of units not yet taken by a worker
func (p *Pool) Pending() int { return p.queue.Len() }

// Submit enqueues a raw line with a caller-chosen sequence number
func (p *Pool) Submit(raw string, seq uint64) error {
	unit := WorkUnit{Raw: raw, Seq: seq}
	if err := p.queue.Submit(unit); err != nil {
		return err
	}
	p.observer.Submitted(unit)
	return nil
}

// SubmitNext enqueues a raw line numbered from the pool's own counter,
// starting at 1. A refused line does not consume a number, so a caller
// retrying after ErrQueueFull keeps its numbering.
func (p *Pool) SubmitNext(raw string) (uint64, error) {
	p.seqMu.Lock()
	defer p.seqMu.Unlock()
	if err := p.Submit(raw, p.seq+1); err != nil {
		return 0, err
	}
	p.seq++
	return p.seq, nil
}

// CloseSubmission tells workers that no more input will arrive.
// It is idempotent.
func (p *Pool) CloseSubmission() {
	p.queue.Close()
}

// Run starts the state owner. It may be called once.
func (p *Pool) Run() error {
	if p.shutdown.Load() {
		return ErrAlreadyShutdown
	}
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	p.owner.start()
	p.logger.Info("state owner running")
	return nil
}

// Shutdown closes submission, joins every worker and then the state owner,
// and returns the final counters. A pool that was never Run has its owner
// started here so queued work is applied rather than lost.
//
// There is no timeout: a worker or owner stuck inside a parser or observer
// blocks Shutdown.
func (p *Pool) Shutdown() (Report, error) {
	if !p.shutdown.CompareAndSwap(false, true) {
		return Report{}, ErrAlreadyShutdown
	}
	if p.started.CompareAndSwap(false, true) {
		p.owner.start()
	}

	p.logger.Info("closing submission")
	p.CloseSubmission()

	// Workers first: the owner cannot finish while any of them can still send
	statuses := make([]WorkerStatus, len(p.workers))
	for i, w := range p.workers {
		<-w.done
		statuses[i] = w.status
	}

	<-p.owner.done

	r := Report{
		RunID:         p.runID,
		Processed:     p.owner.processed,
		ParseFailures: p.parseFailures.Load(),
		Skipped:       p.skipped.Load(),
		Dropped:       p.owner.dropped,
		Workers:       statuses,
		OwnerErr:      p.owner.err,
		Store:         p.owner.snapshot,
	}
	if failed := r.Failed(); len(failed) > 0 {
		p.logger.Warnf("%d of %d workers did not close normally", len(failed), len(statuses))
	}
	p.logger.Infof("pipeline shut down: processed=%d parse_failures=%d skipped=%d",
		r.Processed, r.ParseFailures, r.Skipped)
	return r, nil
}
