package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/kvpipe/pkg/core"
	"github.com/fluxorio/kvpipe/pkg/core/concurrency"
	"github.com/fluxorio/kvpipe/pkg/store"
)

// owner is the only goroutine that touches the store. It drains the
// dispatch channel until every worker has released its producer handle.
// processed, dropped, err and snapshot are valid once done is closed.
// ctx carries the run ID and parents every apply span.
type owner struct {
	ctx        context.Context
	in         *concurrency.Consumer[ParsedMessage]
	store      *store.Store
	observer   Observer
	logger     core.Logger
	tracer     trace.Tracer
	lockThread bool

	done      chan struct{}
	processed uint64
	dropped   uint64
	err       error
	snapshot  map[string]string
}

func (o *owner) start() {
	go o.run()
}

func (o *owner) run() {
	defer close(o.done)
	defer func() {
		o.snapshot = o.store.Snapshot()
	}()
	// Detach even on panic so that workers stop dispatching
	defer func() {
		o.dropped = uint64(o.in.Close())
	}()
	defer func() {
		if r := recover(); r != nil {
			o.err = fmt.Errorf("state owner panicked after %d commands: %v", o.processed, r)
			o.logger.Errorf("%v", o.err)
		}
	}()

	if o.lockThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	o.logger.Debug("state owner started")
	for {
		msg, err := o.in.Receive(o.ctx)
		if err != nil {
			break
		}
		o.processed++
		o.apply(msg)
	}
	o.logger.Infof("state owner processed %d commands", o.processed)
}

func (o *owner) apply(msg ParsedMessage) {
	_, span := o.tracer.Start(o.ctx, "kvpipe.apply",
		trace.WithAttributes(
			attribute.String("kvpipe.run_id", core.GetRunID(o.ctx)),
			attribute.String("kvpipe.op", msg.Command.Kind.String()),
			attribute.String("kvpipe.key", msg.Command.Key),
			attribute.Int64("kvpipe.seq", int64(msg.Seq)),
			attribute.Int("kvpipe.worker", msg.WorkerID),
		))
	defer span.End()

	start := time.Now()
	res, err := o.store.Apply(msg.Command)
	elapsed := time.Since(start)

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	o.observer.Applied(Outcome{
		Seq:      msg.Seq,
		WorkerID: msg.WorkerID,
		Command:  msg.Command,
		Result:   res,
		Err:      err,
		Elapsed:  elapsed,
	})
}
