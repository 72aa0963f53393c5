package source

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/fluxorio/kvpipe/pkg/core"
)

// NATSConfig configures a NATS subject subscription
type NATSConfig struct {
	// URL is the NATS server URL. Default: nats.DefaultURL.
	URL string

	Subject string

	// Queue is an optional queue group so several kvpipe instances share a subject
	Queue string

	// Name is an optional NATS connection name.
	Name string
}

// NATS submits the lines of every message on a subject. Request messages
// are answered with the sequence number of the last accepted line, or
// "error: ..." when the pool refused it.
type NATS struct {
	cfg      NATSConfig
	sub      Submitter
	logger   core.Logger
	received atomic.Uint64
}

func NewNATS(cfg NATSConfig, sub Submitter, logger core.Logger) (*NATS, error) {
	if cfg.Subject == "" {
		return nil, fmt.Errorf("nats subject cannot be empty")
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if logger == nil {
		logger = core.NewNopLogger()
	}
	return &NATS{cfg: cfg, sub: sub, logger: logger}, nil
}

func (n *NATS) Name() string { return "nats:" + n.cfg.Subject }

// Received returns the number of messages handled so far
func (n *NATS) Received() uint64 { return n.received.Load() }

// Run connects, subscribes and blocks until ctx is done. The connection is
// drained before returning so in-flight messages are still submitted.
func (n *NATS) Run(ctx context.Context) error {
	closed := make(chan struct{})
	nc, err := nats.Connect(n.cfg.URL,
		nats.ClosedHandler(func(*nats.Conn) { close(closed) }),
		func(o *nats.Options) error {
			if n.cfg.Name != "" {
				o.Name = n.cfg.Name
			}
			return nil
		})
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}

	if _, err := nc.QueueSubscribe(n.cfg.Subject, n.cfg.Queue, n.handle); err != nil {
		nc.Close()
		return fmt.Errorf("nats subscribe %s: %w", n.cfg.Subject, err)
	}
	if err := nc.Flush(); err != nil {
		nc.Close()
		return fmt.Errorf("nats flush: %w", err)
	}
	n.logger.Infof("%s: subscribed on %s", n.Name(), nc.ConnectedUrl())

	<-ctx.Done()
	if err := nc.Drain(); err != nil {
		n.logger.Warnf("%s: drain: %v", n.Name(), err)
		nc.Close()
	}
	<-closed
	return nil
}

func (n *NATS) handle(msg *nats.Msg) {
	n.received.Add(1)
	batch, err := SubmitLines(n.sub, msg.Data)
	if err != nil {
		n.logger.Warnf("%s: dropped message after %d lines: %v", n.Name(), batch.Count, err)
		n.reply(msg, "error: "+err.Error())
		return
	}
	n.reply(msg, strconv.FormatUint(batch.Last, 10))
}

func (n *NATS) reply(msg *nats.Msg, body string) {
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond([]byte(body)); err != nil {
		n.logger.Debugf("%s: respond: %v", n.Name(), err)
	}
}
