package pipeline

import (
	"math/rand/v2"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/kvpipe/pkg/command"
	"github.com/fluxorio/kvpipe/pkg/core"
)

// Config configures a Pool
type Config struct {
	// Workers is the number of parsing workers (at least 1)
	Workers int `yaml:"workers" json:"workers"`

	// QueueCapacity bounds the submission queue; 0 keeps it unbounded
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity"`

	// LockOSThread pins every worker and the state owner to its own OS thread
	LockOSThread bool `yaml:"lock_os_thread" json:"lock_os_thread"`

	Chaos ChaosConfig `yaml:"-" json:"-"`
}

// DefaultConfig returns 4 workers over an unbounded queue
func DefaultConfig() Config {
	return Config{
		Workers: 4,
		Chaos:   DefaultChaosConfig(),
	}
}

type options struct {
	observer       Observer
	logger         core.Logger
	parse          ParseFunc
	tracerProvider trace.TracerProvider
	randSource     rand.Source
	runID          string
}

// Option customizes a Pool
type Option func(*options)

// WithObserver sets the receiver of pipeline events
func WithObserver(o Observer) Option {
	return func(opts *options) { opts.observer = o }
}

// WithLogger sets the logger used for lifecycle messages
func WithLogger(l core.Logger) Option {
	return func(opts *options) { opts.logger = l }
}

// WithParser replaces command.Parse
func WithParser(p ParseFunc) Option {
	return func(opts *options) { opts.parse = p }
}

// WithTracerProvider sets where apply spans go. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(opts *options) { opts.tracerProvider = tp }
}

// WithRandSource seeds the chaos delay generator
func WithRandSource(src rand.Source) Option {
	return func(opts *options) { opts.randSource = src }
}

// WithRunID sets the run identifier instead of generating one
func WithRunID(id string) Option {
	return func(opts *options) { opts.runID = id }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.observer == nil {
		o.observer = NopObserver{}
	}
	if o.logger == nil {
		o.logger = core.NewNopLogger()
	}
	if o.parse == nil {
		o.parse = command.Parse
	}
	if o.runID == "" {
		o.runID = core.NewRunID()
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	return o
}
