package pipeline

import (
	"github.com/fluxorio/kvpipe/pkg/core"
)

// Observer receives pipeline events. Submitted is called on the submitting
// goroutine, ParseFailed and WorkerExited on worker goroutines, and Applied
// on the state owner goroutine, so implementations must be safe for
// concurrent use.
type Observer interface {
	Submitted(unit WorkUnit)
	ParseFailed(f ParseFailure)
	Applied(o Outcome)
	WorkerExited(s WorkerStatus)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) Submitted(WorkUnit)        {}
func (NopObserver) ParseFailed(ParseFailure)  {}
func (NopObserver) Applied(Outcome)           {}
func (NopObserver) WorkerExited(WorkerStatus) {}

// MultiObserver fans every event out to each member in order
type MultiObserver []Observer

func (m MultiObserver) Submitted(u WorkUnit) {
	for _, o := range m {
		o.Submitted(u)
	}
}

func (m MultiObserver) ParseFailed(f ParseFailure) {
	for _, o := range m {
		o.ParseFailed(f)
	}
}

func (m MultiObserver) Applied(out Outcome) {
	for _, o := range m {
		o.Applied(out)
	}
}

func (m MultiObserver) WorkerExited(s WorkerStatus) {
	for _, o := range m {
		o.WorkerExited(s)
	}
}

// LogObserver writes outcomes and failures to a Logger
type LogObserver struct {
	Logger core.Logger
}

// NewLogObserver creates a LogObserver; a nil logger uses core.NewDefaultLogger
func NewLogObserver(logger core.Logger) *LogObserver {
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	return &LogObserver{Logger: logger}
}

func (l *LogObserver) Submitted(u WorkUnit) {
	l.Logger.Debugf("queued line %d: %s", u.Seq, u.Raw)
}

func (l *LogObserver) ParseFailed(f ParseFailure) {
	l.Logger.Errorf("[worker %d] parse error: %v", f.WorkerID, f.Err)
}

func (l *LogObserver) Applied(o Outcome) {
	if o.Err != nil {
		l.Logger.Warn(o.String())
		return
	}
	l.Logger.Info(o.String())
}

func (l *LogObserver) WorkerExited(s WorkerStatus) {
	if s.Exit == ExitClosed {
		l.Logger.Debugf("%s", s)
		return
	}
	l.Logger.Errorf("%s", s)
}
