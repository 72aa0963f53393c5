package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recorder collects every observer event for assertions
type recorder struct {
	mu        sync.Mutex
	submitted []WorkUnit
	failures  []ParseFailure
	outcomes  []Outcome
	exits     []WorkerStatus
}

func (r *recorder) Submitted(u WorkUnit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, u)
}

func (r *recorder) ParseFailed(f ParseFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
}

func (r *recorder) Applied(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recorder) WorkerExited(s WorkerStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exits = append(r.exits, s)
}

func (r *recorder) Outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.outcomes...)
}

func (r *recorder) Failures() []ParseFailure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ParseFailure(nil), r.failures...)
}

func newTestPool(t *testing.T, workers int, opts ...Option) (*Pool, *recorder) {
	t.Helper()
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.Workers = workers
	p, err := New(cfg, append([]Option{WithObserver(rec)}, opts...)...)
	require.NoError(t, err)
	return p, rec
}

func submitAll(t *testing.T, p *Pool, lines ...string) {
	t.Helper()
	for i, line := range lines {
		require.NoError(t, p.Submit(line, uint64(i+1)))
	}
}

// shutdownWithin fails the test instead of hanging if Shutdown deadlocks
func shutdownWithin(t *testing.T, p *Pool, d time.Duration) Report {
	t.Helper()
	type result struct {
		r   Report
		err error
	}
	ch := make(chan result, 1)
	go func() {
		r, err := p.Shutdown()
		ch <- result{r, err}
	}()

	select {
	case res := <-ch:
		require.NoError(t, res.err)
		return res.r
	case <-time.After(d):
		t.Fatalf("Shutdown() did not return within %s", d)
	}
	return Report{}
}
