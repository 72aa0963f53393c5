package prometheus

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/valyala/fasthttp"

	"github.com/fluxorio/kvpipe/pkg/command"
	"github.com/fluxorio/kvpipe/pkg/pipeline"
)

func TestMetrics_Observer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Submitted(pipeline.WorkUnit{Raw: "SET a 1", Seq: 1})
	m.Submitted(pipeline.WorkUnit{Raw: "GET b", Seq: 2})
	m.Submitted(pipeline.WorkUnit{Raw: "BOGUS", Seq: 3})
	m.ParseFailed(pipeline.ParseFailure{Seq: 3})
	m.Applied(pipeline.Outcome{Seq: 1, Command: command.Set("a", "1"), Elapsed: time.Microsecond})
	m.Applied(pipeline.Outcome{Seq: 2, Command: command.Get("b"), Err: errors.New("missing")})
	m.WorkerExited(pipeline.WorkerStatus{ID: 0, Exit: pipeline.ExitClosed})
	m.WorkerExited(pipeline.WorkerStatus{ID: 1, Exit: pipeline.ExitAborted})

	if got := testutil.ToFloat64(m.SubmittedTotal); got != 3 {
		t.Errorf("submitted = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.ParseFailuresTotal); got != 1 {
		t.Errorf("parse failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AppliedTotal.WithLabelValues("SET", "ok")); got != 1 {
		t.Errorf("applied SET ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AppliedTotal.WithLabelValues("GET", "error")); got != 1 {
		t.Errorf("applied GET error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.WorkerExitsTotal.WithLabelValues("aborted")); got != 1 {
		t.Errorf("aborted exits = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.ApplyDuration); got != 2 {
		t.Errorf("apply duration series = %v, want 2", got)
	}
}

func TestMetrics_WithPool(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	cfg := pipeline.DefaultConfig()
	cfg.Workers = 1
	p, err := pipeline.New(cfg, pipeline.WithObserver(m))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := p.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for i, line := range []string{"SET a 1", "SET b 2", "DELETE a", "NOPE"} {
		if err := p.Submit(line, uint64(i+1)); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	if _, err := p.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	expected := `
# HELP kvpipe_applied_total Total number of commands applied by the state owner
# TYPE kvpipe_applied_total counter
kvpipe_applied_total{op="DELETE",result="ok"} 1
kvpipe_applied_total{op="SET",result="ok"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "kvpipe_applied_total"); err != nil {
		t.Error(err)
	}
	if got := testutil.ToFloat64(m.WorkerExitsTotal.WithLabelValues("closed")); got != 1 {
		t.Errorf("closed exits = %v, want 1", got)
	}
}

func TestFastHTTPMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	h := FastHTTPMiddleware(m, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusAccepted)
	})

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(fasthttp.MethodPost)
	ctx.Request.SetRequestURI("/commands")
	ctx.Request.SetBodyString("SET a 1\n")
	h(&ctx)

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/commands", "2xx")); got != 1 {
		t.Errorf("http requests = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.UpdateQueue(7)

	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI("/metrics")
	Handler(reg)(&ctx)

	body := string(ctx.Response.Body())
	if !strings.Contains(body, "kvpipe_queue_pending 7") {
		t.Errorf("metrics body missing queue gauge:\n%s", body)
	}
}

func TestNewRegistry_LabelsService(t *testing.T) {
	reg, registerer := NewRegistry()
	m := NewMetrics(registerer)
	m.Submitted(pipeline.WorkUnit{Raw: "SET a 1", Seq: 1})

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() != "kvpipe_submitted_total" {
			continue
		}
		found = true
		labels := f.GetMetric()[0].GetLabel()
		if len(labels) != 1 || labels[0].GetName() != "service" || labels[0].GetValue() != "kvpipe" {
			t.Errorf("labels = %v, want service=kvpipe", labels)
		}
	}
	if !found {
		t.Error("kvpipe_submitted_total not gathered")
	}
}

func TestNewMetrics_NilRegistererIsPrivate(t *testing.T) {
	// two nil-registerer collections must not collide on one global registry
	a := NewMetrics(nil)
	b := NewMetrics(nil)
	a.Submitted(pipeline.WorkUnit{Seq: 1})

	if got := testutil.ToFloat64(b.SubmittedTotal); got != 0 {
		t.Errorf("second collection submitted = %v, want 0", got)
	}
}

func TestStatusCodeString(t *testing.T) {
	tests := map[int]string{200: "2xx", 302: "3xx", 401: "4xx", 503: "5xx", 0: "unknown"}
	for code, want := range tests {
		if got := statusCodeString(code); got != want {
			t.Errorf("statusCodeString(%d) = %s, want %s", code, got, want)
		}
	}
}
