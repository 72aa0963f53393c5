package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxorio/kvpipe/pkg/command"
	"github.com/fluxorio/kvpipe/pkg/core"
	"github.com/fluxorio/kvpipe/pkg/pipeline"
)

// fakeSubmitter records lines and can be told to fail after n lines.
// With full > 0 it refuses that many calls with ErrQueueFull first.
type fakeSubmitter struct {
	mu      sync.Mutex
	lines   []string
	failAt  int
	failErr error
	full    int
	refused int
}

func (f *fakeSubmitter) SubmitNext(raw string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil && len(f.lines) == f.failAt {
		return 0, f.failErr
	}
	if f.refused < f.full {
		f.refused++
		return 0, pipeline.ErrQueueFull
	}
	f.lines = append(f.lines, raw)
	return uint64(len(f.lines)), nil
}

func (f *fakeSubmitter) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func TestSubmitLines(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		lines []string
	}{
		{"empty", "", nil},
		{"single", "SET a 1", []string{"SET a 1"}},
		{"trailing newline", "SET a 1\n", []string{"SET a 1"}},
		{"crlf", "SET a 1\r\nGET a\r\n", []string{"SET a 1", "GET a"}},
		{"blank kept", "SET a 1\n\nGET a", []string{"SET a 1", "", "GET a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{}
			batch, err := SubmitLines(sub, []byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.lines, sub.Lines())
			assert.Equal(t, len(tt.lines), batch.Count)
			if len(tt.lines) > 0 {
				assert.Equal(t, uint64(1), batch.First)
				assert.Equal(t, uint64(len(tt.lines)), batch.Last)
			}
		})
	}
}

func TestSubmitLines_StopsOnError(t *testing.T) {
	sub := &fakeSubmitter{failAt: 1, failErr: pipeline.ErrQueueClosed}

	batch, err := SubmitLines(sub, []byte("SET a 1\nSET b 2\nSET c 3"))
	assert.ErrorIs(t, err, pipeline.ErrQueueClosed)
	assert.Equal(t, 1, batch.Count)
	assert.True(t, stopped(err))
	assert.False(t, stopped(errors.New("other")))
}

func TestReader_FeedsPool(t *testing.T) {
	rec := &outcomeRecorder{}
	p, err := pipeline.New(pipeline.Config{Workers: 1}, pipeline.WithObserver(rec))
	require.NoError(t, err)
	require.NoError(t, p.Run())

	input := "SET a 1\n\nSET b 2\nNOPE\nDELETE a\n"
	r := NewReader("test", strings.NewReader(input), p, nil)
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, uint64(5), r.Lines())

	report, err := p.Shutdown()
	require.NoError(t, err)

	assert.Equal(t, uint64(1), report.Skipped)
	assert.Equal(t, uint64(1), report.ParseFailures)
	assert.Equal(t, uint64(3), report.Processed)
	assert.Equal(t, map[string]string{"b": "2"}, report.Store)

	seqs := rec.Seqs()
	assert.ElementsMatch(t, []uint64{1, 3, 5}, seqs, "sequence numbers follow input line numbers")
}

func TestReader_PoolClosed(t *testing.T) {
	sub := &fakeSubmitter{failAt: 2, failErr: pipeline.ErrQueueClosed}

	r := NewReader("test", strings.NewReader("a\nb\nc\nd\n"), sub, nil)
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, uint64(2), r.Lines())
}

func TestReader_SubmitError(t *testing.T) {
	boom := errors.New("boom")
	sub := &fakeSubmitter{failAt: 1, failErr: boom}

	r := NewReader("test", strings.NewReader("a\nb\n"), sub, nil)
	err := r.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "submit line 2")
	assert.Equal(t, uint64(1), r.Lines())
}

func TestReader_RetriesWhileFull(t *testing.T) {
	sub := &fakeSubmitter{full: 3}

	r := NewReader("test", strings.NewReader("a\nb\n"), sub, nil)
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"a", "b"}, sub.Lines())
	assert.Equal(t, uint64(2), r.Lines())
}

func TestReader_FullUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sub := &fakeSubmitter{full: 1 << 30}

	r := NewReader("test", strings.NewReader("a\n"), sub, nil)
	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uint64(0), r.Lines())
}

func TestReader_BoundedPoolSlowParser(t *testing.T) {
	parse := func(line string) (command.Command, error) {
		time.Sleep(time.Millisecond)
		return command.Parse(line)
	}

	rec := &outcomeRecorder{}
	p, err := pipeline.New(pipeline.Config{Workers: 1, QueueCapacity: 4},
		pipeline.WithObserver(rec), pipeline.WithParser(parse))
	require.NoError(t, err)
	require.NoError(t, p.Run())

	const n = 100
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "SET k%d %d\n", i, i)
	}

	r := NewReader("test", strings.NewReader(sb.String()), p, nil)
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, uint64(n), r.Lines())

	report, err := p.Shutdown()
	require.NoError(t, err)
	assert.Equal(t, uint64(n), report.Processed)
	assert.Len(t, report.Store, n)

	seqs := rec.Seqs()
	require.Len(t, seqs, n)
	for i, seq := range seqs {
		assert.Equal(t, uint64(i+1), seq, "single worker applies in line order")
	}
}

func TestReader_LogsRunID(t *testing.T) {
	var out bytes.Buffer
	logger := core.NewLogger(&out, &out, core.LevelInfo)

	r := NewReader("test", strings.NewReader("a\n"), &fakeSubmitter{}, logger)
	require.NoError(t, r.Run(core.WithRunID(context.Background(), "run-7")))
	assert.Contains(t, out.String(), "test: submitted 1 lines map[run:run-7]")
}

func TestReader_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewReader("test", strings.NewReader("a\nb\n"), &fakeSubmitter{}, nil)
	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
}

func TestFile_FeedsPool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.txt")
	require.NoError(t, os.WriteFile(path, []byte("SET a 1\nSET b 2\n"), 0o600))

	sub := &fakeSubmitter{}
	f := NewFile(path, sub, nil)
	require.NoError(t, f.Run(context.Background()))
	assert.Equal(t, []string{"SET a 1", "SET b 2"}, sub.Lines())
	assert.Equal(t, uint64(2), f.Lines())
}

func TestFile_Missing(t *testing.T) {
	f := NewFile("/does/not/exist", &fakeSubmitter{}, nil)
	assert.Error(t, f.Run(context.Background()))
	assert.Equal(t, "file:/does/not/exist", f.Name())
}

type outcomeRecorder struct {
	pipeline.NopObserver
	mu   sync.Mutex
	seqs []uint64
}

func (o *outcomeRecorder) Applied(out pipeline.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seqs = append(o.seqs, out.Seq)
}

func (o *outcomeRecorder) Seqs() []uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]uint64(nil), o.seqs...)
}

func (o *outcomeRecorder) waitFor(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(o.Seqs()) >= n }, 5*time.Second, 10*time.Millisecond)
}
