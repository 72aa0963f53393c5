package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fluxorio/kvpipe/pkg/core"
	"github.com/fluxorio/kvpipe/pkg/pipeline"
)

const (
	maxLineSize = 1 << 20
	fullBackoff = 2 * time.Millisecond
)

// Reader submits every line of an io.Reader in order
type Reader struct {
	name   string
	r      io.Reader
	sub    Submitter
	logger core.Logger
	lines  uint64
}

func NewReader(name string, r io.Reader, sub Submitter, logger core.Logger) *Reader {
	if logger == nil {
		logger = core.NewNopLogger()
	}
	return &Reader{name: name, r: r, sub: sub, logger: logger}
}

func (r *Reader) Name() string { return r.name }

// Lines returns how many lines were submitted
func (r *Reader) Lines() uint64 { return r.lines }

// Run reads until EOF, ctx cancellation or a closed pool.
// A run ID carried by ctx is attached to every log line.
func (r *Reader) Run(ctx context.Context) error {
	logger := r.logger
	if id := core.GetRunID(ctx); id != "" {
		logger = logger.WithFields(map[string]interface{}{"run": id})
	}
	sc := bufio.NewScanner(r.r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.submit(ctx, sc.Text()); err != nil {
			if stopped(err) {
				logger.Warnf("%s: pool closed after %d lines", r.name, r.lines)
				return nil
			}
			return fmt.Errorf("%s: submit line %d: %w", r.name, r.lines+1, err)
		}
		r.lines++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%s: read: %w", r.name, err)
	}
	logger.Infof("%s: submitted %d lines", r.name, r.lines)
	return nil
}

// submit retries a line while a bounded queue is full
func (r *Reader) submit(ctx context.Context, line string) error {
	for {
		_, err := r.sub.SubmitNext(line)
		if !errors.Is(err, pipeline.ErrQueueFull) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(fullBackoff):
		}
	}
}

// File is a Reader over a file opened when Run starts
type File struct {
	path   string
	sub    Submitter
	logger core.Logger
	lines  uint64
}

func NewFile(path string, sub Submitter, logger core.Logger) *File {
	return &File{path: path, sub: sub, logger: logger}
}

func (f *File) Name() string { return "file:" + f.path }

// Lines returns how many lines the last Run submitted
func (f *File) Lines() uint64 { return f.lines }

func (f *File) Run(ctx context.Context) error {
	// #nosec G304 -- path comes from the operator's command line.
	fh, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer fh.Close()
	r := NewReader(f.Name(), fh, f.sub, f.logger)
	err = r.Run(ctx)
	f.lines = r.Lines()
	return err
}
