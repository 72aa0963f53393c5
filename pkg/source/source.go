// Package source feeds lines into a pipeline pool from files, NATS subjects
// and Kafka topics.
package source

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/fluxorio/kvpipe/pkg/pipeline"
)

// Submitter is the part of *pipeline.Pool a source needs
type Submitter interface {
	SubmitNext(raw string) (uint64, error)
}

// Source produces lines until its input is exhausted or ctx is done
type Source interface {
	Name() string
	Run(ctx context.Context) error
}

// Batch describes the lines accepted from one message
type Batch struct {
	First uint64
	Last  uint64
	Count int
}

// SubmitLines splits body on newlines and submits every line, blank ones
// included so numbering follows the input. A trailing newline does not add
// an empty line.
func SubmitLines(sub Submitter, body []byte) (Batch, error) {
	var b Batch
	body = bytes.TrimSuffix(body, []byte("\n"))
	if len(body) == 0 {
		return b, nil
	}
	for _, line := range strings.Split(string(body), "\n") {
		seq, err := sub.SubmitNext(strings.TrimSuffix(line, "\r"))
		if err != nil {
			return b, err
		}
		if b.Count == 0 {
			b.First = seq
		}
		b.Last = seq
		b.Count++
	}
	return b, nil
}

// stopped reports whether err means the pool no longer accepts input
func stopped(err error) bool {
	return errors.Is(err, pipeline.ErrQueueClosed)
}
