package pipeline

import "errors"

var (
	// ErrQueueClosed is returned by Submit after CloseSubmission
	ErrQueueClosed = errors.New("pipeline: submission queue closed")

	// ErrQueueFull is returned by Submit when a bounded queue is at capacity
	ErrQueueFull = errors.New("pipeline: submission queue full")

	// ErrAlreadyStarted is returned by a second Run
	ErrAlreadyStarted = errors.New("pipeline: already started")

	// ErrAlreadyShutdown is returned by Run or Shutdown after Shutdown
	ErrAlreadyShutdown = errors.New("pipeline: already shut down")

	// ErrInvalidConfig is wrapped by New for unusable configurations
	ErrInvalidConfig = errors.New("pipeline: invalid config")
)
