package model

import "context"

// Sink receives the terminal snapshot of every execution.
type Sink interface {
	Publish(ctx context.Context, e *Execution) error
}

type SinkCloser interface {
	Sink
	Close() error
}
