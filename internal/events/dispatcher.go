package events

import (
	"context"
	"log/slog"
	"time"
)

// Sink consumes events. Errors are logged by the Dispatcher and never reach
// the engine that emitted the event.
type Sink interface {
	Name() string
	Handle(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, e Event) error
}

func (f SinkFunc) Name() string                              { return f.SinkName }
func (f SinkFunc) Handle(ctx context.Context, e Event) error { return f.Fn(ctx, e) }

// Dispatcher drains a channel of events and fans each one out to every sink.
type Dispatcher struct {
	inbox       <-chan Event
	sinks       []Sink
	logger      *slog.Logger
	sinkTimeout time.Duration
	onSinkError func(sink string)
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithSinkTimeout bounds each sink call.
func WithSinkTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.sinkTimeout = timeout }
}

func WithSinkErrorHook(fn func(sink string)) DispatcherOption {
	return func(d *Dispatcher) { d.onSinkError = fn }
}

func NewDispatcher(inbox <-chan Event, sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		inbox:       inbox,
		sinks:       sinks,
		logger:      slog.Default(),
		sinkTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run delivers events until ctx is cancelled, then flushes what is already
// buffered using a short detached context.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.Flush()
			return ctx.Err()
		case e := <-d.inbox:
			d.deliver(ctx, e)
		}
	}
}

// Flush delivers everything already queued and returns once the inbox is empty.
func (d *Dispatcher) Flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case e := <-d.inbox:
			d.deliver(ctx, e)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, e Event) {
	for _, sink := range d.sinks {
		d.deliverOne(ctx, sink, e)
	}
}

func (d *Dispatcher) deliverOne(ctx context.Context, sink Sink, e Event) {
	ctx, cancel := context.WithTimeout(ctx, d.sinkTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "event sink panicked",
				"sink", sink.Name(), "event_type", string(e.Type), "panic", r)
		}
	}()
	if err := sink.Handle(ctx, e); err != nil {
		if d.onSinkError != nil {
			d.onSinkError(sink.Name())
		}
		d.logger.WarnContext(ctx, "event sink failed",
			"sink", sink.Name(),
			"event_type", string(e.Type),
			"event_id", e.ID.String(),
			"error", err,
		)
	}
}
