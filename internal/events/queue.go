package events

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"nip05d/pkg/requestcontext"
)

// Emitter accepts events after the state change they describe has committed.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

const defaultQueueSize = 1024

// Queue is a bounded in-process channel between the engines and the
// Dispatcher. A full queue drops the event and counts it; it never blocks.
type Queue struct {
	ch      chan Event
	dropped atomic.Int64
	logger  *slog.Logger
	onDrop  func(Type)
}

type QueueOption func(*Queue)

func WithQueueSize(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan Event, n)
		}
	}
}

func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) { q.logger = logger }
}

// WithDropHook is called for every dropped event, typically a metric.
func WithDropHook(fn func(Type)) QueueOption {
	return func(q *Queue) { q.onDrop = fn }
}

func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		ch:     make(chan Event, defaultQueueSize),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Emit fills defaults and enqueues without blocking.
func (q *Queue) Emit(ctx context.Context, e Event) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = requestcontext.Now(ctx)
	}
	if e.RequestID == "" {
		e.RequestID = requestcontext.RequestID(ctx)
	}
	select {
	case q.ch <- e:
	default:
		q.dropped.Add(1)
		if q.onDrop != nil {
			q.onDrop(e.Type)
		}
		q.logger.WarnContext(ctx, "event queue full, dropping event",
			"event_type", string(e.Type),
			"identity_key", e.IdentityKey,
		)
	}
}

// Events is the receive side consumed by a Dispatcher.
func (q *Queue) Events() <-chan Event {
	return q.ch
}

// Dropped returns the number of events dropped since start.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Recorder is an Emitter that keeps events in memory, for tests.
type Recorder struct {
	events chan Event
}

func NewRecorder() *Recorder {
	return &Recorder{events: make(chan Event, 1024)}
}

func (r *Recorder) Emit(ctx context.Context, e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = requestcontext.Now(ctx)
	}
	r.events <- e
}

// Drain returns every event recorded so far.
func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-r.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

// OfType filters events by type.
func OfType(all []Event, t Type) []Event {
	var out []Event
	for _, e := range all {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
