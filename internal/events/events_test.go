package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nip05d/pkg/requestcontext"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type collectSink struct {
	mu     sync.Mutex
	name   string
	events []Event
	err    error
	panics bool
}

func (c *collectSink) Name() string { return c.name }

func (c *collectSink) Handle(_ context.Context, e Event) error {
	if c.panics {
		panic("boom")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return c.err
}

func (c *collectSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestQueueEmitFillsDefaults(t *testing.T) {
	q := NewQueue(WithQueueLogger(discardLogger()))
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithRequestID(requestcontext.WithTime(context.Background(), at), "req-1")

	q.Emit(ctx, Event{Type: PaymentConfirmed, IdentityKey: "abc"})

	e := <-q.Events()
	assert.NotEmpty(t, e.ID.String())
	assert.Equal(t, at, e.OccurredAt)
	assert.Equal(t, "req-1", e.RequestID)
}

func TestQueueDropsWhenFull(t *testing.T) {
	var dropped []Type
	q := NewQueue(
		WithQueueSize(1),
		WithQueueLogger(discardLogger()),
		WithDropHook(func(t Type) { dropped = append(dropped, t) }),
	)

	q.Emit(context.Background(), Event{Type: PaymentConfirmed})
	q.Emit(context.Background(), Event{Type: InvoiceExpired})

	assert.Equal(t, int64(1), q.Dropped())
	assert.Equal(t, []Type{InvoiceExpired}, dropped)
}

func TestDispatcherIsolatesSinkFailures(t *testing.T) {
	q := NewQueue(WithQueueLogger(discardLogger()))
	failing := &collectSink{name: "failing", err: errors.New("down")}
	panicking := &collectSink{name: "panicking", panics: true}
	healthy := &collectSink{name: "healthy"}

	var sinkErrors []string
	var mu sync.Mutex
	d := NewDispatcher(q.Events(), []Sink{failing, panicking, healthy},
		WithDispatcherLogger(discardLogger()),
		WithSinkErrorHook(func(name string) {
			mu.Lock()
			defer mu.Unlock()
			sinkErrors = append(sinkErrors, name)
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	q.Emit(ctx, Event{Type: PaymentConfirmed, IdentityKey: "a"})
	q.Emit(ctx, Event{Type: UsernameUpdated, IdentityKey: "b"})

	require.Eventually(t, func() bool { return healthy.count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, 2, failing.count())
	mu.Lock()
	assert.Equal(t, []string{"failing", "failing"}, sinkErrors)
	mu.Unlock()
}

func TestDispatcherFlushesBufferedEventsOnShutdown(t *testing.T) {
	q := NewQueue(WithQueueLogger(discardLogger()))
	sink := &collectSink{name: "s"}
	d := NewDispatcher(q.Events(), []Sink{sink}, WithDispatcherLogger(discardLogger()))

	q.Emit(context.Background(), Event{Type: UserRemoved})
	q.Emit(context.Background(), Event{Type: UserWhitelisted})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = d.Run(ctx)

	assert.Equal(t, 2, sink.count())
}

func TestTypeRouting(t *testing.T) {
	assert.True(t, PaymentConfirmed.ChangesDirectory())
	assert.False(t, InvoiceExpired.ChangesDirectory())
	assert.True(t, SubscriptionExpiring.Notifies())
	assert.True(t, InvoiceExpired.Notifies())
	assert.False(t, ActivationConflict.Notifies())
}
