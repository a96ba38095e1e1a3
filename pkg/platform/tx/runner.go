package tx

import (
	"context"
	"sync"
	"time"

	dErrors "nip05d/pkg/domain-errors"
)

// DefaultTimeout bounds a transaction when the caller's context has no deadline.
const DefaultTimeout = 5 * time.Second

// Runner executes fn as one atomic unit. Stores called with the ctx passed to
// fn join the unit.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// WithDefaultTimeout applies timeout when ctx has no deadline and rejects an
// already-cancelled ctx.
func WithDefaultTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return ctx, func() {}, dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, cancel, nil
}

// LocalRunner serializes units of work over in-memory stores with one coarse
// lock. In-memory stores cannot roll back, so fn must validate before it writes.
type LocalRunner struct {
	mu      sync.Mutex
	timeout time.Duration
}

func NewLocalRunner() *LocalRunner {
	return &LocalRunner{timeout: DefaultTimeout}
}

func (r *LocalRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel, err := WithDefaultTimeout(ctx, r.timeout)
	if err != nil {
		return err
	}
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx)
}
