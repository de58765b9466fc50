package dlq

import (
	"context"
	"errors"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/chainsigner/signer-core/queue"
)

func TestHandlePermanentGoesDirectlyToDLQ(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	retries := NewMemoryRetryStore()
	dlqQueue := queue.NewMemoryQueue[Message[string]](0)
	p := New[string](retries, dlqQueue, PolicyOnPermanentOrMaxRetries)

	outcome, err := p.Handle(ctx, "req-1", "payload", errors.New("execution reverted: custom error"))
	c.Assert(err, qt.IsNil)
	c.Assert(outcome, qt.Equals, OutcomeDeleted)
	c.Assert(dlqQueue.Len(), qt.Equals, 1)

	n, _ := retries.Increment(ctx, "req-1")
	c.Assert(n, qt.Equals, 1) // permanent failures never increment, and Clear left no count behind
}

func TestHandleRetryEligibleStaysUntilMaxRetries(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	retries := NewMemoryRetryStore()
	dlqQueue := queue.NewMemoryQueue[Message[string]](0)
	p := New[string](retries, dlqQueue, PolicyOnPermanentOrMaxRetries)

	cause := errors.New("dial tcp: connection refused")
	for i := 0; i < DefaultMaxRetries-1; i++ {
		outcome, err := p.Handle(ctx, "req-2", "payload", cause)
		c.Assert(err, qt.IsNil)
		c.Assert(outcome, qt.Equals, OutcomeRetry)
	}
	c.Assert(dlqQueue.Len(), qt.Equals, 0)

	outcome, err := p.Handle(ctx, "req-2", "payload", cause)
	c.Assert(err, qt.IsNil)
	c.Assert(outcome, qt.Equals, OutcomeDeleted)
	c.Assert(dlqQueue.Len(), qt.Equals, 1)
}

func TestHandlePolicyAlways(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	retries := NewMemoryRetryStore()
	dlqQueue := queue.NewMemoryQueue[Message[string]](0)
	p := New[string](retries, dlqQueue, PolicyAlways)

	outcome, err := p.Handle(ctx, "req-3", "payload", errors.New("dial tcp: connection refused"))
	c.Assert(err, qt.IsNil)
	c.Assert(outcome, qt.Equals, OutcomeDeleted)
	c.Assert(dlqQueue.Len(), qt.Equals, 1)
}

func TestHandleDLQSendFailureLeavesCounterIntact(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	retries := NewMemoryRetryStore()
	p := &Pipeline[string]{
		retries: retries,
		dlq:     failingQueue[string]{},
		policy:  PolicyAlways,
		maxTry:  DefaultMaxRetries,
	}

	_, _ = retries.Increment(ctx, "req-4") // one earlier failed attempt

	outcome, err := p.Handle(ctx, "req-4", "payload", errors.New("execution reverted"))
	c.Assert(err, qt.ErrorMatches, "send to dlq:.*")
	c.Assert(outcome, qt.Equals, OutcomeDLQSendFailed)

	// Clear runs only after a successful DLQ send, so the earlier count stays.
	n, _ := retries.Increment(ctx, "req-4")
	c.Assert(n, qt.Equals, 2)
}

func TestFallbackRetryStore(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	primary := failingRetryStore{}
	secondary := NewMemoryRetryStore()
	fb := NewFallbackRetryStore(primary, secondary)

	n, err := fb.Increment(ctx, "req-5")
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 1)

	c.Assert(fb.Clear(ctx, "req-5"), qt.IsNil)
}

type failingQueue[T any] struct{}

func (failingQueue[T]) SendMessage(context.Context, T) error { return errors.New("send failed") }
func (failingQueue[T]) ReceiveBatch(context.Context, int, time.Duration) ([]queue.Message[T], error) {
	return nil, nil
}
func (failingQueue[T]) DeleteMessage(context.Context, string) error             { return nil }
func (failingQueue[T]) ExtendVisibility(context.Context, string, time.Duration) error { return nil }

type failingRetryStore struct{}

func (failingRetryStore) Increment(context.Context, string) (int, error) {
	return 0, errors.New("store unavailable")
}
func (failingRetryStore) Clear(context.Context, string) error {
	return errors.New("store unavailable")
}
