// Package dlq implements the DLQ Pipeline: per-message retry accounting
// (backed by an external store with an in-memory fallback) and DLQ
// emission once a failure is permanent or retries are exhausted.
package dlq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/chainsigner/signer-core/classify"
	"github.com/chainsigner/signer-core/queue"
)

// DefaultMaxRetries is the retry ceiling before a retry-eligible failure is
// routed to the DLQ anyway.
const DefaultMaxRetries = 5

// RetryTTL bounds how long a retry counter survives between attempts.
const RetryTTL = time.Hour

// Policy selects between the two DLQ emission strategies the spec allows.
type Policy string

const (
	// PolicyOnPermanentOrMaxRetries emits to the DLQ only once a failure is
	// permanent or the retry ceiling is reached (the default).
	PolicyOnPermanentOrMaxRetries Policy = "on-permanent-or-max-retries"
	// PolicyAlways emits to the DLQ on any processing failure.
	PolicyAlways Policy = "always"
)

// ErrorDetail is the structured error payload carried in a DLQMessage.
type ErrorDetail struct {
	Type    classify.Category `json:"type"`
	Code    int               `json:"code,omitempty"`
	Message string            `json:"message"`
	Details string            `json:"details,omitempty"`
}

// Meta carries bookkeeping about the failed delivery attempt.
type Meta struct {
	Timestamp    time.Time `json:"timestamp"`
	AttemptCount int       `json:"attemptCount"`
}

// Message[T] is the DLQ queue external interface payload.
type Message[T any] struct {
	OriginalMessage T           `json:"originalMessage"`
	Error           ErrorDetail `json:"error"`
	Meta            Meta        `json:"meta"`
}

// RetryStore tracks per-message retry counts. Implementations must apply a
// TTL so abandoned counters do not accumulate forever.
type RetryStore interface {
	Increment(ctx context.Context, messageID string) (int, error)
	Clear(ctx context.Context, messageID string) error
}

// Pipeline drives the retry/DLQ decision for one queue's failures.
type Pipeline[T any] struct {
	retries RetryStore
	dlq     queue.Queue[Message[T]]
	policy  Policy
	maxTry  int
}

// New returns a Pipeline emitting to dlqQueue according to policy.
func New[T any](retries RetryStore, dlqQueue queue.Queue[Message[T]], policy Policy) *Pipeline[T] {
	return &Pipeline[T]{retries: retries, dlq: dlqQueue, policy: policy, maxTry: DefaultMaxRetries}
}

// Outcome tells the caller what to do with the source message after Handle
// returns.
type Outcome int

const (
	// OutcomeRetry leaves the source message in place for redelivery.
	OutcomeRetry Outcome = iota
	// OutcomeDeleted means Handle sent the message to the DLQ and cleared the
	// retry counter; the caller deletes the source message.
	OutcomeDeleted
	// OutcomeDLQSendFailed means the DLQ emission itself failed; the source
	// message must be left for redelivery, matching the spec's "don't
	// delete on DLQ send failure" rule.
	OutcomeDLQSendFailed
)

// Handle classifies cause, applies the configured policy, and — if the
// message should go to the DLQ — emits it and clears the retry counter. The
// caller is responsible for deleting the source message when Outcome is
// OutcomeDeleted, and for leaving it alone otherwise.
func (p *Pipeline[T]) Handle(ctx context.Context, messageID string, original T, cause error) (Outcome, error) {
	classification := classify.Classify(cause)

	toDLQ := p.policy == PolicyAlways || classify.IsPermanent(classification.Category)
	var attempts int
	if !toDLQ {
		n, err := p.retries.Increment(ctx, messageID)
		if err != nil {
			// Retry-store unavailable: fail safe by retrying in place
			// rather than guessing at a DLQ decision.
			return OutcomeRetry, fmt.Errorf("increment retry count for %s: %w", messageID, err)
		}
		attempts = n
		if n >= p.maxTry {
			toDLQ = true
		}
	}

	if !toDLQ {
		return OutcomeRetry, nil
	}

	msg := Message[T]{
		OriginalMessage: original,
		Error: ErrorDetail{
			Type:    classification.Category,
			Code:    classification.Code,
			Message: classification.Message,
			Details: classification.Details,
		},
		Meta: Meta{Timestamp: time.Now(), AttemptCount: attempts},
	}
	if err := p.dlq.SendMessage(ctx, msg); err != nil {
		return OutcomeDLQSendFailed, fmt.Errorf("send to dlq: %w", err)
	}
	if err := p.retries.Clear(ctx, messageID); err != nil {
		// Non-fatal: a stale retry counter only affects the next message
		// with the same id, which is already vanishingly unlikely once a
		// uuid-keyed requestId has reached the DLQ.
		return OutcomeDeleted, nil
	}
	return OutcomeDeleted, nil
}

// RedisRetryStore is a RetryStore backed by Redis INCR+EXPIRE, matching the
// nonce coordinator's choice of backing store.
type RedisRetryStore struct {
	rdb *redis.Client
}

// NewRedisRetryStore wraps an already-connected *redis.Client.
func NewRedisRetryStore(rdb *redis.Client) *RedisRetryStore {
	return &RedisRetryStore{rdb: rdb}
}

func (s *RedisRetryStore) Increment(_ context.Context, messageID string) (int, error) {
	key := "retry:" + messageID
	n, err := s.rdb.Incr(key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := s.rdb.Expire(key, RetryTTL).Err(); err != nil {
			return 0, err
		}
	}
	return int(n), nil
}

func (s *RedisRetryStore) Clear(_ context.Context, messageID string) error {
	return s.rdb.Del("retry:" + messageID).Err()
}

// MemoryRetryStore is an in-process RetryStore fallback, used when Redis is
// unreachable and as the default in tests.
type MemoryRetryStore struct {
	mtx    sync.Mutex
	counts map[string]int
}

// NewMemoryRetryStore returns an empty MemoryRetryStore.
func NewMemoryRetryStore() *MemoryRetryStore {
	return &MemoryRetryStore{counts: make(map[string]int)}
}

func (s *MemoryRetryStore) Increment(_ context.Context, messageID string) (int, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.counts[messageID]++
	return s.counts[messageID], nil
}

func (s *MemoryRetryStore) Clear(_ context.Context, messageID string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	delete(s.counts, messageID)
	return nil
}

// FallbackRetryStore tries primary first and falls back to secondary on any
// error, so a Redis outage degrades the DLQ Pipeline to per-process retry
// counting rather than blocking message processing entirely.
type FallbackRetryStore struct {
	primary   RetryStore
	secondary RetryStore
}

// NewFallbackRetryStore returns a RetryStore that prefers primary.
func NewFallbackRetryStore(primary, secondary RetryStore) *FallbackRetryStore {
	return &FallbackRetryStore{primary: primary, secondary: secondary}
}

func (s *FallbackRetryStore) Increment(ctx context.Context, messageID string) (int, error) {
	n, err := s.primary.Increment(ctx, messageID)
	if err == nil {
		return n, nil
	}
	return s.secondary.Increment(ctx, messageID)
}

func (s *FallbackRetryStore) Clear(ctx context.Context, messageID string) error {
	if err := s.primary.Clear(ctx, messageID); err != nil {
		return s.secondary.Clear(ctx, messageID)
	}
	return nil
}
