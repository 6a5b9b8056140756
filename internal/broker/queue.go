package broker

import (
	"context"
	"errors"
)

var (
	ErrBrokerUnavailable = errors.New("broker unavailable")
	ErrUnknownQueue      = errors.New("unknown queue")
)

// EnqueueOptions carries optional per-job settings. A caller-supplied JobID is
// the job's idempotency key: enqueueing the same id twice creates one job.
type EnqueueOptions struct {
	JobID    string
	Priority int
}

// JobHandle is returned from Enqueue. The no-op queue returns a handle with an
// empty id so callers on the request path never branch on broker availability.
type JobHandle interface {
	ID() string
}

// Counts is the observability snapshot for one queue.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// HandlerFunc processes one job. Returning an error triggers the queue's
// retry policy; handlers must be idempotent because jobs may be redelivered.
type HandlerFunc func(ctx context.Context, job *Job) error

// Queue is the typed wrapper over the durable broker. Two implementations
// exist: the RabbitMQ-backed one and a no-op used when the broker is
// unreachable or disabled.
type Queue interface {
	Enqueue(ctx context.Context, queue QueueName, payload any, opts EnqueueOptions) (JobHandle, error)
	Process(queue QueueName, concurrency int, handler HandlerFunc) error
	Counts(ctx context.Context, queue QueueName) (Counts, error)
	Close(ctx context.Context) error
}

type handle struct {
	id string
}

func (h handle) ID() string { return h.id }

// NoopQueue satisfies Queue without a broker. Every enqueue succeeds with a
// degraded handle; nothing is ever dispatched.
type NoopQueue struct{}

func NewNoop() *NoopQueue { return &NoopQueue{} }

func (q *NoopQueue) Enqueue(ctx context.Context, queue QueueName, payload any, opts EnqueueOptions) (JobHandle, error) {
	return handle{}, nil
}

func (q *NoopQueue) Process(queue QueueName, concurrency int, handler HandlerFunc) error {
	return nil
}

func (q *NoopQueue) Counts(ctx context.Context, queue QueueName) (Counts, error) {
	return Counts{}, nil
}

func (q *NoopQueue) Close(ctx context.Context) error {
	return nil
}
