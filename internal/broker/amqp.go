package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/docflowhq/docflow/internal/observability/metrics"
)

const (
	jobsExchange  = "docflow.jobs"
	retryExchange = "docflow.jobs.retry"
	dlxExchange   = "docflow.jobs.dlx"
	deadQueue     = "docflow.jobs.dead"
)

// AMQPQueue is the RabbitMQ-backed Queue. Topology: one durable queue per
// catalogue entry bound to a direct jobs exchange, a per-queue ladder of TTL
// retry queues that dead-letter back onto the jobs exchange under the origin
// queue's routing key, and a DLX for jobs that exhausted their attempts.
type AMQPQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	store *JobStore
	log   *zap.Logger

	publishTimeout time.Duration
	prefetch       int

	mu         sync.Mutex
	consumeCtx context.Context
	cancel     context.CancelFunc
	workers    sync.WaitGroup
}

// DialAMQP connects to RabbitMQ and declares the topology. Connection dial
// uses a defensive timeout so a stalled broker cannot wedge startup.
func DialAMQP(url string, dialTimeout, publishTimeout time.Duration, prefetch int, store *JobStore, log *zap.Logger) (*AMQPQueue, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	q := &AMQPQueue{
		conn:           conn,
		ch:             ch,
		store:          store,
		log:            log.Named("broker.amqp"),
		publishTimeout: publishTimeout,
		prefetch:       prefetch,
	}
	if err := q.setupTopology(); err != nil {
		q.conn.Close()
		return nil, fmt.Errorf("declare topology: %w", err)
	}
	return q, nil
}

// setupTopology declares all exchanges and queues. Idempotent.
func (q *AMQPQueue) setupTopology() error {
	if err := q.ch.ExchangeDeclare(jobsExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if err := q.ch.ExchangeDeclare(retryExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if err := q.ch.ExchangeDeclare(dlxExchange, "fanout", true, false, false, false, nil); err != nil {
		return err
	}

	if _, err := q.ch.QueueDeclare(deadQueue, true, false, false, false, nil); err != nil {
		return err
	}
	if err := q.ch.QueueBind(deadQueue, "", dlxExchange, false, nil); err != nil {
		return err
	}

	for name := range Catalogue {
		queueName := amqpQueueName(name)
		_, err := q.ch.QueueDeclare(queueName, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange": dlxExchange,
			"x-max-priority":         int32(10),
		})
		if err != nil {
			return err
		}
		if err := q.ch.QueueBind(queueName, string(name), jobsExchange, false, nil); err != nil {
			return err
		}
	}

	for _, spec := range retryLadder() {
		_, err := q.ch.QueueDeclare(spec.Name, true, false, false, false, spec.arguments())
		if err != nil {
			return err
		}
		if err := q.ch.QueueBind(spec.Name, spec.BindingKey, retryExchange, false, nil); err != nil {
			return err
		}
	}

	return nil
}

// retryQueueSpec declares one TTL parking queue for a (queue, delay) pair.
// The dead-letter routing key must be a queue argument; RabbitMQ ignores it
// as a message header, so a shared per-delay queue cannot route expired
// messages back to their origin.
type retryQueueSpec struct {
	Name       string
	BindingKey string
	Queue      QueueName
	TTL        time.Duration
}

func (s retryQueueSpec) arguments() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    jobsExchange,
		"x-dead-letter-routing-key": string(s.Queue),
		"x-message-ttl":             s.TTL.Milliseconds(),
	}
}

// retryLadder enumerates the retry queues the catalogue needs: one per
// distinct (queue, backoff delay), expired messages dead-lettering back onto
// the jobs exchange under the origin queue's own routing key.
func retryLadder() []retryQueueSpec {
	seen := map[string]struct{}{}
	var specs []retryQueueSpec
	for queue, cfg := range Catalogue {
		for attempt := 1; attempt < cfg.Attempts; attempt++ {
			delay := cfg.BackoffDelay(attempt)
			key := retryRoutingKey(queue, delay)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			specs = append(specs, retryQueueSpec{
				Name:       fmt.Sprintf("docflow.jobs.retry.%s.%dms", queue, delay.Milliseconds()),
				BindingKey: key,
				Queue:      queue,
				TTL:        delay,
			})
		}
	}
	return specs
}

func amqpQueueName(name QueueName) string {
	return fmt.Sprintf("docflow.jobs.%s", name)
}

func retryRoutingKey(queue QueueName, delay time.Duration) string {
	return fmt.Sprintf("retry.%s.%dms", queue, delay.Milliseconds())
}

func (q *AMQPQueue) Enqueue(ctx context.Context, queue QueueName, payload any, opts EnqueueOptions) (JobHandle, error) {
	job, inserted, err := q.store.Insert(ctx, queue, payload, opts)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Same job id already enqueued; hand back the existing job.
		return handle{id: job.ID}, nil
	}

	if err := q.publish(ctx, jobsExchange, string(queue), job.ID, opts.Priority, nil); err != nil {
		if ferr := q.store.Fail(ctx, job.ID, err.Error()); ferr != nil {
			q.log.Error("mark job failed after publish error",
				zap.String("job_id", job.ID), zap.Error(ferr))
		}
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	metrics.JobsEnqueued.WithLabelValues(string(queue)).Inc()
	return handle{id: job.ID}, nil
}

func (q *AMQPQueue) publish(ctx context.Context, exchange, routingKey, jobID string, priority int, headers amqp.Table) error {
	pubCtx, cancel := context.WithTimeout(ctx, q.publishTimeout)
	defer cancel()

	return q.ch.PublishWithContext(pubCtx,
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "text/plain",
			DeliveryMode: amqp.Persistent,
			Body:         []byte(jobID),
			Priority:     mapPriority(priority),
			Headers:      headers,
		})
}

func mapPriority(p int) uint8 {
	switch {
	case p >= 10:
		return 10
	case p <= 0:
		return 0
	default:
		return uint8(p)
	}
}

// Process registers a worker pool on the queue. Each delivery claims the job
// row first, so redelivered messages for already-terminal jobs are acked
// without re-running handlers.
func (q *AMQPQueue) Process(queue QueueName, concurrency int, handler HandlerFunc) error {
	cfg, ok := Catalogue[queue]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	if concurrency <= 0 {
		concurrency = cfg.Concurrency
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(amqpQueueName(queue), "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	q.mu.Lock()
	if q.cancel == nil {
		var ctx context.Context
		ctx, q.cancel = context.WithCancel(context.Background())
		q.consumeCtx = ctx
	}
	ctx := q.consumeCtx
	q.mu.Unlock()

	q.log.Info("worker registered",
		zap.String("queue", string(queue)),
		zap.Int("concurrency", concurrency),
	)

	for i := 0; i < concurrency; i++ {
		q.workers.Add(1)
		go func() {
			defer q.workers.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, open := <-deliveries:
					if !open {
						return
					}
					q.handleDelivery(ctx, queue, cfg, msg, handler)
				}
			}
		}()
	}
	return nil
}

func (q *AMQPQueue) handleDelivery(ctx context.Context, queue QueueName, cfg QueueConfig, msg amqp.Delivery, handler HandlerFunc) {
	jobID := string(msg.Body)
	log := q.log.With(zap.String("queue", string(queue)), zap.String("job_id", jobID))

	job, err := q.store.Claim(ctx, jobID)
	if err != nil {
		log.Error("claim job", zap.Error(err))
		_ = msg.Nack(false, true) // transient DB error, requeue
		return
	}
	if job == nil {
		// Already claimed or terminal; the delivery is handled.
		_ = msg.Ack(false)
		return
	}

	start := time.Now()
	handlerErr := handler(ctx, job)
	metrics.JobDuration.WithLabelValues(string(queue)).Observe(time.Since(start).Seconds())

	if handlerErr == nil {
		if err := q.store.Complete(ctx, jobID); err != nil {
			log.Error("mark job completed", zap.Error(err))
		}
		metrics.JobsProcessed.WithLabelValues(string(queue), "completed").Inc()
		_ = msg.Ack(false)
		return
	}

	log.Warn("job attempt failed",
		zap.Int("attempt", job.AttemptsMade),
		zap.Int("max_attempts", job.MaxAttempts),
		zap.Error(handlerErr),
	)

	if job.AttemptsMade < job.MaxAttempts {
		delay := cfg.BackoffDelay(job.AttemptsMade)
		if err := q.store.Delay(ctx, jobID, handlerErr.Error()); err != nil {
			log.Error("mark job delayed", zap.Error(err))
		}
		if err := q.publish(ctx, retryExchange, retryRoutingKey(queue, delay), jobID, job.Priority, nil); err != nil {
			log.Error("publish retry", zap.Error(err))
			_ = msg.Nack(false, true)
			return
		}
		metrics.JobsProcessed.WithLabelValues(string(queue), "retried").Inc()
	} else {
		if err := q.store.Fail(ctx, jobID, handlerErr.Error()); err != nil {
			log.Error("mark job failed", zap.Error(err))
		}
		metrics.JobsProcessed.WithLabelValues(string(queue), "failed").Inc()
	}
	_ = msg.Ack(false)
}

func (q *AMQPQueue) Counts(ctx context.Context, queue QueueName) (Counts, error) {
	if _, ok := Catalogue[queue]; !ok {
		return Counts{}, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	return q.store.Counts(ctx, queue)
}

// Close stops consumers, waits for in-flight handlers, and drains the
// connection. Called from the fx OnStop hook.
func (q *AMQPQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	if err := q.ch.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}
