package service

import (
	"context"
	"fmt"

	"github.com/docflowhq/docflow/internal/broker"
	"github.com/docflowhq/docflow/internal/clock"
	"github.com/docflowhq/docflow/internal/config"
	"github.com/docflowhq/docflow/internal/notification/domain"
	obsmetrics "github.com/docflowhq/docflow/internal/observability/metrics"
	"github.com/docflowhq/docflow/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type WorkerParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Queue    broker.Queue
	Provider domain.Provider
	Limiter  *ratelimit.EmailLimiter `optional:"true"`
	Clock    clock.Clock
	Config   config.Config
}

// sendGate is what Handle needs from the email limiter.
type sendGate interface {
	Allow(ctx context.Context, provider string) (ratelimit.Result, error)
}

// Worker consumes the email queue and drives each send through the active
// provider, updating the delivery log on every attempt.
type Worker struct {
	db       *gorm.DB
	log      *zap.Logger
	provider domain.Provider
	limiter  sendGate
	clock    clock.Clock
}

func NewWorker(p WorkerParams) *Worker {
	w := &Worker{
		db:       p.DB,
		log:      p.Log.Named("notification.worker"),
		provider: p.Provider,
		clock:    p.Clock,
	}
	if p.Limiter != nil {
		w.limiter = p.Limiter
	}
	return w
}

// Concurrency sums the per-provider worker settings. Only one provider is
// active at a time, so the sum is the queue's effective ceiling and the
// limiter keeps the active provider inside its own send rate.
func Concurrency(cfg config.Config) int {
	total := 0
	for _, n := range cfg.Email.Workers {
		if n > 0 {
			total += n
		}
	}
	if total == 0 {
		return 1
	}
	return total
}

// Register subscribes the worker to the email queue.
func Register(p WorkerParams, worker *Worker) error {
	return p.Queue.Process(broker.QueueEmail, Concurrency(p.Config), worker.Handle)
}

// Handle processes one queued email. The delivery log is updated on every
// attempt, throttled ones included; a throttled final attempt must surface
// as a permanent failure, not sit QUEUED forever.
func (w *Worker) Handle(ctx context.Context, job *broker.Job) error {
	var payload jobPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		// Undecodable payloads can never succeed; record and stop retrying.
		w.failLog(ctx, payload.LogID, domain.StatusFailedPermanent, err, job.AttemptsMade)
		return nil
	}

	if w.limiter != nil {
		res, err := w.limiter.Allow(ctx, w.provider.Name())
		if err != nil {
			w.log.Warn("email throttle check failed", zap.Error(err))
		} else if !res.Allowed {
			obsmetrics.EmailsSent.WithLabelValues(w.provider.Name(), "throttled").Inc()

			throttled := fmt.Errorf("provider %s throttled, retry in %s", w.provider.Name(), res.RetryAfter)
			status := domain.StatusFailedRetrying
			if job.AttemptsMade >= job.MaxAttempts {
				status = domain.StatusFailedPermanent
			}
			w.failLog(ctx, payload.LogID, status, throttled, job.AttemptsMade)
			return throttled
		}
	}

	if err := w.provider.Send(ctx, payload.Message); err != nil {
		obsmetrics.EmailsSent.WithLabelValues(w.provider.Name(), "failed").Inc()

		status := domain.StatusFailedRetrying
		if job.AttemptsMade >= job.MaxAttempts {
			status = domain.StatusFailedPermanent
		}
		w.failLog(ctx, payload.LogID, status, err, job.AttemptsMade)
		return err
	}

	obsmetrics.EmailsSent.WithLabelValues(w.provider.Name(), "sent").Inc()

	now := w.clock.Now()
	err := w.db.WithContext(ctx).
		Model(&domain.EmailDeliveryLog{}).
		Where("id = ?", payload.LogID).
		Updates(map[string]any{
			"status":        domain.StatusSent,
			"attempts_made": job.AttemptsMade,
			"last_error":    "",
			"sent_at":       now,
			"updated_at":    now,
		}).Error
	if err != nil {
		// The mail went out; a log update failure must not resend it.
		w.log.Error("delivery log update failed after send",
			zap.Int64("log_id", payload.LogID),
			zap.Error(err),
		)
	}
	return nil
}

func (w *Worker) failLog(ctx context.Context, logID int64, status domain.DeliveryStatus, cause error, attempts int) {
	err := w.db.WithContext(ctx).
		Model(&domain.EmailDeliveryLog{}).
		Where("id = ?", logID).
		Updates(map[string]any{
			"status":        status,
			"attempts_made": attempts,
			"last_error":    cause.Error(),
			"updated_at":    w.clock.Now(),
		}).Error
	if err != nil {
		w.log.Error("delivery log update failed",
			zap.Int64("log_id", logID),
			zap.Error(err),
		)
	}
}
