package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/docflowhq/docflow/internal/broker"
	"github.com/docflowhq/docflow/internal/clock"
	"github.com/docflowhq/docflow/internal/ingest"
	"github.com/docflowhq/docflow/internal/retention"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Task names accepted on the scheduled-tasks queue.
const (
	TaskRetentionSweep = "retention_sweep"
	TaskRequeueStuck   = "requeue_stuck"
	TaskBrokerPrune    = "broker_prune"
)

const (
	requeueInterval   = 10 * time.Minute
	requeueStuckLimit = 100
)

// TaskPayload names the maintenance task to run.
type TaskPayload struct {
	Task string `json:"task"`
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Queue   broker.Queue
	Jobs    *broker.JobStore
	Sweeper *retention.Sweeper
	Ingest  *ingest.Service
	Clock   clock.Clock
}

// Runner consumes the scheduled-tasks queue. Putting maintenance runs through
// the broker gives them the same idempotency guard as any other job, so a
// fleet of instances executes each scheduled window exactly once.
type Runner struct {
	log     *zap.Logger
	queue   broker.Queue
	jobs    *broker.JobStore
	sweeper *retention.Sweeper
	ingest  *ingest.Service
	clock   clock.Clock
}

func NewRunner(p Params) *Runner {
	return &Runner{
		log:     p.Log.Named("schedule.runner"),
		queue:   p.Queue,
		jobs:    p.Jobs,
		sweeper: p.Sweeper,
		ingest:  p.Ingest,
		clock:   p.Clock,
	}
}

// Window returns the start of the current scheduling window. Tasks enqueued
// with the same window collapse to one job.
func (r *Runner) Window() time.Time {
	return r.clock.Now().Truncate(requeueInterval)
}

// EnqueueTask queues one maintenance run. The job id is derived from the task
// name and the interval window, so concurrent enqueuers collapse to one job.
func (r *Runner) EnqueueTask(ctx context.Context, task string, window time.Time) error {
	jobID := fmt.Sprintf("%s_%s_%d", broker.QueueScheduledTasks, task, window.Unix())
	_, err := r.queue.Enqueue(ctx, broker.QueueScheduledTasks,
		TaskPayload{Task: task},
		broker.EnqueueOptions{JobID: jobID},
	)
	return err
}

func (r *Runner) Handle(ctx context.Context, job *broker.Job) error {
	var payload TaskPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		r.log.Error("task payload undecodable", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}

	start := r.clock.Now()
	var err error
	switch payload.Task {
	case TaskRetentionSweep:
		err = r.sweeper.RunOnce(ctx)
	case TaskRequeueStuck:
		var requeued int
		requeued, err = r.ingest.RequeueStuck(ctx, requeueStuckLimit)
		if requeued > 0 {
			r.log.Info("stuck uploads requeued", zap.Int("count", requeued))
		}
	case TaskBrokerPrune:
		_, err = r.jobs.Prune(ctx, r.clock.Now())
	default:
		r.log.Warn("unknown scheduled task", zap.String("task", payload.Task))
		return nil
	}

	if err != nil {
		return fmt.Errorf("task %s: %w", payload.Task, err)
	}
	r.log.Debug("scheduled task done",
		zap.String("task", payload.Task),
		zap.Duration("took", r.clock.Now().Sub(start)),
	)
	return nil
}

// RunEnqueuer periodically queues the requeue-stuck pass. The window-derived
// job id keeps this safe to run on every instance.
func (r *Runner) RunEnqueuer(ctx context.Context) {
	ticker := time.NewTicker(requeueInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.EnqueueTask(ctx, TaskRequeueStuck, r.Window()); err != nil {
				r.log.Warn("scheduled enqueue failed", zap.Error(err))
			}
		}
	}
}
