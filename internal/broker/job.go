package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusDelayed   JobStatus = "delayed"
)

// Job is the persisted unit of queued work. The row is the source of truth
// for attempt accounting and counts; the broker message carries only the id.
type Job struct {
	ID           string         `gorm:"primaryKey;size:64"`
	Queue        string         `gorm:"not null;index:idx_jobs_queue_status"`
	Status       JobStatus      `gorm:"not null;default:'waiting';index:idx_jobs_queue_status"`
	Payload      datatypes.JSON `gorm:"not null"`
	Priority     int            `gorm:"not null;default:0"`
	AttemptsMade int            `gorm:"not null;default:0"`
	MaxAttempts  int            `gorm:"not null;default:1"`
	LastError    string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null;index"`
}

func (Job) TableName() string { return "broker_jobs" }

// UnmarshalPayload decodes the job payload into v.
func (j *Job) UnmarshalPayload(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// JobStore persists job metadata rows. All status transitions are single-row
// atomic updates guarded by the current status, never read-modify-write.
type JobStore struct {
	db *gorm.DB
}

func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

// Insert creates the job row. When the id already exists nothing is written
// and inserted is false; this is what makes enqueue idempotent per job id.
func (s *JobStore) Insert(ctx context.Context, queue QueueName, payload any, opts EnqueueOptions) (*Job, bool, error) {
	cfg, ok := Catalogue[queue]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("marshal payload: %w", err)
	}

	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	job := &Job{
		ID:          id,
		Queue:       string(queue),
		Status:      JobStatusWaiting,
		Payload:     raw,
		Priority:    opts.Priority,
		MaxAttempts: cfg.Attempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(job)
	if res.Error != nil {
		return nil, false, res.Error
	}
	return job, res.RowsAffected > 0, nil
}

// Claim marks a waiting or delayed job active and increments its attempt
// counter. Returns nil when another worker already claimed it.
func (s *JobStore) Claim(ctx context.Context, id string) (*Job, error) {
	res := s.db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND status IN ?", id, []JobStatus{JobStatusWaiting, JobStatusDelayed}).
		Updates(map[string]any{
			"status":        JobStatusActive,
			"attempts_made": gorm.Expr("attempts_made + 1"),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	var job Job
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *JobStore) Complete(ctx context.Context, id string) error {
	return s.transition(ctx, id, JobStatusCompleted, "")
}

func (s *JobStore) Fail(ctx context.Context, id string, cause string) error {
	return s.transition(ctx, id, JobStatusFailed, cause)
}

func (s *JobStore) Delay(ctx context.Context, id string, cause string) error {
	return s.transition(ctx, id, JobStatusDelayed, cause)
}

func (s *JobStore) transition(ctx context.Context, id string, status JobStatus, cause string) error {
	return s.db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"last_error": cause,
			"updated_at": time.Now().UTC(),
		}).Error
}

// DiscardUnrun deletes a terminal job row that never ran an attempt, so a
// requeue pass can enqueue the same id afresh. Rows with attempts keep their
// history.
func (s *JobStore) DiscardUnrun(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("id = ? AND attempts_made = 0 AND status IN ?",
			id, []JobStatus{JobStatusCompleted, JobStatusFailed}).
		Delete(&Job{})
	return res.RowsAffected > 0, res.Error
}

func (s *JobStore) Get(ctx context.Context, id string) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Counts returns the per-status totals for one queue.
func (s *JobStore) Counts(ctx context.Context, queue QueueName) (Counts, error) {
	type row struct {
		Status JobStatus
		Total  int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&Job{}).
		Select("status, count(*) as total").
		Where("queue = ?", string(queue)).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return Counts{}, err
	}

	var counts Counts
	for _, r := range rows {
		switch r.Status {
		case JobStatusWaiting:
			counts.Waiting = r.Total
		case JobStatusActive:
			counts.Active = r.Total
		case JobStatusCompleted:
			counts.Completed = r.Total
		case JobStatusFailed:
			counts.Failed = r.Total
		case JobStatusDelayed:
			counts.Delayed = r.Total
		}
	}
	return counts, nil
}

// Prune removes terminal job rows that aged out of their queue's retention
// window, and trims completed rows above the per-queue count ceiling.
func (s *JobStore) Prune(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	for queue, cfg := range Catalogue {
		res := s.db.WithContext(ctx).
			Where("queue = ? AND status = ? AND updated_at < ?",
				string(queue), JobStatusCompleted, now.Add(-cfg.CompletedMaxAge)).
			Delete(&Job{})
		if res.Error != nil {
			return removed, res.Error
		}
		removed += res.RowsAffected

		res = s.db.WithContext(ctx).
			Where("queue = ? AND status = ? AND updated_at < ?",
				string(queue), JobStatusFailed, now.Add(-cfg.FailedMaxAge)).
			Delete(&Job{})
		if res.Error != nil {
			return removed, res.Error
		}
		removed += res.RowsAffected

		if cfg.CompletedMaxCount > 0 {
			n, err := s.trimCompleted(ctx, queue, cfg.CompletedMaxCount)
			if err != nil {
				return removed, err
			}
			removed += n
		}
	}
	return removed, nil
}

func (s *JobStore) trimCompleted(ctx context.Context, queue QueueName, keep int) (int64, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&Job{}).
		Where("queue = ? AND status = ?", string(queue), JobStatusCompleted).
		Order("updated_at desc").
		Offset(keep).
		Limit(1000).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&Job{})
	return res.RowsAffected, res.Error
}
