package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docflowhq/docflow/internal/broker"
	"github.com/docflowhq/docflow/internal/clock"
	"github.com/docflowhq/docflow/internal/documents/domain"
	obsmetrics "github.com/docflowhq/docflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("retention: invalid sweeper configuration")

// DeletionNotifier receives the per-company batches of documents removed by
// the sweep. The notification dispatcher satisfies this.
type DeletionNotifier interface {
	QueueDeletionNotice(ctx context.Context, companyID int64, docs []domain.DocumentRecord) error
}

// BlobRemover deletes the stored file bytes once the records are gone.
type BlobRemover interface {
	Remove(ctx context.Context, storagePath string) error
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Jobs     *broker.JobStore
	Policies PolicySource
	Notifier DeletionNotifier `optional:"true"`
	Blobs    BlobRemover      `optional:"true"`
	Config   Config           `optional:"true"`
}

// Sweeper runs the periodic retention jobs: deleting expired documents,
// re-stamping expiry dates after a policy change, and pruning finished
// broker jobs past their queue's retention window.
type Sweeper struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      Config
	clock    clock.Clock
	jobs     *broker.JobStore
	policies PolicySource
	notifier DeletionNotifier
	blobs    BlobRemover
}

func New(p Params) (*Sweeper, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Jobs == nil || p.Policies == nil {
		return nil, ErrInvalidConfig
	}
	return &Sweeper{
		db:       p.DB,
		log:      p.Log.Named("retention").With(zap.String("component", "retention_sweeper")),
		cfg:      p.Config.withDefaults(),
		clock:    p.Clock,
		jobs:     p.Jobs,
		policies: p.Policies,
		notifier: p.Notifier,
		blobs:    p.Blobs,
	}, nil
}

func (s *Sweeper) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	log.Debug("job started")

	err := fn(ctx)
	log.Debug("job finished", zap.Duration("elapsed", time.Since(start)))
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out", zap.Duration("timeout", s.cfg.JobTimeout), zap.Error(err))
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Sweeper) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"retention_restamp", s.RestampJob},
		{"retention_sweep", s.SweepJob},
		{"broker_prune", s.BrokerPruneJob},
	}

	for _, job := range jobs {
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
	}

	return err
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("retention run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepJob removes every document whose retention expiry has passed. Each
// document is handled in its own transaction so a single bad row cannot
// stall the sweep, and companies are notified once per run.
func (s *Sweeper) SweepJob(ctx context.Context) error {
	policy, err := s.policies.Current(ctx)
	if err != nil {
		return err
	}
	if !policy.Enabled() {
		return nil
	}

	now := s.clock.Now()
	var jobErr error
	notices := make(map[int64][]domain.DocumentRecord)

	for {
		if ctx.Err() != nil {
			jobErr = errors.Join(jobErr, ctx.Err())
			break
		}

		docs, err := s.fetchDueDocuments(ctx, now)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(docs) == 0 {
			break
		}

		deleted := 0
		for _, doc := range docs {
			if ctx.Err() != nil {
				jobErr = errors.Join(jobErr, ctx.Err())
				break
			}
			if !ShouldDelete(&doc, policy, now) {
				continue
			}
			if err := s.deleteDocument(ctx, doc, now); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.log.Error("retention delete failed",
					zap.Int64("document_id", int64(doc.ID)),
					zap.Error(err),
				)
				continue
			}
			deleted++
			obsmetrics.DocumentsDeleted.Inc()
			notices[int64(doc.CompanyID)] = append(notices[int64(doc.CompanyID)], doc)
		}
		// A batch with no progress would refetch the same rows forever.
		if deleted == 0 {
			break
		}
	}

	if s.notifier != nil {
		for companyID, docs := range notices {
			if err := s.notifier.QueueDeletionNotice(ctx, companyID, docs); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.log.Warn("deletion notice enqueue failed",
					zap.Int64("company_id", companyID),
					zap.Error(err),
				)
			}
		}
	}

	return jobErr
}

func (s *Sweeper) fetchDueDocuments(ctx context.Context, now time.Time) ([]domain.DocumentRecord, error) {
	var docs []domain.DocumentRecord
	err := s.db.WithContext(ctx).
		Where("status = ? AND retention_deleted_at IS NULL AND retention_expiry_date IS NOT NULL AND retention_expiry_date <= ?",
			domain.DocStatusActive, now).
		Order("id asc").
		Limit(s.cfg.SweepBatchSize).
		Find(&docs).Error
	return docs, err
}

func (s *Sweeper) deleteDocument(ctx context.Context, doc domain.DocumentRecord, now time.Time) error {
	var filePath string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.DocumentRecord{}).
			Where("id = ? AND retention_deleted_at IS NULL", doc.ID).
			Updates(map[string]any{
				"status":               domain.DocStatusDeleted,
				"retention_deleted_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		// Another sweeper got here first.
		if res.RowsAffected == 0 {
			return nil
		}

		var file domain.FileRecord
		if err := tx.First(&file, "id = ?", doc.FileID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		filePath = file.FilePath
		return tx.Delete(&file).Error
	})
	if err != nil {
		return err
	}

	if s.blobs != nil && filePath != "" {
		if err := s.blobs.Remove(ctx, filePath); err != nil {
			// Records are authoritative; an orphaned blob is only noise.
			s.log.Warn("stored file removal failed",
				zap.String("file_path", filePath),
				zap.Error(err),
			)
		}
	}

	s.log.Info("document removed by retention",
		zap.Int64("document_id", int64(doc.ID)),
		zap.Int64("company_id", int64(doc.CompanyID)),
		zap.Timep("expired_at", doc.RetentionExpiryDate),
	)
	return nil
}

// RestampJob recomputes retention dates so a policy change applies to
// documents created under the old policy. It pages by ID to keep each
// query bounded.
func (s *Sweeper) RestampJob(ctx context.Context) error {
	policy, err := s.policies.Current(ctx)
	if err != nil {
		return err
	}

	var jobErr error
	var cursor int64

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		var docs []domain.DocumentRecord
		err := s.db.WithContext(ctx).
			Where("id > ? AND status = ? AND retention_deleted_at IS NULL", cursor, domain.DocStatusActive).
			Order("id asc").
			Limit(s.cfg.RestampBatchSize).
			Find(&docs).Error
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(docs) == 0 {
			break
		}

		for _, doc := range docs {
			cursor = int64(doc.ID)

			restamped := doc
			Stamp(&restamped, policy)
			if equalTimePtr(doc.RetentionStartDate, restamped.RetentionStartDate) &&
				equalTimePtr(doc.RetentionExpiryDate, restamped.RetentionExpiryDate) {
				continue
			}

			err := s.db.WithContext(ctx).Model(&domain.DocumentRecord{}).
				Where("id = ?", doc.ID).
				Updates(map[string]any{
					"retention_start_date":  restamped.RetentionStartDate,
					"retention_expiry_date": restamped.RetentionExpiryDate,
				}).Error
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				s.log.Error("retention restamp failed",
					zap.Int64("document_id", int64(doc.ID)),
					zap.Error(err),
				)
			}
		}
	}

	return jobErr
}

// BrokerPruneJob drops finished broker jobs past their queue's retention
// window.
func (s *Sweeper) BrokerPruneJob(ctx context.Context) error {
	pruned, err := s.jobs.Prune(ctx, s.clock.Now())
	if err != nil {
		return err
	}
	if pruned > 0 {
		s.log.Info("broker jobs pruned", zap.Int64("count", pruned))
	}
	return nil
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
