package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/docflowhq/docflow/internal/broker"
	"github.com/docflowhq/docflow/internal/clock"
	"github.com/docflowhq/docflow/internal/documents/domain"
	"github.com/docflowhq/docflow/internal/documents/service"
	obsmetrics "github.com/docflowhq/docflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrUnsupportedFormat = errors.New("unsupported file format")

// acceptedExts are the formats the pipeline can process: spreadsheets
// directly, the rest through an OCR backend.
var acceptedExts = map[string]struct{}{
	".xlsx": {},
	".xls":  {},
	".csv":  {},
	".pdf":  {},
	".png":  {},
	".jpg":  {},
	".jpeg": {},
}

// ImportPayload rides the import queues. TemplateID zero means the default
// template.
type ImportPayload struct {
	FileID     int64 `json:"file_id"`
	TemplateID int64 `json:"template_id,omitempty"`
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Queue       broker.Queue
	Jobs        *broker.JobStore
	Coordinator *service.Coordinator
	Storage     *DiskStorage
	GenID       *snowflake.Node
	Clock       clock.Clock
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	queue       broker.Queue
	jobs        *broker.JobStore
	coordinator *service.Coordinator
	storage     *DiskStorage
	genID       *snowflake.Node
	clock       clock.Clock
}

func New(p Params) *Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("ingest"),
		queue:       p.Queue,
		jobs:        p.Jobs,
		coordinator: p.Coordinator,
		storage:     p.Storage,
		genID:       p.GenID,
		clock:       p.Clock,
	}
}

// importQueueFor routes explicit-template imports to the invoice queue so
// their backlog can be watched and tuned apart from anonymous drops.
func importQueueFor(templateID int64) broker.QueueName {
	if templateID != 0 {
		return broker.QueueInvoiceImport
	}
	return broker.QueueFileImport
}

func importJobID(queue broker.QueueName, hash string) string {
	return fmt.Sprintf("%s_%s", queue, hash)
}

// Ingest accepts one uploaded file: hash, store, record, enqueue. Re-sending
// identical content returns the existing record with ErrDuplicateFile; the
// hash-derived job id keeps the import from running twice even when two
// instances race past the duplicate check. A non-zero templateID pins the
// extraction template for this file instead of the tenant default.
func (s *Service) Ingest(ctx context.Context, fileName string, data []byte, source string, templateID int64) (*domain.FileRecord, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if _, ok := acceptedExts[ext]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	var existing domain.FileRecord
	err := s.db.WithContext(ctx).First(&existing, "file_hash = ?", hash).Error
	if err == nil {
		return &existing, domain.ErrDuplicateFile
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	path, err := s.storage.Save(ctx, hash, fileName, data)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	metadata := datatypes.JSONMap{"source": source, "content_type": contentTypeFor(ext)}
	if templateID != 0 {
		metadata["template_id"] = templateID
	}
	file := &domain.FileRecord{
		ID:         s.genID.Generate(),
		FileName:   filepath.Base(fileName),
		FilePath:   path,
		FileHash:   hash,
		Status:     domain.FileStatusUploaded,
		Metadata:   metadata,
		UploadedAt: now,
	}
	if err := s.coordinator.CreateFileWithDocument(ctx, file, nil); err != nil {
		if errors.Is(err, domain.ErrDuplicateFile) {
			// Lost the race; hand back the winner's record.
			if lookupErr := s.db.WithContext(ctx).First(&existing, "file_hash = ?", hash).Error; lookupErr == nil {
				return &existing, domain.ErrDuplicateFile
			}
		}
		return nil, err
	}

	queue := importQueueFor(templateID)
	_, err = s.queue.Enqueue(ctx, queue,
		ImportPayload{FileID: int64(file.ID), TemplateID: templateID},
		broker.EnqueueOptions{JobID: importJobID(queue, hash)},
	)
	if err != nil {
		// The record exists with status uploaded; the periodic requeue pass
		// will pick it up once the broker is back.
		s.log.Warn("import enqueue failed",
			zap.Int64("file_id", int64(file.ID)),
			zap.Error(err),
		)
	}

	obsmetrics.FilesIngested.WithLabelValues(source).Inc()
	s.log.Info("file ingested",
		zap.Int64("file_id", int64(file.ID)),
		zap.String("file_name", file.FileName),
		zap.String("source", source),
	)
	return file, nil
}

// RequeueStuck re-enqueues uploaded files whose import job never ran, for
// recovery after broker outages. The hash job id makes this safe to call
// alongside normal ingestion; files whose job already ran to a terminal
// state are skipped rather than re-enqueued as a no-op forever.
func (s *Service) RequeueStuck(ctx context.Context, limit int) (int, error) {
	var files []domain.FileRecord
	err := s.db.WithContext(ctx).
		Where("status = ?", domain.FileStatusUploaded).
		Order("created_at asc").
		Limit(limit).
		Find(&files).Error
	if err != nil {
		return 0, err
	}

	requeued := 0
	for i := range files {
		templateID := templateIDFrom(files[i].Metadata)
		queue := importQueueFor(templateID)
		jobID := importJobID(queue, files[i].FileHash)

		job, err := s.jobs.Get(ctx, jobID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return requeued, err
		}
		if job != nil {
			switch job.Status {
			case broker.JobStatusCompleted, broker.JobStatusFailed:
				if job.AttemptsMade > 0 {
					// The job ran and ended; this file will never move by
					// replaying the same id.
					continue
				}
				// Terminal without a single attempt means the publish never
				// happened; clear the row so Enqueue re-publishes it.
				if _, err := s.jobs.DiscardUnrun(ctx, jobID); err != nil {
					return requeued, err
				}
			default:
				// The broker still owns the job.
				continue
			}
		}

		_, err = s.queue.Enqueue(ctx, queue,
			ImportPayload{FileID: int64(files[i].ID), TemplateID: templateID},
			broker.EnqueueOptions{JobID: jobID},
		)
		if err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

// templateIDFrom recovers the pinned template id from file metadata; JSON
// round-trips numbers as float64.
func templateIDFrom(meta datatypes.JSONMap) int64 {
	switch v := meta["template_id"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

func contentTypeFor(ext string) string {
	switch ext {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xls":
		return "application/vnd.ms-excel"
	case ".csv":
		return "text/csv"
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
