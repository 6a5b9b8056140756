package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/docflowhq/docflow/internal/documents/domain"
	"github.com/docflowhq/docflow/pkg/db"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

// Coordinator wraps multi-record writes in a single transaction. Callers
// never observe a FileRecord marked parsed without its DocumentRecord.
type Coordinator struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func New(p Params) *Coordinator {
	return &Coordinator{
		db:    p.DB,
		log:   p.Log.Named("documents.coordinator"),
		genID: p.GenID,
	}
}

// WithTransaction executes fn under one transaction, committing on nil and
// rolling back then re-throwing on error.
func (c *Coordinator) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.db.WithContext(ctx).Transaction(fn)
}

// CreateFileWithDocument creates the FileRecord and, when doc is non-nil,
// its typed DocumentRecord in the same transaction.
func (c *Coordinator) CreateFileWithDocument(ctx context.Context, file *domain.FileRecord, doc *domain.DocumentRecord) error {
	return c.WithTransaction(ctx, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if file.ID == 0 {
			file.ID = c.genID.Generate()
		}
		file.CreatedAt = now
		file.UpdatedAt = now
		if file.UploadedAt.IsZero() {
			file.UploadedAt = now
		}
		if doc != nil {
			file.Status = domain.FileStatusParsed
		}

		if err := tx.Create(file).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateFile
			}
			return fmt.Errorf("create file record: %w", err)
		}

		if doc == nil {
			return nil
		}
		return c.createDocument(tx, file.ID, doc, now)
	})
}

// UpdateFileAndCreateDocument mutates an existing FileRecord and creates its
// DocumentRecord in the same transaction, for files persisted by an earlier
// stage whose matching/extraction results are only now available.
func (c *Coordinator) UpdateFileAndCreateDocument(ctx context.Context, fileID snowflake.ID, updates domain.FileUpdates, doc *domain.DocumentRecord) error {
	return c.WithTransaction(ctx, func(tx *gorm.DB) error {
		var file domain.FileRecord
		if err := tx.First(&file, "id = ?", fileID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return domain.ErrFileNotFound
			}
			return err
		}

		now := time.Now().UTC()
		fields := map[string]any{
			"updated_at": now,
		}
		if updates.Status != "" {
			fields["status"] = updates.Status
		}
		if doc != nil {
			// The parsed transition only happens together with document
			// creation.
			fields["status"] = domain.FileStatusParsed
		}
		if updates.CustomerID != nil {
			fields["customer_id"] = updates.CustomerID
		}
		if updates.FailureReason != "" {
			fields["failure_reason"] = updates.FailureReason
		}
		if updates.Metadata != nil {
			fields["metadata"] = updates.Metadata
		}

		if err := tx.Model(&file).Updates(fields).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateFile
			}
			return fmt.Errorf("update file record: %w", err)
		}

		if doc == nil {
			return nil
		}
		return c.createDocument(tx, fileID, doc, now)
	})
}

func (c *Coordinator) createDocument(tx *gorm.DB, fileID snowflake.ID, doc *domain.DocumentRecord, now time.Time) error {
	if doc.ID == 0 {
		doc.ID = c.genID.Generate()
	}
	doc.FileID = fileID
	if doc.Status == "" {
		doc.Status = domain.DocStatusActive
	}
	doc.CreatedAt = now
	doc.UpdatedAt = now

	if err := tx.Create(doc).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrDuplicateFile
		}
		return fmt.Errorf("create document record: %w", err)
	}
	return nil
}

// MarkFileFailed records a data-class failure on the file without touching
// documents. Single-row atomic update.
func (c *Coordinator) MarkFileFailed(ctx context.Context, fileID snowflake.ID, reason string) error {
	return c.db.WithContext(ctx).
		Model(&domain.FileRecord{}).
		Where("id = ?", fileID).
		Updates(map[string]any{
			"status":         domain.FileStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		}).Error
}

// GetFile loads one file record.
func (c *Coordinator) GetFile(ctx context.Context, fileID snowflake.ID) (*domain.FileRecord, error) {
	var file domain.FileRecord
	if err := c.db.WithContext(ctx).First(&file, "id = ?", fileID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrFileNotFound
		}
		return nil, err
	}
	return &file, nil
}
