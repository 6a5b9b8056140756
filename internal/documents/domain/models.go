package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrFileNotFound     = errors.New("file record not found")
	ErrDuplicateFile    = errors.New("file already imported for this company")
	ErrMissingDocument  = errors.New("document data is required")
	ErrInvalidFileState = errors.New("file is not in an updatable state")
)

type FileStatus string

const (
	FileStatusUploaded FileStatus = "uploaded"
	FileStatusParsed   FileStatus = "parsed"
	FileStatusFailed   FileStatus = "failed"
)

// FileRecord is created at ingestion. CustomerID, Status and Metadata are
// mutated after matching/extraction. Two indexes guard double-submission:
// the composite one covers matched rows, and the partial one covers the
// ingest stage, where CustomerID is still NULL and NULLs compare distinct
// in a plain unique index.
type FileRecord struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	FileName      string            `gorm:"not null" json:"file_name"`
	FilePath      string            `gorm:"not null" json:"file_path"`
	FileHash      string            `gorm:"size:64;not null;uniqueIndex:ux_files_hash_customer,priority:1;uniqueIndex:ux_files_hash_ingest,where:customer_id IS NULL" json:"file_hash"`
	Status        FileStatus        `gorm:"not null;default:'uploaded';index" json:"status"`
	CustomerID    *snowflake.ID     `gorm:"uniqueIndex:ux_files_hash_customer,priority:2" json:"customer_id,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	UploadedAt    time.Time         `gorm:"not null" json:"uploaded_at"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null" json:"updated_at"`
	DeletedAt     gorm.DeletedAt    `gorm:"index" json:"-"`
}

func (FileRecord) TableName() string { return "file_records" }

type DocumentType string

const (
	DocTypeInvoice    DocumentType = "invoice"
	DocTypeCreditNote DocumentType = "credit_note"
	DocTypeStatement  DocumentType = "statement"
)

type DocumentStatus string

const (
	DocStatusActive  DocumentStatus = "active"
	DocStatusDeleted DocumentStatus = "deleted"
)

// DocumentRecord is created exactly once per successfully matched
// FileRecord, inside the same transaction as the file's terminal update.
// RetentionDeletedAt is the only legitimate post-creation status mutation
// besides the viewed/downloaded timestamps.
type DocumentRecord struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	FileID         snowflake.ID   `gorm:"not null;uniqueIndex" json:"file_id"`
	CompanyID      snowflake.ID   `gorm:"not null;index" json:"company_id"`
	Type           DocumentType   `gorm:"not null" json:"type"`
	DocumentNumber string         `gorm:"not null;index" json:"document_number"`
	IssueDate      *time.Time     `json:"issue_date,omitempty"`
	PeriodEndDate  *time.Time     `json:"period_end_date,omitempty"`
	Amount         float64        `gorm:"not null;default:0" json:"amount"`
	TaxAmount      float64        `gorm:"not null;default:0" json:"tax_amount"`
	Status         DocumentStatus `gorm:"not null;default:'active'" json:"status"`

	RetentionStartDate  *time.Time `json:"retention_start_date,omitempty"`
	RetentionExpiryDate *time.Time `gorm:"index" json:"retention_expiry_date,omitempty"`
	RetentionDeletedAt  *time.Time `json:"retention_deleted_at,omitempty"`

	ViewedAt     *time.Time        `json:"viewed_at,omitempty"`
	DownloadedAt *time.Time        `json:"downloaded_at,omitempty"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt    time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"not null" json:"updated_at"`
	DeletedAt    gorm.DeletedAt    `gorm:"index" json:"-"`
}

func (DocumentRecord) TableName() string { return "document_records" }

// FileUpdates carries the mutable FileRecord fields applied after matching
// and extraction.
type FileUpdates struct {
	Status        FileStatus
	CustomerID    *snowflake.ID
	FailureReason string
	Metadata      datatypes.JSONMap
}
