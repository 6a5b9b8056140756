package retention

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// DateTrigger selects which document date starts the retention clock.
type DateTrigger string

const (
	TriggerUploadDate  DateTrigger = "upload_date"
	TriggerInvoiceDate DateTrigger = "invoice_date"
)

// Policy is the per-tenant retention configuration. A nil PeriodDays
// disables retention entirely.
type Policy struct {
	PeriodDays  *int
	DateTrigger DateTrigger
}

func (p Policy) Enabled() bool {
	return p.PeriodDays != nil && *p.PeriodDays > 0
}

// PolicyRecord is the persisted singleton settings row, owned by the
// settings surface; the pipeline only reads it.
type PolicyRecord struct {
	ID          int64     `gorm:"primaryKey"`
	PeriodDays  *int      `gorm:"column:period_days"`
	DateTrigger string    `gorm:"column:date_trigger;not null;default:'upload_date'"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (PolicyRecord) TableName() string { return "retention_policies" }

// PolicySource yields the current policy. Implementations must re-read per
// invocation; a long-lived cache could serve a stale policy.
type PolicySource interface {
	Current(ctx context.Context) (Policy, error)
}

type dbPolicySource struct {
	db *gorm.DB
}

func NewPolicySource(db *gorm.DB) PolicySource {
	return &dbPolicySource{db: db}
}

func (s *dbPolicySource) Current(ctx context.Context) (Policy, error) {
	var rec PolicyRecord
	err := s.db.WithContext(ctx).Order("id asc").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Policy{DateTrigger: TriggerUploadDate}, nil
	}
	if err != nil {
		return Policy{}, err
	}

	trigger := DateTrigger(rec.DateTrigger)
	if trigger != TriggerInvoiceDate {
		trigger = TriggerUploadDate
	}
	return Policy{PeriodDays: rec.PeriodDays, DateTrigger: trigger}, nil
}
