package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrNoRecipients  = errors.New("email has no recipients")
	ErrLogNotFound   = errors.New("email delivery log not found")
	ErrProviderUnset = errors.New("no email provider configured")
)

// DeliveryStatus tracks one email through its lifecycle. FAILED_RETRYING
// means the send failed but the job still has attempts left.
type DeliveryStatus string

const (
	StatusQueued          DeliveryStatus = "QUEUED"
	StatusSent            DeliveryStatus = "SENT"
	StatusFailedRetrying  DeliveryStatus = "FAILED_RETRYING"
	StatusFailedPermanent DeliveryStatus = "FAILED_PERMANENT"
)

// EmailDeliveryLog is written before the send job is enqueued, so every
// attempted email has a row even when the broker is down. Rows are the audit
// trail and are never deleted.
type EmailDeliveryLog struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	JobID          string         `gorm:"size:64;index" json:"job_id"`
	Provider       string         `gorm:"not null" json:"provider"`
	Recipients     datatypes.JSON `gorm:"not null" json:"recipients"`
	RecipientCount int            `gorm:"not null" json:"recipient_count"`
	Subject        string         `gorm:"not null" json:"subject"`
	Template       string         `json:"template,omitempty"`
	Status         DeliveryStatus `gorm:"not null;default:'QUEUED';index" json:"status"`
	AttemptsMade   int            `gorm:"not null;default:0" json:"attempts_made"`
	MaxAttempts    int            `gorm:"not null;default:1" json:"max_attempts"`
	LastError      string         `json:"last_error,omitempty"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

func (EmailDeliveryLog) TableName() string { return "email_delivery_logs" }

// Message is one outbound email. Template and Data are used when the body is
// rendered server-side; HTMLBody wins when both are set.
type Message struct {
	To       []string       `json:"to"`
	Subject  string         `json:"subject"`
	HTMLBody string         `json:"html_body,omitempty"`
	Template string         `json:"template,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}
