package domain

import (
	"context"

	documents "github.com/docflowhq/docflow/internal/documents/domain"
)

// Dispatcher persists a delivery log and enqueues the send job. The log row
// always exists before the job does.
type Dispatcher interface {
	QueueEmail(ctx context.Context, msg Message) (*EmailDeliveryLog, error)
	QueueBatch(ctx context.Context, recipients []string, msg Message) ([]*EmailDeliveryLog, error)
	QueueDeletionNotice(ctx context.Context, companyID int64, docs []documents.DocumentRecord) error
}
