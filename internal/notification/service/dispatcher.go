package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/docflowhq/docflow/internal/broker"
	"github.com/docflowhq/docflow/internal/clock"
	documents "github.com/docflowhq/docflow/internal/documents/domain"
	matcherdomain "github.com/docflowhq/docflow/internal/matcher/domain"
	"github.com/docflowhq/docflow/internal/notification/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// jobPayload is what rides the queue. The log row keeps the audit fields;
// the payload keeps the body so the worker can render the send without a
// second table.
type jobPayload struct {
	LogID   int64          `json:"log_id"`
	Message domain.Message `json:"message"`
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Queue    broker.Queue
	Provider domain.Provider
	GenID    *snowflake.Node
	Clock    clock.Clock
}

type dispatcher struct {
	db       *gorm.DB
	log      *zap.Logger
	queue    broker.Queue
	provider domain.Provider
	genID    *snowflake.Node
	clock    clock.Clock
}

func New(p Params) domain.Dispatcher {
	return &dispatcher{
		db:       p.DB,
		log:      p.Log.Named("notification"),
		queue:    p.Queue,
		provider: p.Provider,
		genID:    p.GenID,
		clock:    p.Clock,
	}
}

// QueueEmail writes the delivery log, then enqueues the send job under the
// deterministic id email_{logID}. A failed enqueue leaves the log marked
// FAILED_PERMANENT so the attempt is still visible.
func (d *dispatcher) QueueEmail(ctx context.Context, msg domain.Message) (*domain.EmailDeliveryLog, error) {
	if len(msg.To) == 0 {
		return nil, domain.ErrNoRecipients
	}

	recipients, err := json.Marshal(msg.To)
	if err != nil {
		return nil, err
	}

	now := d.clock.Now()
	entry := &domain.EmailDeliveryLog{
		ID:             d.genID.Generate(),
		Provider:       d.provider.Name(),
		Recipients:     recipients,
		RecipientCount: len(msg.To),
		Subject:        msg.Subject,
		Template:       msg.Template,
		Status:         domain.StatusQueued,
		MaxAttempts:    broker.Catalogue[broker.QueueEmail].Attempts,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	entry.JobID = fmt.Sprintf("email_%d", entry.ID)

	if err := d.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}

	_, err = d.queue.Enqueue(ctx, broker.QueueEmail,
		jobPayload{LogID: int64(entry.ID), Message: msg},
		broker.EnqueueOptions{JobID: entry.JobID},
	)
	if err != nil {
		entry.Status = domain.StatusFailedPermanent
		entry.LastError = err.Error()
		updateErr := d.db.WithContext(ctx).Model(entry).Updates(map[string]any{
			"status":     domain.StatusFailedPermanent,
			"last_error": entry.LastError,
			"updated_at": d.clock.Now(),
		}).Error
		d.log.Warn("email enqueue failed",
			zap.String("job_id", entry.JobID),
			zap.Error(err),
		)
		return entry, errors.Join(err, updateErr)
	}

	return entry, nil
}

// QueueBatch splits recipients into provider-sized chunks. Providers that
// only take one recipient per send get one log and one job per recipient.
func (d *dispatcher) QueueBatch(ctx context.Context, recipients []string, msg domain.Message) ([]*domain.EmailDeliveryLog, error) {
	if len(recipients) == 0 {
		return nil, domain.ErrNoRecipients
	}

	size := d.provider.MaxBatchSize()
	if size < 1 {
		size = 1
	}

	var (
		logs    []*domain.EmailDeliveryLog
		joinErr error
	)
	for start := 0; start < len(recipients); start += size {
		end := start + size
		if end > len(recipients) {
			end = len(recipients)
		}
		chunk := msg
		chunk.To = recipients[start:end]

		entry, err := d.QueueEmail(ctx, chunk)
		if err != nil {
			joinErr = errors.Join(joinErr, err)
		}
		if entry != nil {
			logs = append(logs, entry)
		}
	}
	return logs, joinErr
}

// QueueDeletionNotice emails a company's contact about documents the
// retention sweep removed. Companies without a contact address are skipped.
func (d *dispatcher) QueueDeletionNotice(ctx context.Context, companyID int64, docs []documents.DocumentRecord) error {
	if len(docs) == 0 {
		return nil
	}

	var supplier matcherdomain.Supplier
	err := d.db.WithContext(ctx).First(&supplier, "id = ?", companyID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			d.log.Warn("deletion notice skipped, company unknown", zap.Int64("company_id", companyID))
			return nil
		}
		return err
	}
	if supplier.Email == "" {
		d.log.Warn("deletion notice skipped, no contact email", zap.Int64("company_id", companyID))
		return nil
	}

	msg, err := ComposeDeletionNotice([]string{supplier.Email}, docs)
	if err != nil {
		return err
	}
	_, err = d.QueueEmail(ctx, msg)
	return err
}
