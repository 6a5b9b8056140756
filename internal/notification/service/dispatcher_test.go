package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/docflowhq/docflow/internal/broker"
	"github.com/docflowhq/docflow/internal/clock"
	documents "github.com/docflowhq/docflow/internal/documents/domain"
	matcherdomain "github.com/docflowhq/docflow/internal/matcher/domain"
	"github.com/docflowhq/docflow/internal/notification/domain"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeQueue struct {
	enqueued []fakeEnqueue
	err      error
}

type fakeEnqueue struct {
	queue   broker.QueueName
	payload any
	opts    broker.EnqueueOptions
}

func (q *fakeQueue) Enqueue(_ context.Context, queue broker.QueueName, payload any, opts broker.EnqueueOptions) (broker.JobHandle, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.enqueued = append(q.enqueued, fakeEnqueue{queue: queue, payload: payload, opts: opts})
	return broker.NewNoop().Enqueue(context.Background(), queue, payload, opts)
}

func (q *fakeQueue) Process(broker.QueueName, int, broker.HandlerFunc) error { return nil }
func (q *fakeQueue) Counts(context.Context, broker.QueueName) (broker.Counts, error) {
	return broker.Counts{}, nil
}
func (q *fakeQueue) Close(context.Context) error { return nil }

type fakeProvider struct {
	name      string
	batchSize int
	err       error
	sent      []domain.Message
}

func (p *fakeProvider) Name() string      { return p.name }
func (p *fakeProvider) MaxBatchSize() int { return p.batchSize }
func (p *fakeProvider) Send(_ context.Context, msg domain.Message) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, msg)
	return nil
}

func openNotificationDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.EmailDeliveryLog{}, &matcherdomain.Supplier{}))
	return db
}

func newDispatcher(t *testing.T, db *gorm.DB, queue broker.Queue, provider domain.Provider) domain.Dispatcher {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Queue:    queue,
		Provider: provider,
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
	})
}

func TestQueueEmail_PersistsLogBeforeEnqueue(t *testing.T) {
	db := openNotificationDB(t)
	queue := &fakeQueue{}
	provider := &fakeProvider{name: "smtp", batchSize: 1}
	d := newDispatcher(t, db, queue, provider)

	entry, err := d.QueueEmail(context.Background(), domain.Message{
		To:      []string{"billing@example.com"},
		Subject: "Document INV-100 imported",
	})
	require.NoError(t, err)
	require.NotNil(t, entry)

	assert.Equal(t, fmt.Sprintf("email_%d", entry.ID), entry.JobID)
	assert.Equal(t, domain.StatusQueued, entry.Status)
	assert.Equal(t, "smtp", entry.Provider)
	assert.Equal(t, 1, entry.RecipientCount)

	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, broker.QueueEmail, queue.enqueued[0].queue)
	assert.Equal(t, entry.JobID, queue.enqueued[0].opts.JobID)

	var stored domain.EmailDeliveryLog
	require.NoError(t, db.First(&stored, "id = ?", entry.ID).Error)
	var recipients []string
	require.NoError(t, json.Unmarshal(stored.Recipients, &recipients))
	assert.Equal(t, []string{"billing@example.com"}, recipients)
}

func TestQueueEmail_EnqueueFailureMarksPermanent(t *testing.T) {
	db := openNotificationDB(t)
	queue := &fakeQueue{err: broker.ErrBrokerUnavailable}
	d := newDispatcher(t, db, queue, &fakeProvider{name: "smtp", batchSize: 1})

	entry, err := d.QueueEmail(context.Background(), domain.Message{
		To:      []string{"billing@example.com"},
		Subject: "test",
	})
	require.Error(t, err)
	require.NotNil(t, entry)

	var stored domain.EmailDeliveryLog
	require.NoError(t, db.First(&stored, "id = ?", entry.ID).Error)
	assert.Equal(t, domain.StatusFailedPermanent, stored.Status)
	assert.Contains(t, stored.LastError, "broker unavailable")
}

func TestQueueEmail_NoRecipients(t *testing.T) {
	db := openNotificationDB(t)
	d := newDispatcher(t, db, &fakeQueue{}, &fakeProvider{name: "smtp", batchSize: 1})

	_, err := d.QueueEmail(context.Background(), domain.Message{Subject: "test"})
	assert.ErrorIs(t, err, domain.ErrNoRecipients)
}

func TestQueueBatch_ChunksByProviderBatchSize(t *testing.T) {
	db := openNotificationDB(t)
	queue := &fakeQueue{}
	d := newDispatcher(t, db, queue, &fakeProvider{name: "relay", batchSize: 2})

	recipients := []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com"}
	logs, err := d.QueueBatch(context.Background(), recipients, domain.Message{Subject: "digest"})
	require.NoError(t, err)

	assert.Len(t, logs, 3)
	assert.Len(t, queue.enqueued, 3)
	assert.Equal(t, 2, logs[0].RecipientCount)
	assert.Equal(t, 1, logs[2].RecipientCount)
}

func TestQueueBatch_PerRecipientProvider(t *testing.T) {
	db := openNotificationDB(t)
	queue := &fakeQueue{}
	d := newDispatcher(t, db, queue, &fakeProvider{name: "enterprise", batchSize: 1})

	logs, err := d.QueueBatch(context.Background(), []string{"a@x.com", "b@x.com"}, domain.Message{Subject: "digest"})
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestQueueDeletionNotice(t *testing.T) {
	db := openNotificationDB(t)
	queue := &fakeQueue{}
	d := newDispatcher(t, db, queue, &fakeProvider{name: "smtp", batchSize: 1})

	require.NoError(t, db.Create(&matcherdomain.Supplier{
		ID:    snowflake.ID(77),
		Code:  "ACME",
		Name:  "Acme Ltd",
		Email: "finance@acme.example",
	}).Error)

	docs := []documents.DocumentRecord{{
		ID:             snowflake.ID(1),
		Type:           documents.DocTypeInvoice,
		DocumentNumber: "INV-100",
	}}
	require.NoError(t, d.QueueDeletionNotice(context.Background(), 77, docs))
	require.Len(t, queue.enqueued, 1)

	// Companies without a contact address are skipped, not failed.
	require.NoError(t, db.Create(&matcherdomain.Supplier{
		ID:   snowflake.ID(78),
		Code: "NOMAIL",
		Name: "No Mail Co",
	}).Error)
	require.NoError(t, d.QueueDeletionNotice(context.Background(), 78, docs))
	assert.Len(t, queue.enqueued, 1)

	require.NoError(t, d.QueueDeletionNotice(context.Background(), 999, docs))
	assert.Len(t, queue.enqueued, 1)
}

func TestQueueDeletionNotice_DispatcherErrorsSurface(t *testing.T) {
	db := openNotificationDB(t)
	queue := &fakeQueue{err: errors.New("amqp closed")}
	d := newDispatcher(t, db, queue, &fakeProvider{name: "smtp", batchSize: 1})

	require.NoError(t, db.Create(&matcherdomain.Supplier{
		ID:    snowflake.ID(77),
		Code:  "ACME",
		Name:  "Acme Ltd",
		Email: "finance@acme.example",
	}).Error)

	err := d.QueueDeletionNotice(context.Background(), 77, []documents.DocumentRecord{{
		DocumentNumber: "INV-1",
		Type:           documents.DocTypeInvoice,
	}})
	assert.Error(t, err)
}
