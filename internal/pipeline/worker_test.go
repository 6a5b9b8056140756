package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/docflowhq/docflow/internal/broker"
	"github.com/docflowhq/docflow/internal/clock"
	"github.com/docflowhq/docflow/internal/documents/domain"
	docsvc "github.com/docflowhq/docflow/internal/documents/service"
	"github.com/docflowhq/docflow/internal/extraction"
	"github.com/docflowhq/docflow/internal/ingest"
	matcherdomain "github.com/docflowhq/docflow/internal/matcher/domain"
	notifdomain "github.com/docflowhq/docflow/internal/notification/domain"
	"github.com/docflowhq/docflow/internal/retention"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fakeMatcher struct {
	result matcherdomain.MatchResult
	err    error
}

func (m *fakeMatcher) Match(context.Context, map[string]string) (matcherdomain.MatchResult, error) {
	return m.result, m.err
}

type fakeDispatcher struct {
	sent []notifdomain.Message
	err  error
}

func (d *fakeDispatcher) QueueEmail(_ context.Context, msg notifdomain.Message) (*notifdomain.EmailDeliveryLog, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.sent = append(d.sent, msg)
	return &notifdomain.EmailDeliveryLog{}, nil
}

func (d *fakeDispatcher) QueueBatch(ctx context.Context, recipients []string, msg notifdomain.Message) ([]*notifdomain.EmailDeliveryLog, error) {
	log, err := d.QueueEmail(ctx, msg)
	if err != nil {
		return nil, err
	}
	return []*notifdomain.EmailDeliveryLog{log}, nil
}

func (d *fakeDispatcher) QueueDeletionNotice(context.Context, int64, []domain.DocumentRecord) error {
	return nil
}

type importHarness struct {
	worker     *Worker
	db         *gorm.DB
	storage    *ingest.DiskStorage
	templates  *extraction.TemplateStore
	matcher    *fakeMatcher
	dispatcher *fakeDispatcher
	supplierID snowflake.ID
}

func newImportHarness(t *testing.T) *importHarness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.FileRecord{},
		&domain.DocumentRecord{},
		&matcherdomain.Supplier{},
		&retention.PolicyRecord{},
		&extraction.TemplateRecord{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	storage, err := ingest.NewDiskStorage(t.TempDir())
	require.NoError(t, err)

	supplierID := node.Generate()
	require.NoError(t, db.Create(&matcherdomain.Supplier{
		ID:     supplierID,
		Code:   "ACME01",
		Name:   "Acme Supplies",
		Email:  "accounts@acme.example",
		Active: true,
	}).Error)

	matcher := &fakeMatcher{result: matcherdomain.MatchResult{
		SupplierID: &supplierID,
		Method:     matcherdomain.MatchMethodCode,
		Confidence: 100,
	}}
	dispatcher := &fakeDispatcher{}
	templates := extraction.NewTemplateStore(db)

	worker := NewWorker(Params{
		DB:          db,
		Log:         zap.NewNop(),
		Coordinator: docsvc.New(docsvc.Params{DB: db, Log: zap.NewNop(), GenID: node}),
		Engine:      extraction.NewEngine(zap.NewNop(), extraction.NewBackendRegistry()),
		Templates:   templates,
		Matcher:     matcher,
		Storage:     storage,
		Dispatcher:  dispatcher,
		Policies:    retention.NewPolicySource(db),
		Clock:       clock.NewFakeClock(time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)),
	})

	return &importHarness{
		worker:     worker,
		db:         db,
		storage:    storage,
		templates:  templates,
		matcher:    matcher,
		dispatcher: dispatcher,
		supplierID: supplierID,
	}
}

func (h *importHarness) seedDefaultTemplate(t *testing.T) {
	t.Helper()
	rec, err := h.templates.Save(context.Background(), &extraction.Template{
		ID:     1,
		Name:   "standard-invoice",
		Method: extraction.MethodLocal,
		Fields: map[string]extraction.FieldMapping{
			"documentNumber": {Mapping: extraction.CellMapping{Column: "A", Row: 1}},
			"totalAmount":    {Mapping: extraction.CellMapping{Column: "B", Row: 1}},
			"issueDate":      {Mapping: extraction.CellMapping{Column: "C", Row: 1}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, h.db.Model(rec).Update("is_default", true).Error)
}

// seedFile stores a workbook and the matching uploaded FileRecord.
func (h *importHarness) seedFile(t *testing.T, cells map[string]any) *domain.FileRecord {
	t.Helper()
	f := excelize.NewFile()
	for cell, value := range cells {
		require.NoError(t, f.SetCellValue("Sheet1", cell, value))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	path, err := h.storage.Save(context.Background(), "seed", "seed.xlsx", buf.Bytes())
	require.NoError(t, err)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	file := &domain.FileRecord{
		ID:       node.Generate(),
		FileName: "seed.xlsx",
		FileHash: "seedhash-" + path,
		FilePath: path,
		Status:   domain.FileStatusUploaded,
		Metadata: datatypes.JSONMap{
			"content_type": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		},
	}
	require.NoError(t, h.db.Create(file).Error)
	return file
}

func importJob(t *testing.T, fileID snowflake.ID) *broker.Job {
	t.Helper()
	payload, err := json.Marshal(ingest.ImportPayload{FileID: int64(fileID)})
	require.NoError(t, err)
	return &broker.Job{
		ID:          "file-import_test",
		Queue:       string(broker.QueueFileImport),
		Payload:     payload,
		MaxAttempts: 3,
	}
}

func TestHandle_ImportsFileAndConfirms(t *testing.T) {
	h := newImportHarness(t)
	h.seedDefaultTemplate(t)
	file := h.seedFile(t, map[string]any{
		"A1": "INV-2024-0042",
		"B1": 1250.75,
		"C1": "2024-03-15",
	})

	require.NoError(t, h.worker.Handle(context.Background(), importJob(t, file.ID)))

	var got domain.FileRecord
	require.NoError(t, h.db.First(&got, "id = ?", file.ID).Error)
	assert.Equal(t, domain.FileStatusParsed, got.Status)
	require.NotNil(t, got.CustomerID)
	assert.Equal(t, h.supplierID, *got.CustomerID)

	var doc domain.DocumentRecord
	require.NoError(t, h.db.First(&doc, "file_id = ?", file.ID).Error)
	assert.Equal(t, "INV-2024-0042", doc.DocumentNumber)
	assert.Equal(t, domain.DocTypeInvoice, doc.Type)
	assert.InDelta(t, 1250.75, doc.Amount, 0.001)
	require.NotNil(t, doc.IssueDate)
	assert.True(t, doc.IssueDate.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)))

	require.Len(t, h.dispatcher.sent, 1)
	assert.Equal(t, []string{"accounts@acme.example"}, h.dispatcher.sent[0].To)
}

func TestHandle_StampsRetentionFromPolicy(t *testing.T) {
	h := newImportHarness(t)
	h.seedDefaultTemplate(t)
	days := 90
	require.NoError(t, h.db.Create(&retention.PolicyRecord{
		ID:          1,
		PeriodDays:  &days,
		DateTrigger: string(retention.TriggerInvoiceDate),
	}).Error)

	file := h.seedFile(t, map[string]any{
		"A1": "INV-2024-0100",
		"B1": 10.0,
		"C1": "2024-01-01",
	})
	require.NoError(t, h.worker.Handle(context.Background(), importJob(t, file.ID)))

	var doc domain.DocumentRecord
	require.NoError(t, h.db.First(&doc, "file_id = ?", file.ID).Error)
	require.NotNil(t, doc.RetentionExpiryDate)
	assert.True(t, doc.RetentionExpiryDate.Equal(time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)))
}

func TestHandle_NoMatchFailsFileWithoutRetry(t *testing.T) {
	h := newImportHarness(t)
	h.seedDefaultTemplate(t)
	h.matcher.result = matcherdomain.MatchResult{
		Method: matcherdomain.MatchMethodNone,
		Error:  "no supplier matched code UNKNOWN",
	}
	file := h.seedFile(t, map[string]any{"A1": "INV-1", "B1": 5.0})

	require.NoError(t, h.worker.Handle(context.Background(), importJob(t, file.ID)))

	var got domain.FileRecord
	require.NoError(t, h.db.First(&got, "id = ?", file.ID).Error)
	assert.Equal(t, domain.FileStatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "no supplier matched")
	assert.Empty(t, h.dispatcher.sent)
}

func TestHandle_MissingDocumentNumberFailsFile(t *testing.T) {
	h := newImportHarness(t)
	h.seedDefaultTemplate(t)
	file := h.seedFile(t, map[string]any{"B1": 5.0})

	require.NoError(t, h.worker.Handle(context.Background(), importJob(t, file.ID)))

	var got domain.FileRecord
	require.NoError(t, h.db.First(&got, "id = ?", file.ID).Error)
	assert.Equal(t, domain.FileStatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "document number")
}

func TestHandle_MissingTemplateFailsFile(t *testing.T) {
	h := newImportHarness(t)
	file := h.seedFile(t, map[string]any{"A1": "INV-1"})

	require.NoError(t, h.worker.Handle(context.Background(), importJob(t, file.ID)))

	var got domain.FileRecord
	require.NoError(t, h.db.First(&got, "id = ?", file.ID).Error)
	assert.Equal(t, domain.FileStatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "template")
}

func TestHandle_MatcherErrorRetries(t *testing.T) {
	h := newImportHarness(t)
	h.seedDefaultTemplate(t)
	h.matcher.err = errors.New("suppliers table unavailable")
	file := h.seedFile(t, map[string]any{"A1": "INV-1", "B1": 5.0})

	err := h.worker.Handle(context.Background(), importJob(t, file.ID))
	require.Error(t, err)

	// Still uploaded: a transient failure leaves the record for the retry.
	var got domain.FileRecord
	require.NoError(t, h.db.First(&got, "id = ?", file.ID).Error)
	assert.Equal(t, domain.FileStatusUploaded, got.Status)
}

func TestHandle_MissingFileCompletesJob(t *testing.T) {
	h := newImportHarness(t)
	require.NoError(t, h.worker.Handle(context.Background(), importJob(t, snowflake.ID(999))))
}

func TestHandle_ParsedFileIsIdempotent(t *testing.T) {
	h := newImportHarness(t)
	h.seedDefaultTemplate(t)
	file := h.seedFile(t, map[string]any{"A1": "INV-1", "B1": 5.0})
	require.NoError(t, h.db.Model(file).Update("status", domain.FileStatusParsed).Error)

	require.NoError(t, h.worker.Handle(context.Background(), importJob(t, file.ID)))
	assert.Empty(t, h.dispatcher.sent)
}

func TestHandle_ConfirmationFailureDoesNotFailImport(t *testing.T) {
	h := newImportHarness(t)
	h.seedDefaultTemplate(t)
	h.dispatcher.err = errors.New("broker down")
	file := h.seedFile(t, map[string]any{"A1": "INV-1", "B1": 5.0, "C1": "2024-03-15"})

	require.NoError(t, h.worker.Handle(context.Background(), importJob(t, file.ID)))

	var got domain.FileRecord
	require.NoError(t, h.db.First(&got, "id = ?", file.ID).Error)
	assert.Equal(t, domain.FileStatusParsed, got.Status)
}

func TestHandle_PinnedTemplateOverridesDefault(t *testing.T) {
	h := newImportHarness(t)
	h.seedDefaultTemplate(t)
	// The pinned layout reads different cells than the default one.
	rec, err := h.templates.Save(context.Background(), &extraction.Template{
		ID:     2,
		Name:   "acme-layout",
		Method: extraction.MethodLocal,
		Fields: map[string]extraction.FieldMapping{
			"documentNumber": {Mapping: extraction.CellMapping{Column: "B", Row: 2}},
			"totalAmount":    {Mapping: extraction.CellMapping{Column: "C", Row: 2}},
		},
	})
	require.NoError(t, err)

	file := h.seedFile(t, map[string]any{
		"A1": "DEFAULT-CELL",
		"B2": "INV-PINNED-7",
		"C2": 99.5,
	})

	payload, err := json.Marshal(ingest.ImportPayload{FileID: int64(file.ID), TemplateID: rec.ID})
	require.NoError(t, err)
	job := &broker.Job{
		ID:          "invoice-import_test",
		Queue:       string(broker.QueueInvoiceImport),
		Payload:     payload,
		MaxAttempts: 3,
	}
	require.NoError(t, h.worker.Handle(context.Background(), job))

	var doc domain.DocumentRecord
	require.NoError(t, h.db.First(&doc, "file_id = ?", file.ID).Error)
	assert.Equal(t, "INV-PINNED-7", doc.DocumentNumber)
	assert.InDelta(t, 99.5, doc.Amount, 0.001)
}

func TestHandle_MissingPinnedTemplateFailsFile(t *testing.T) {
	h := newImportHarness(t)
	h.seedDefaultTemplate(t)
	file := h.seedFile(t, map[string]any{"A1": "INV-1"})

	payload, err := json.Marshal(ingest.ImportPayload{FileID: int64(file.ID), TemplateID: 777})
	require.NoError(t, err)
	job := &broker.Job{
		ID:          "invoice-import_test",
		Queue:       string(broker.QueueInvoiceImport),
		Payload:     payload,
		MaxAttempts: 3,
	}
	require.NoError(t, h.worker.Handle(context.Background(), job))

	var got domain.FileRecord
	require.NoError(t, h.db.First(&got, "id = ?", file.ID).Error)
	assert.Equal(t, domain.FileStatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "extraction template 777")
}
