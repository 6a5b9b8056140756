package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/docflowhq/docflow/internal/broker"
	"github.com/docflowhq/docflow/internal/clock"
	documents "github.com/docflowhq/docflow/internal/documents/domain"
	docsvc "github.com/docflowhq/docflow/internal/documents/service"
	"github.com/docflowhq/docflow/internal/extraction"
	"github.com/docflowhq/docflow/internal/ingest"
	matcherdomain "github.com/docflowhq/docflow/internal/matcher/domain"
	notifdomain "github.com/docflowhq/docflow/internal/notification/domain"
	notifsvc "github.com/docflowhq/docflow/internal/notification/service"
	"github.com/docflowhq/docflow/internal/retention"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// dataError marks a failure caused by the file's content. Data errors are
// recorded on the FileRecord and never retried; everything else is assumed
// transient and goes back to the broker.
type dataError struct {
	reason string
}

func (e *dataError) Error() string { return e.reason }

func asDataError(format string, args ...any) error {
	return &dataError{reason: fmt.Sprintf(format, args...)}
}

var numberAliases = []string{
	"documentNumber", "invoiceNumber", "invoice_number", "invoiceNo",
	"creditNoteNumber", "reference",
}

var issueDateLayouts = []string{
	"2006-01-02", "02/01/2006", "01/02/2006", "2 January 2006", "02-01-2006",
	time.RFC3339,
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Coordinator *docsvc.Coordinator
	Engine      *extraction.Engine
	Templates   *extraction.TemplateStore
	Matcher     matcherdomain.Service
	Storage     *ingest.DiskStorage
	Dispatcher  notifdomain.Dispatcher
	Policies    retention.PolicySource
	Clock       clock.Clock
}

// Worker turns an uploaded FileRecord into a DocumentRecord: extract, match,
// persist atomically, confirm by email.
type Worker struct {
	db          *gorm.DB
	log         *zap.Logger
	coordinator *docsvc.Coordinator
	engine      *extraction.Engine
	templates   *extraction.TemplateStore
	matcher     matcherdomain.Service
	storage     *ingest.DiskStorage
	dispatcher  notifdomain.Dispatcher
	policies    retention.PolicySource
	clock       clock.Clock
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:          p.DB,
		log:         p.Log.Named("pipeline.worker"),
		coordinator: p.Coordinator,
		engine:      p.Engine,
		templates:   p.Templates,
		matcher:     p.Matcher,
		storage:     p.Storage,
		dispatcher:  p.Dispatcher,
		policies:    p.Policies,
		clock:       p.Clock,
	}
}

// Handle processes one import job. Returning nil completes the job even for
// failed files; the failure lives on the FileRecord, not in the queue.
func (w *Worker) Handle(ctx context.Context, job *broker.Job) error {
	var payload ingest.ImportPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		w.log.Error("import payload undecodable", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}

	log := w.log.With(zap.Int64("file_id", payload.FileID))

	err := w.process(ctx, payload)
	if err == nil {
		return nil
	}

	var de *dataError
	if errors.As(err, &de) {
		log.Warn("import failed on file data", zap.String("reason", de.reason))
		if markErr := w.coordinator.MarkFileFailed(ctx, snowflake.ID(payload.FileID), de.reason); markErr != nil {
			// Could not record the failure; retry the whole job.
			return markErr
		}
		return nil
	}

	log.Warn("import hit transient error, retrying", zap.Error(err))
	return err
}

func (w *Worker) process(ctx context.Context, payload ingest.ImportPayload) error {
	file, err := w.coordinator.GetFile(ctx, snowflake.ID(payload.FileID))
	if err != nil {
		if errors.Is(err, documents.ErrFileNotFound) {
			w.log.Warn("import job references missing file", zap.Int64("file_id", payload.FileID))
			return nil
		}
		return err
	}

	// Redelivery after a crash between commit and ack.
	if file.Status == documents.FileStatusParsed {
		return nil
	}

	data, err := w.storage.Read(ctx, file.FilePath)
	if err != nil {
		return asDataError("stored file unreadable: %v", err)
	}

	tmpl, err := w.template(ctx, payload.TemplateID)
	if err != nil {
		return err
	}

	contentType, _ := file.Metadata["content_type"].(string)
	set, err := w.engine.Extract(ctx, data, contentType, tmpl)
	if err != nil {
		return asDataError("extraction failed: %v", err)
	}

	fields := mergedFields(set)
	match, err := w.matcher.Match(ctx, fields)
	if err != nil {
		return err
	}
	if !match.Matched() {
		return asDataError("supplier match failed: %s", match.Error)
	}

	doc, err := w.buildDocument(set, fields, *match.SupplierID)
	if err != nil {
		return err
	}

	policy, err := w.policies.Current(ctx)
	if err != nil {
		return err
	}
	doc.CreatedAt = w.clock.Now()
	retention.Stamp(doc, policy)

	// Metadata updates replace the column, so carry the ingest keys forward.
	meta := datatypes.JSONMap{}
	for k, v := range file.Metadata {
		meta[k] = v
	}
	meta["match_method"] = string(match.Method)
	meta["match_confidence"] = match.Confidence
	meta["confidence"] = set.Confidence

	updates := documents.FileUpdates{
		Status:     documents.FileStatusParsed,
		CustomerID: match.SupplierID,
		Metadata:   meta,
	}
	if err := w.coordinator.UpdateFileAndCreateDocument(ctx, file.ID, updates, doc); err != nil {
		return err
	}

	w.confirm(ctx, *match.SupplierID, doc)

	w.log.Info("file imported",
		zap.Int64("file_id", payload.FileID),
		zap.Int64("document_id", int64(doc.ID)),
		zap.String("document_number", doc.DocumentNumber),
		zap.String("match_method", string(match.Method)),
	)
	return nil
}

// template resolves the extraction template for one import: the pinned id
// when the payload carries one, the tenant default otherwise. A template
// that no longer exists is a data failure; retrying cannot restore it.
func (w *Worker) template(ctx context.Context, templateID int64) (*extraction.Template, error) {
	if templateID != 0 {
		tmpl, err := w.templates.Get(ctx, templateID)
		if err != nil {
			if errors.Is(err, extraction.ErrTemplateNotFound) {
				return nil, asDataError("extraction template %d not found", templateID)
			}
			return nil, err
		}
		return tmpl, nil
	}

	tmpl, err := w.templates.Default(ctx)
	if err != nil {
		if errors.Is(err, extraction.ErrTemplateNotFound) {
			return nil, asDataError("no extraction template configured")
		}
		return nil, err
	}
	return tmpl, nil
}

func (w *Worker) buildDocument(set *extraction.ExtractedFieldSet, fields map[string]string, companyID snowflake.ID) (*documents.DocumentRecord, error) {
	number := firstField(fields, numberAliases)
	if number == "" {
		return nil, asDataError("no document number extracted")
	}

	doc := &documents.DocumentRecord{
		CompanyID:      companyID,
		Type:           documents.DocumentType(set.DocumentType),
		DocumentNumber: number,
		Status:         documents.DocStatusActive,
		Metadata:       datatypes.JSONMap{},
	}

	if raw := firstField(fields, []string{"issueDate", "invoiceDate", "date"}); raw != "" {
		if parsed, ok := parseDate(raw); ok {
			doc.IssueDate = &parsed
		} else {
			doc.Metadata["unparsed_issue_date"] = raw
		}
	}
	if raw := firstField(fields, []string{"periodEndDate", "statementDate"}); raw != "" {
		if parsed, ok := parseDate(raw); ok {
			doc.PeriodEndDate = &parsed
		}
	}
	if raw := firstField(fields, []string{"totalAmount", "grossAmount", "netAmount", "goodsAmount"}); raw != "" {
		if amount, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			doc.Amount = amount
		} else {
			return nil, asDataError("amount %q is not numeric", raw)
		}
	}
	if raw := firstField(fields, []string{"taxAmount", "vatAmount"}); raw != "" {
		if amount, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			doc.TaxAmount = amount
		}
	}

	for name, value := range set.CustomFields {
		doc.Metadata[name] = value
	}
	return doc, nil
}

// confirm sends the import confirmation. Email trouble never fails an
// import that already committed.
func (w *Worker) confirm(ctx context.Context, companyID snowflake.ID, doc *documents.DocumentRecord) {
	var supplier matcherdomain.Supplier
	err := w.db.WithContext(ctx).First(&supplier, "id = ?", companyID).Error
	if err != nil || supplier.Email == "" {
		return
	}

	msg, err := notifsvc.ComposeImportConfirmation([]string{supplier.Email}, *doc)
	if err != nil {
		w.log.Warn("confirmation compose failed", zap.Error(err))
		return
	}
	if _, err := w.dispatcher.QueueEmail(ctx, msg); err != nil {
		w.log.Warn("confirmation enqueue failed", zap.Error(err))
	}
}

func mergedFields(set *extraction.ExtractedFieldSet) map[string]string {
	fields := make(map[string]string, len(set.Fields)+len(set.CustomFields))
	for k, v := range set.Fields {
		fields[k] = v
	}
	for k, v := range set.CustomFields {
		if _, exists := fields[k]; !exists {
			fields[k] = v
		}
	}
	return fields
}

func firstField(fields map[string]string, names []string) string {
	for _, name := range names {
		if v := strings.TrimSpace(fields[name]); v != "" {
			return v
		}
	}
	return ""
}

func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range issueDateLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}
