package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bwmarrin/snowflake"
	"github.com/docflowhq/docflow/internal/broker"
	"github.com/docflowhq/docflow/internal/extraction"
	"go.uber.org/zap"
)

// BulkPayload rides the bulk-parsing-test queue: one batch per job.
type BulkPayload struct {
	BatchID    int64    `json:"batch_id"`
	TemplateID int64    `json:"template_id"`
	Paths      []string `json:"paths"`
}

// bulkFileResult is one line of the batch artifact.
type bulkFileResult struct {
	Path       string            `json:"path"`
	OK         bool              `json:"ok"`
	Error      string            `json:"error,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	Confidence int               `json:"confidence,omitempty"`
}

// BulkTester runs parsing test batches: every file is extracted against one
// template and the results land in a temp artifact, no records are written.
// Cancellation is cooperative; the file being extracted finishes, then the
// batch stops and its artifacts are removed.
type BulkTester struct {
	log       *zap.Logger
	engine    *extraction.Engine
	templates *extraction.TemplateStore
	storage   *DiskStorage
	genID     *snowflake.Node
	tempDir   string
}

func NewBulkTester(log *zap.Logger, engine *extraction.Engine, templates *extraction.TemplateStore, storage *DiskStorage, genID *snowflake.Node, tempDir string) *BulkTester {
	return &BulkTester{
		log:       log.Named("ingest.bulk"),
		engine:    engine,
		templates: templates,
		storage:   storage,
		genID:     genID,
		tempDir:   tempDir,
	}
}

// Enqueue submits a batch. The batch id doubles as the job's idempotency key.
func (b *BulkTester) Enqueue(ctx context.Context, queue broker.Queue, templateID int64, paths []string) (int64, error) {
	if len(paths) == 0 {
		return 0, errors.New("bulk batch has no files")
	}
	batchID := int64(b.genID.Generate())
	_, err := queue.Enqueue(ctx, broker.QueueBulkParsingTest,
		BulkPayload{BatchID: batchID, TemplateID: templateID, Paths: paths},
		broker.EnqueueOptions{JobID: fmt.Sprintf("bulk-parsing-test_%d", batchID)},
	)
	if err != nil {
		return 0, err
	}
	return batchID, nil
}

// Handle processes one batch job.
func (b *BulkTester) Handle(ctx context.Context, job *broker.Job) error {
	var payload BulkPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		b.log.Error("bulk payload undecodable", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}
	return b.Run(ctx, payload)
}

func (b *BulkTester) Run(ctx context.Context, payload BulkPayload) error {
	tmpl, err := b.templates.Get(ctx, payload.TemplateID)
	if err != nil {
		return err
	}

	batchDir := filepath.Join(b.tempDir, fmt.Sprintf("bulk_%d", payload.BatchID))
	if err := os.MkdirAll(batchDir, 0o755); err != nil {
		return err
	}

	log := b.log.With(zap.Int64("batch_id", payload.BatchID))
	passed, failed := 0, 0

	for i, path := range payload.Paths {
		if err := ctx.Err(); err != nil {
			b.cleanup(batchDir)
			log.Info("bulk batch cancelled",
				zap.Int("processed", i),
				zap.Int("remaining", len(payload.Paths)-i),
			)
			return err
		}

		result := b.testFile(ctx, path, tmpl)
		if result.OK {
			passed++
		} else {
			failed++
		}
		if err := b.writeResult(batchDir, i, result); err != nil {
			b.cleanup(batchDir)
			return err
		}
	}

	log.Info("bulk batch finished",
		zap.Int("passed", passed),
		zap.Int("failed", failed),
		zap.String("artifact_dir", batchDir),
	)
	return nil
}

func (b *BulkTester) testFile(ctx context.Context, path string, tmpl *extraction.Template) bulkFileResult {
	data, err := b.storage.Read(ctx, path)
	if err != nil {
		return bulkFileResult{Path: path, Error: err.Error()}
	}

	set, err := b.engine.Extract(ctx, data, contentTypeFor(filepath.Ext(path)), tmpl)
	if err != nil {
		return bulkFileResult{Path: path, Error: err.Error()}
	}
	return bulkFileResult{
		Path:       path,
		OK:         true,
		Fields:     set.Fields,
		Confidence: set.Confidence,
	}
}

func (b *BulkTester) writeResult(dir string, index int, result bulkFileResult) error {
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, fmt.Sprintf("result_%04d.json", index)), raw, 0o644)
}

func (b *BulkTester) cleanup(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		b.log.Warn("bulk artifact cleanup failed", zap.String("dir", dir), zap.Error(err))
	}
}
