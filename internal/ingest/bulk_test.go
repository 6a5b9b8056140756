package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/docflowhq/docflow/internal/extraction"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func writeTestWorkbook(t *testing.T, storage *DiskStorage, name string) string {
	t.Helper()
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "INV-2024-001"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", 120.50))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	path, err := storage.Save(context.Background(), name, name+".xlsx", buf.Bytes())
	require.NoError(t, err)
	return path
}

func newBulkHarness(t *testing.T) (*BulkTester, *DiskStorage, *extraction.TemplateStore, string) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&extraction.TemplateRecord{}))

	storage, err := NewDiskStorage(t.TempDir())
	require.NoError(t, err)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	templates := extraction.NewTemplateStore(db)
	engine := extraction.NewEngine(zap.NewNop(), extraction.NewBackendRegistry())
	tempDir := t.TempDir()

	return NewBulkTester(zap.NewNop(), engine, templates, storage, node, tempDir), storage, templates, tempDir
}

func seedTemplate(t *testing.T, templates *extraction.TemplateStore) int64 {
	t.Helper()
	rec, err := templates.Save(context.Background(), &extraction.Template{
		ID:     42,
		Name:   "bulk-test",
		Method: extraction.MethodLocal,
		Fields: map[string]extraction.FieldMapping{
			"documentNumber": {Mapping: extraction.CellMapping{Column: "A", Row: 1}},
			"totalAmount":    {Mapping: extraction.CellMapping{Column: "B", Row: 1}},
		},
	})
	require.NoError(t, err)
	return rec.ID
}

func TestBulkRun_WritesArtifacts(t *testing.T) {
	tester, storage, templates, tempDir := newBulkHarness(t)
	tmplID := seedTemplate(t, templates)

	paths := []string{
		writeTestWorkbook(t, storage, "one"),
		writeTestWorkbook(t, storage, "two"),
	}

	payload := BulkPayload{BatchID: 7, TemplateID: tmplID, Paths: paths}
	require.NoError(t, tester.Run(context.Background(), payload))

	batchDir := filepath.Join(tempDir, "bulk_7")
	entries, err := os.ReadDir(batchDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestBulkRun_BadFileDoesNotAbortBatch(t *testing.T) {
	tester, storage, templates, tempDir := newBulkHarness(t)
	tmplID := seedTemplate(t, templates)

	badPath, err := storage.Save(context.Background(), "bad", "bad.xlsx", []byte("not a workbook"))
	require.NoError(t, err)

	payload := BulkPayload{
		BatchID:    8,
		TemplateID: tmplID,
		Paths:      []string{badPath, writeTestWorkbook(t, storage, "good")},
	}
	require.NoError(t, tester.Run(context.Background(), payload))

	entries, err := os.ReadDir(filepath.Join(tempDir, "bulk_8"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestBulkRun_CancellationRemovesArtifacts(t *testing.T) {
	tester, storage, templates, tempDir := newBulkHarness(t)
	tmplID := seedTemplate(t, templates)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	payload := BulkPayload{
		BatchID:    9,
		TemplateID: tmplID,
		Paths:      []string{writeTestWorkbook(t, storage, "one")},
	}
	err := tester.Run(ctx, payload)
	assert.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(filepath.Join(tempDir, "bulk_9"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestBulkRun_UnknownTemplate(t *testing.T) {
	tester, _, _, _ := newBulkHarness(t)

	err := tester.Run(context.Background(), BulkPayload{BatchID: 1, TemplateID: 999, Paths: []string{"x"}})
	assert.ErrorIs(t, err, extraction.ErrTemplateNotFound)
}
