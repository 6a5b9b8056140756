package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/docflowhq/docflow/internal/matcher/domain"
	"github.com/docflowhq/docflow/internal/matcher/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newMatcher(t *testing.T) (domain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Supplier{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{DB: db, Log: zap.NewNop(), Repo: repository.Provide()})
	return svc, db, node
}

func seedSupplier(t *testing.T, db *gorm.DB, node *snowflake.Node, code, name string, active bool) snowflake.ID {
	t.Helper()
	id := node.Generate()
	require.NoError(t, db.Create(&domain.Supplier{
		ID:     id,
		Code:   code,
		Name:   name,
		Active: active,
	}).Error)
	return id
}

func TestMatch_CodeWinsOverName(t *testing.T) {
	svc, db, node := newMatcher(t)
	wantID := seedSupplier(t, db, node, "ACME01", "Acme Supplies Ltd", true)
	seedSupplier(t, db, node, "OTHER1", "Acme Supplies", true)

	result, err := svc.Match(context.Background(), map[string]string{
		"accountNumber": "ACME01",
		"supplierName":  "Acme Supplies",
	})
	require.NoError(t, err)
	require.True(t, result.Matched())
	assert.Equal(t, wantID, *result.SupplierID)
	assert.Equal(t, domain.MatchMethodCode, result.Method)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestMatch_FuzzyNameFallback(t *testing.T) {
	svc, db, node := newMatcher(t)
	wantID := seedSupplier(t, db, node, "ACME01", "Acme Supplies Ltd", true)

	result, err := svc.Match(context.Background(), map[string]string{
		"supplierName": "ACME SUPPLIES LTD.",
	})
	require.NoError(t, err)
	require.True(t, result.Matched())
	assert.Equal(t, wantID, *result.SupplierID)
	assert.Equal(t, domain.MatchMethodNameFuzzy, result.Method)
}

func TestMatch_InactiveSupplierIgnored(t *testing.T) {
	svc, db, node := newMatcher(t)
	seedSupplier(t, db, node, "ACME01", "Acme Supplies Ltd", false)

	result, err := svc.Match(context.Background(), map[string]string{
		"accountNumber": "ACME01",
	})
	require.NoError(t, err)
	assert.False(t, result.Matched())
	assert.Contains(t, result.Error, "ACME01")
}

func TestMatch_DissimilarNameRejected(t *testing.T) {
	svc, db, node := newMatcher(t)
	seedSupplier(t, db, node, "ACME01", "Acme Supplies Ltd", true)

	result, err := svc.Match(context.Background(), map[string]string{
		"supplierName": "Completely Different Trading",
	})
	require.NoError(t, err)
	assert.False(t, result.Matched())
	assert.Equal(t, domain.MatchMethodNone, result.Method)
}

func TestMatch_NoSignalsExplainsWhy(t *testing.T) {
	svc, _, _ := newMatcher(t)

	result, err := svc.Match(context.Background(), map[string]string{"totalAmount": "12.50"})
	require.NoError(t, err)
	assert.False(t, result.Matched())
	assert.Contains(t, result.Error, "no supplier code or name")
}

func TestMatch_FuzzyPicksBestOfSimilarNames(t *testing.T) {
	svc, db, node := newMatcher(t)
	wantID := seedSupplier(t, db, node, "ACME01", "Acme Ltd", true)
	seedSupplier(t, db, node, "ACME02", "Acme Limited", true)

	result, err := svc.Match(context.Background(), map[string]string{
		"supplierName": "Acme Ltdd",
	})
	require.NoError(t, err)
	require.True(t, result.Matched())
	assert.Equal(t, wantID, *result.SupplierID)
	assert.Equal(t, domain.MatchMethodNameFuzzy, result.Method)
}
