package extraction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func newTestEngine() *Engine {
	return NewEngine(zap.NewNop(), NewBackendRegistry())
}

func buildWorkbook(t *testing.T, build func(f *excelize.File)) []byte {
	t.Helper()
	f := excelize.NewFile()
	build(f)
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func cellField(column string, row int) FieldMapping {
	return FieldMapping{Mapping: CellMapping{Column: column, Row: row}}
}

func TestExtract_RejectsEmptyTemplate(t *testing.T) {
	engine := newTestEngine()
	data := buildWorkbook(t, func(f *excelize.File) {
		require.NoError(t, f.SetCellValue("Sheet1", "A1", "INV-1"))
	})

	_, err := engine.Extract(context.Background(), data, xlsxContentType, nil)
	assert.ErrorIs(t, err, ErrNoMappingDefined)

	_, err = engine.Extract(context.Background(), data, xlsxContentType, &Template{})
	assert.ErrorIs(t, err, ErrNoMappingDefined)
}

func TestExtract_RecalculatesFormulaCells(t *testing.T) {
	engine := newTestEngine()
	// The workbook carries no cached formula results, so the value only
	// exists after recalculation.
	data := buildWorkbook(t, func(f *excelize.File) {
		require.NoError(t, f.SetCellValue("Sheet1", "A1", 27.6))
		require.NoError(t, f.SetCellValue("Sheet1", "A2", 5.52))
		require.NoError(t, f.SetCellFormula("Sheet1", "B1", "ROUND(A1+A2,2)"))
	})

	result, err := engine.Extract(context.Background(), data, xlsxContentType, &Template{
		Fields: map[string]FieldMapping{"totalAmount": cellField("B", 1)},
	})
	require.NoError(t, err)

	assert.Equal(t, "33.12", result.Fields["totalAmount"])
	assert.Equal(t, 100, result.Confidence)
}

func TestExtract_MinesAmountsWhenFormulaUnevaluable(t *testing.T) {
	engine := newTestEngine()
	data := buildWorkbook(t, func(f *excelize.File) {
		require.NoError(t, f.SetCellValue("Sheet1", "A1", "INV-42"))
		require.NoError(t, f.SetCellFormula("Sheet1", "B2", "PROPRIETARYTOTAL(A1)"))
		require.NoError(t, f.SetCellValue("Sheet1", "A5", "Invoice Total"))
		require.NoError(t, f.SetCellValue("Sheet1", "B5", 27.6))
		require.NoError(t, f.SetCellValue("Sheet1", "C5", 5.52))
		require.NoError(t, f.SetCellValue("Sheet1", "D5", 33.12))
		require.NoError(t, f.SetCellValue("Sheet1", "E5", "Note"))
	})

	result, err := engine.Extract(context.Background(), data, xlsxContentType, &Template{
		Fields: map[string]FieldMapping{
			"documentNumber": cellField("A", 1),
			"vatAmount":      cellField("B", 2),
			"totalAmount":    cellField("B", 2),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "INV-42", result.Fields["documentNumber"])
	assert.Equal(t, "5.52", result.Fields["vatAmount"])
	assert.Equal(t, "33.12", result.Fields["totalAmount"])
	// Mined fields pull the whole result's confidence down.
	assert.Equal(t, 60, result.Confidence)
}

func TestExtract_IsDeterministic(t *testing.T) {
	engine := newTestEngine()
	data := buildWorkbook(t, func(f *excelize.File) {
		require.NoError(t, f.SetCellValue("Sheet1", "A1", "INV-7"))
		require.NoError(t, f.SetCellValue("Sheet1", "B1", "£1,234.50"))
		require.NoError(t, f.SetCellFormula("Sheet1", "C1", "NOTAREALFN(A1)"))
		require.NoError(t, f.SetCellValue("Sheet1", "A3", "Invoice Total"))
		require.NoError(t, f.SetCellValue("Sheet1", "B3", 100.0))
		require.NoError(t, f.SetCellValue("Sheet1", "C3", 20.0))
		require.NoError(t, f.SetCellValue("Sheet1", "D3", 120.0))
	})
	tmpl := &Template{
		Fields: map[string]FieldMapping{
			"documentNumber": cellField("A", 1),
			"grossAmount":    cellField("B", 1),
			"netAmount":      cellField("C", 1),
			"taxAmount":      cellField("C", 1),
			"totalAmount":    cellField("C", 1),
		},
	}

	first, err := engine.Extract(context.Background(), data, xlsxContentType, tmpl)
	require.NoError(t, err)
	second, err := engine.Extract(context.Background(), data, xlsxContentType, tmpl)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestExtract_ReadsTrailingSheet(t *testing.T) {
	engine := newTestEngine()
	data := buildWorkbook(t, func(f *excelize.File) {
		require.NoError(t, f.SetCellValue("Sheet1", "A1", "per-page subtotal"))
		_, err := f.NewSheet("Totals")
		require.NoError(t, err)
		require.NoError(t, f.SetCellValue("Totals", "A1", "INV-FINAL"))
	})

	result, err := engine.Extract(context.Background(), data, xlsxContentType, &Template{
		Fields: map[string]FieldMapping{"documentNumber": cellField("A", 1)},
	})
	require.NoError(t, err)

	assert.Equal(t, "INV-FINAL", result.Fields["documentNumber"])
}

func TestExtract_StripsCurrencyFormatting(t *testing.T) {
	engine := newTestEngine()
	data := buildWorkbook(t, func(f *excelize.File) {
		require.NoError(t, f.SetCellValue("Sheet1", "A1", "£1,234.50"))
		require.NoError(t, f.SetCellValue("Sheet1", "B1", "Acme Ltd"))
	})

	result, err := engine.Extract(context.Background(), data, xlsxContentType, &Template{
		Fields: map[string]FieldMapping{
			"totalAmount":  cellField("A", 1),
			"supplierName": cellField("B", 1),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "1234.50", result.Fields["totalAmount"])
	assert.Equal(t, "Acme Ltd", result.Fields["supplierName"])
	assert.Equal(t, 90, result.Confidence)
}

func TestExtract_RangeMappingConcatenatesRowMajor(t *testing.T) {
	engine := newTestEngine()
	data := buildWorkbook(t, func(f *excelize.File) {
		require.NoError(t, f.SetCellValue("Sheet1", "A1", "Unit 4"))
		require.NoError(t, f.SetCellValue("Sheet1", "B1", "Mill Lane"))
		require.NoError(t, f.SetCellValue("Sheet1", "A2", "Leeds"))
		require.NoError(t, f.SetCellValue("Sheet1", "B2", "LS1 1AA"))
	})

	result, err := engine.Extract(context.Background(), data, xlsxContentType, &Template{
		Fields: map[string]FieldMapping{
			"supplierAddress": {Mapping: CellMapping{Column: "A", Row: 1, EndColumn: "B", EndRow: 2}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Unit 4\tMill Lane\nLeeds\tLS1 1AA", result.Fields["supplierAddress"])
}

func TestExtract_MissingCellSkipsField(t *testing.T) {
	engine := newTestEngine()
	data := buildWorkbook(t, func(f *excelize.File) {
		require.NoError(t, f.SetCellValue("Sheet1", "A1", "INV-9"))
	})

	result, err := engine.Extract(context.Background(), data, xlsxContentType, &Template{
		Fields: map[string]FieldMapping{
			"documentNumber": cellField("A", 1),
			"poNumber":       cellField("Z", 40),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "INV-9", result.Fields["documentNumber"])
	assert.NotContains(t, result.Fields, "poNumber")
}

func TestExtract_AppliesTransformsInFixedOrder(t *testing.T) {
	engine := newTestEngine()
	data := buildWorkbook(t, func(f *excelize.File) {
		require.NoError(t, f.SetCellValue("Sheet1", "A1", "  ref:inv-10  "))
	})

	// The template lists uppercase before remove; the pipeline still
	// removes first.
	result, err := engine.Extract(context.Background(), data, xlsxContentType, &Template{
		Fields: map[string]FieldMapping{
			"documentNumber": {
				Mapping: CellMapping{Column: "A", Row: 1},
				Transforms: []Transform{
					{Op: TransformUppercase},
					{Op: TransformRemove, Arg: "ref:"},
					{Op: TransformTrim},
				},
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "INV-10", result.Fields["documentNumber"])
}

func TestExtract_CustomFieldsNormalizeNumbers(t *testing.T) {
	engine := newTestEngine()
	data := buildWorkbook(t, func(f *excelize.File) {
		require.NoError(t, f.SetCellValue("Sheet1", "A1", "$99.00"))
		require.NoError(t, f.SetCellValue("Sheet1", "B1", "warehouse 3"))
	})

	result, err := engine.Extract(context.Background(), data, xlsxContentType, &Template{
		CustomFields: []CustomField{
			{Name: "carriage", Type: CustomFieldCurrency, Mapping: CellMapping{Column: "A", Row: 1}},
			{Name: "site", Type: CustomFieldText, Mapping: CellMapping{Column: "B", Row: 1}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "99.00", result.CustomFields["carriage"])
	assert.Equal(t, "warehouse 3", result.CustomFields["site"])
}

func TestExtract_DocumentType(t *testing.T) {
	engine := newTestEngine()

	t.Run("mapped indicator wins over keywords", func(t *testing.T) {
		data := buildWorkbook(t, func(f *excelize.File) {
			require.NoError(t, f.SetCellValue("Sheet1", "A1", "Credit Note"))
			require.NoError(t, f.SetCellValue("Sheet1", "B1", "STATEMENT OF ACCOUNT"))
		})
		result, err := engine.Extract(context.Background(), data, xlsxContentType, &Template{
			Fields: map[string]FieldMapping{"documentType": cellField("A", 1)},
		})
		require.NoError(t, err)
		assert.Equal(t, DocTypeCreditNote, result.DocumentType)
	})

	t.Run("inferred from full text", func(t *testing.T) {
		data := buildWorkbook(t, func(f *excelize.File) {
			require.NoError(t, f.SetCellValue("Sheet1", "A1", "Statement of Account"))
			require.NoError(t, f.SetCellValue("Sheet1", "A2", "ACC-1"))
		})
		result, err := engine.Extract(context.Background(), data, xlsxContentType, &Template{
			Fields: map[string]FieldMapping{"documentNumber": cellField("A", 2)},
		})
		require.NoError(t, err)
		assert.Equal(t, DocTypeStatement, result.DocumentType)
	})

	t.Run("defaults to invoice", func(t *testing.T) {
		data := buildWorkbook(t, func(f *excelize.File) {
			require.NoError(t, f.SetCellValue("Sheet1", "A1", "INV-1"))
		})
		result, err := engine.Extract(context.Background(), data, xlsxContentType, &Template{
			Fields: map[string]FieldMapping{"documentNumber": cellField("A", 1)},
		})
		require.NoError(t, err)
		assert.Equal(t, DocTypeInvoice, result.DocumentType)
	})
}

func TestInferDocumentType_CreditAbbreviation(t *testing.T) {
	assert.Equal(t, DocTypeCreditNote, InferDocumentType("CN 1042 Acme Ltd"))
	assert.Equal(t, DocTypeInvoice, InferDocumentType("ACCOUNT ACN-1"))
}

func TestStripCurrency(t *testing.T) {
	assert.Equal(t, "1234.50", stripCurrency("£1,234.50"))
	assert.Equal(t, "99", stripCurrency("$ 99"))
	assert.Equal(t, "-12.30", stripCurrency("-12.30"))
	assert.Equal(t, "", stripCurrency("Acme Ltd"))
	assert.Equal(t, "", stripCurrency(""))
}
