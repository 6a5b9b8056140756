package extraction

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/docflowhq/docflow/internal/observability/metrics"
)

// Engine converts raw document bytes plus a template mapping into a flat set
// of named field values. Spreadsheets are handled locally; other formats go
// through the backend selected by the template's method.
type Engine struct {
	log      *zap.Logger
	registry *BackendRegistry
}

func NewEngine(log *zap.Logger, registry *BackendRegistry) *Engine {
	return &Engine{
		log:      log.Named("extraction.engine"),
		registry: registry,
	}
}

// Extract runs one extraction attempt. The result is immutable; repeated
// runs over the same bytes and template produce identical output.
func (e *Engine) Extract(ctx context.Context, data []byte, contentType string, tmpl *Template) (*ExtractedFieldSet, error) {
	if tmpl == nil || (len(tmpl.Fields) == 0 && len(tmpl.CustomFields) == 0) {
		return nil, ErrNoMappingDefined
	}

	if isSpreadsheet(contentType) {
		return e.extractWorkbook(data, tmpl)
	}

	backend := e.registry.Select(tmpl.Method)
	if backend == nil {
		return nil, fmt.Errorf("no extraction backend for method %q", tmpl.Method)
	}
	return e.extractViaBackend(ctx, backend, data, contentType, tmpl)
}

func isSpreadsheet(contentType string) bool {
	switch contentType {
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-excel",
		"text/csv":
		return true
	}
	return strings.Contains(contentType, "spreadsheet")
}

func (e *Engine) extractWorkbook(data []byte, tmpl *Template) (*ExtractedFieldSet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	// Multi-page documents place final totals on the trailing page.
	sheet := sheets[len(sheets)-1]

	e.recalculate(f, sheet)

	sctx := &SheetContext{
		File:     f,
		Sheet:    sheet,
		FullText: linearize(f, sheet),
	}

	result := &ExtractedFieldSet{
		Fields:       make(map[string]string, len(tmpl.Fields)),
		CustomFields: make(map[string]string, len(tmpl.CustomFields)),
		FullText:     sctx.FullText,
		Confidence:   100,
	}

	for _, name := range sortedFieldNames(tmpl.Fields) {
		fm := tmpl.Fields[name]
		value, confidence, ok := e.resolveMapping(name, fm.Mapping, sctx)
		if !ok {
			e.log.Warn("mapped cell missing, field skipped",
				zap.String("field", name),
				zap.String("sheet", sheet),
			)
			continue
		}

		transformed, err := applyTransforms(value, fm.Transforms)
		if err != nil {
			e.log.Warn("transform failed, field skipped",
				zap.String("field", name),
				zap.Error(err),
			)
			continue
		}

		result.Fields[name] = transformed
		if confidence < result.Confidence {
			result.Confidence = confidence
		}
	}

	for _, cf := range tmpl.CustomFields {
		value, _, ok := e.resolveMapping(cf.Name, cf.Mapping, sctx)
		if !ok {
			continue
		}
		if cf.Type == CustomFieldNumber || cf.Type == CustomFieldCurrency {
			if numeric := stripCurrency(value); numeric != "" {
				value = numeric
			}
		}
		result.CustomFields[cf.Name] = value
	}

	result.DocumentType = e.resolveDocumentType(result)
	return result, nil
}

// recalculate warms every formula cell eagerly so calculated values are
// available even when the file was saved without cached results. Failure
// degrades the extraction, it does not abort it.
func (e *Engine) recalculate(f *excelize.File, sheet string) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		e.log.Warn("recalculation skipped", zap.Error(err))
		return
	}
	var failures int
	for r := range rows {
		for c := range rows[r] {
			axis, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				continue
			}
			formula, err := f.GetCellFormula(sheet, axis)
			if err != nil || formula == "" {
				continue
			}
			if _, err := f.CalcCellValue(sheet, axis); err != nil {
				failures++
			}
		}
	}
	if failures > 0 {
		e.log.Info("formula recalculation incomplete",
			zap.String("sheet", sheet),
			zap.Int("unevaluable", failures),
		)
	}
}

func linearize(f *excelize.File, sheet string) string {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(cell)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// resolveMapping resolves a single cell or a range. Ranges concatenate
// row-major: tab-separated within a row, newline-separated across rows.
func (e *Engine) resolveMapping(field string, m CellMapping, sctx *SheetContext) (string, int, bool) {
	if !m.isRange() {
		axis, err := excelize.JoinCellName(m.Column, m.Row)
		if err != nil {
			return "", 0, false
		}
		return e.resolveCell(Cell{Field: field, Axis: axis}, sctx)
	}

	startCol, err := excelize.ColumnNameToNumber(m.Column)
	if err != nil {
		return "", 0, false
	}
	endCol := startCol
	if m.EndColumn != "" {
		if endCol, err = excelize.ColumnNameToNumber(m.EndColumn); err != nil {
			return "", 0, false
		}
	}
	endRow := m.Row
	if m.EndRow != 0 {
		endRow = m.EndRow
	}

	confidence := 100
	var rows []string
	var any bool
	for r := m.Row; r <= endRow; r++ {
		var cells []string
		for c := startCol; c <= endCol; c++ {
			axis, err := excelize.CoordinatesToCellName(c, r)
			if err != nil {
				continue
			}
			value, cellConf, ok := e.resolveCell(Cell{Field: field, Axis: axis}, sctx)
			if ok {
				any = true
				if cellConf < confidence {
					confidence = cellConf
				}
			}
			cells = append(cells, value)
		}
		rows = append(rows, strings.Join(cells, "\t"))
	}
	if !any {
		return "", 0, false
	}
	return strings.Join(rows, "\n"), confidence, true
}

func (e *Engine) resolveCell(cell Cell, sctx *SheetContext) (string, int, bool) {
	for _, strategy := range Strategies() {
		value, confidence, usedFallback := strategy.Fn(cell, sctx)
		if value == "" {
			continue
		}
		if usedFallback {
			metrics.ExtractionFallbacks.WithLabelValues(strategy.Name).Inc()
			e.log.Info("extraction fallback used",
				zap.String("field", cell.Field),
				zap.String("cell", cell.Axis),
				zap.String("strategy", strategy.Name),
			)
		}
		return value, confidence, true
	}
	return "", 0, false
}

// resolveDocumentType prefers an explicitly mapped indicator and falls back
// to keyword inference over the full text.
func (e *Engine) resolveDocumentType(result *ExtractedFieldSet) DocumentType {
	if mapped, ok := result.Fields["documentType"]; ok {
		switch strings.ToLower(strings.TrimSpace(mapped)) {
		case "credit_note", "credit note", "credit", "cn":
			return DocTypeCreditNote
		case "statement":
			return DocTypeStatement
		case "invoice":
			return DocTypeInvoice
		}
	}
	return InferDocumentType(result.FullText)
}

// InferDocumentType applies the keyword heuristic over linearized text.
func InferDocumentType(fullText string) DocumentType {
	upper := strings.ToUpper(fullText)
	if strings.Contains(upper, "CREDIT") || containsWord(upper, "CN") {
		return DocTypeCreditNote
	}
	if strings.Contains(upper, "STATEMENT") {
		return DocTypeStatement
	}
	return DocTypeInvoice
}

func containsWord(text, word string) bool {
	for _, token := range strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t' || r == ',' || r == '.'
	}) {
		if token == word {
			return true
		}
	}
	return false
}

func (e *Engine) extractViaBackend(ctx context.Context, backend Backend, data []byte, contentType string, tmpl *Template) (*ExtractedFieldSet, error) {
	text, confidence, err := backend.ExtractText(ctx, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", backend.Name(), err)
	}

	result := &ExtractedFieldSet{
		Fields:       make(map[string]string),
		CustomFields: make(map[string]string),
		FullText:     text,
		Confidence:   confidence,
	}

	// Cell mappings do not apply to OCR text; amount fields are mined from
	// the text with the same anchored patterns used for workbooks.
	for _, name := range sortedFieldNames(tmpl.Fields) {
		value, _, _ := minedValue(Cell{Field: name}, &SheetContext{FullText: text})
		if value != "" {
			result.Fields[name] = value
		}
	}
	result.DocumentType = InferDocumentType(text)
	return result, nil
}

func sortedFieldNames(fields map[string]FieldMapping) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
