package extraction

import (
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Cell is one resolved cell reference handed to the strategy chain.
type Cell struct {
	Field string
	Axis  string
}

// SheetContext is the shared read-only state for one extraction run.
type SheetContext struct {
	File     *excelize.File
	Sheet    string
	FullText string
}

// Strategy derives a value for a cell. Strategies are pure with respect to
// the sheet context and are tried in order until one yields a non-empty
// result, which makes each fallback independently testable.
type Strategy struct {
	Name string
	Fn   func(cell Cell, sctx *SheetContext) (value string, confidence int, usedFallback bool)
}

// Strategies is the fixed derivation order: calculated formula value first,
// then the formatted display string, then text mining of the linearized
// sheet. The mining step exists because the formula engine cannot evaluate
// every spreadsheet function.
func Strategies() []Strategy {
	return []Strategy{
		{Name: "calculated", Fn: calculatedValue},
		{Name: "formatted", Fn: formattedValue},
		{Name: "text-mine", Fn: minedValue},
	}
}

// calculatedValue uses the recalculated formula result when the cell holds a
// formula and the engine could evaluate it.
func calculatedValue(cell Cell, sctx *SheetContext) (string, int, bool) {
	formula, err := sctx.File.GetCellFormula(sctx.Sheet, cell.Axis)
	if err != nil || formula == "" {
		return "", 0, false
	}
	value, err := sctx.File.CalcCellValue(sctx.Sheet, cell.Axis)
	if err != nil {
		return "", 0, false
	}
	return strings.TrimSpace(value), 100, false
}

// formattedValue uses the cell's display string. For strings that merely wrap
// a number in currency symbols or separators the numeric token is kept.
func formattedValue(cell Cell, sctx *SheetContext) (string, int, bool) {
	raw, err := sctx.File.GetCellValue(sctx.Sheet, cell.Axis)
	if err != nil {
		return "", 0, false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0, false
	}
	if numeric := stripCurrency(raw); numeric != "" {
		return numeric, 90, false
	}
	return raw, 90, false
}

var numericToken = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// stripCurrency extracts a numeric token from a currency-formatted string
// ("£1,234.50" → "1234.50"). Returns "" when the string is not numeric-like.
func stripCurrency(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '£', '$', '€', ',', ' ':
			return -1
		}
		return r
	}, s)
	if numericToken.FindString(cleaned) == cleaned && cleaned != "" {
		return cleaned
	}
	return ""
}

// mineTargets maps canonical amount fields to the position of their token in
// the goods/VAT/total sequence following the anchor label.
var mineTargets = map[string]int{
	"netAmount":   0,
	"goodsAmount": 0,
	"taxAmount":   1,
	"vatAmount":   1,
	"totalAmount": 2,
	"grossAmount": 2,
}

var mineAnchor = regexp.MustCompile(`(?i)invoice\s+total`)

// minedValue regex-mines an amount from the sheet's linearized full text,
// anchored on the "Invoice Total" structural label. Best effort; the caller
// logs its use so operators can audit confidence.
func minedValue(cell Cell, sctx *SheetContext) (string, int, bool) {
	idx, ok := mineTargets[cell.Field]
	if !ok {
		return "", 0, false
	}
	loc := mineAnchor.FindStringIndex(sctx.FullText)
	if loc == nil {
		return "", 0, false
	}
	tokens := numericToken.FindAllString(sctx.FullText[loc[1]:], idx+1)
	if len(tokens) <= idx {
		return "", 0, false
	}
	return tokens[idx], 60, true
}
