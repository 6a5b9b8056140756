package extraction

import "errors"

var ErrNoMappingDefined = errors.New("template has no cell mappings defined")

// Method selects the extraction backend for a template.
type Method string

const (
	MethodLocal      Method = "local"
	MethodAuto       Method = "auto"
	MethodVision     Method = "vision"
	MethodDocumentAI Method = "documentai"
)

// CellMapping addresses a single cell or a rectangular range. EndColumn and
// EndRow are optional; when set the range is concatenated row-major,
// tab-separated within a row and newline-separated across rows.
type CellMapping struct {
	Column    string `json:"column"`
	Row       int    `json:"row"`
	EndColumn string `json:"endColumn,omitempty"`
	EndRow    int    `json:"endRow,omitempty"`
}

func (m CellMapping) isRange() bool {
	return m.EndColumn != "" || m.EndRow != 0
}

// TransformOp is one step of a field's transformation pipeline.
type TransformOp string

const (
	TransformRemove     TransformOp = "remove"
	TransformTrim       TransformOp = "trim"
	TransformUppercase  TransformOp = "uppercase"
	TransformLowercase  TransformOp = "lowercase"
	TransformParseFloat TransformOp = "parseFloat"
	TransformParseInt   TransformOp = "parseInt"
)

type Transform struct {
	Op  TransformOp `json:"op"`
	Arg string      `json:"arg,omitempty"`
}

// FieldMapping binds one named field to a cell mapping and its transforms.
type FieldMapping struct {
	Mapping    CellMapping `json:"mapping"`
	Transforms []Transform `json:"transforms,omitempty"`
}

// CustomFieldType drives number normalization for template-defined fields.
type CustomFieldType string

const (
	CustomFieldText     CustomFieldType = "text"
	CustomFieldNumber   CustomFieldType = "number"
	CustomFieldCurrency CustomFieldType = "currency"
)

type CustomField struct {
	Name    string          `json:"name"`
	Type    CustomFieldType `json:"type"`
	Mapping CellMapping     `json:"mapping"`
}

// Template is the per-template extraction definition: a field→cell mapping,
// optional custom fields, and the backend method.
type Template struct {
	ID           int64                   `json:"id"`
	Name         string                  `json:"name"`
	Method       Method                  `json:"method"`
	Fields       map[string]FieldMapping `json:"fields"`
	CustomFields []CustomField           `json:"customFields,omitempty"`
}

// ExtractedFieldSet is the immutable result of one extraction attempt.
type ExtractedFieldSet struct {
	Fields       map[string]string
	CustomFields map[string]string
	DocumentType DocumentType
	FullText     string
	Confidence   int
}

// DocumentType is the inferred or mapped kind of business document.
type DocumentType string

const (
	DocTypeInvoice    DocumentType = "invoice"
	DocTypeCreditNote DocumentType = "credit_note"
	DocTypeStatement  DocumentType = "statement"
)
