package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrTemplateNotFound = errors.New("extraction template not found")

// TemplateRecord persists one extraction template. Definition holds the
// Template JSON so mapping shape changes never need schema migrations.
type TemplateRecord struct {
	ID         int64          `gorm:"primaryKey" json:"id"`
	Name       string         `gorm:"not null" json:"name"`
	Method     string         `gorm:"not null;default:'local'" json:"method"`
	Definition datatypes.JSON `gorm:"not null" json:"definition"`
	IsDefault  bool           `gorm:"not null;default:false;index" json:"is_default"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null" json:"updated_at"`
}

func (TemplateRecord) TableName() string { return "extraction_templates" }

func (r *TemplateRecord) Decode() (*Template, error) {
	var tmpl Template
	if err := json.Unmarshal(r.Definition, &tmpl); err != nil {
		return nil, fmt.Errorf("decode template %d: %w", r.ID, err)
	}
	tmpl.ID = r.ID
	tmpl.Name = r.Name
	tmpl.Method = Method(r.Method)
	return &tmpl, nil
}

// TemplateStore reads templates from the DB per invocation, like the tenant
// settings reads elsewhere; an edited template applies to the next import.
type TemplateStore struct {
	db *gorm.DB
}

func NewTemplateStore(db *gorm.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

func (s *TemplateStore) Get(ctx context.Context, id int64) (*Template, error) {
	var rec TemplateRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrTemplateNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return rec.Decode()
}

// Default returns the template used when the caller names none.
func (s *TemplateStore) Default(ctx context.Context) (*Template, error) {
	var rec TemplateRecord
	err := s.db.WithContext(ctx).
		Where("is_default = ?", true).
		Order("id asc").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no default configured", ErrTemplateNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec.Decode()
}

// Save upserts a template definition.
func (s *TemplateStore) Save(ctx context.Context, tmpl *Template) (*TemplateRecord, error) {
	raw, err := json.Marshal(tmpl)
	if err != nil {
		return nil, err
	}
	rec := &TemplateRecord{
		ID:         tmpl.ID,
		Name:       tmpl.Name,
		Method:     string(tmpl.Method),
		Definition: raw,
	}
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}
