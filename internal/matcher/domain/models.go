package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Supplier is a business entity that documents are matched against.
// Branch accounts hang under a head office via ParentID; RootID and Depth
// are denormalized from the parent chain and rebuilt by the reindex job,
// never written on the request path.
type Supplier struct {
	ID        snowflake.ID   `gorm:"primaryKey" json:"id"`
	Code      string         `gorm:"not null;index" json:"code"`
	Name      string         `gorm:"not null" json:"name"`
	Email     string         `json:"email,omitempty"`
	ParentID  *snowflake.ID  `gorm:"index" json:"parent_id,omitempty"`
	RootID    snowflake.ID   `gorm:"index" json:"root_id"`
	Depth     int            `gorm:"not null;default:0" json:"depth"`
	Active    bool           `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Supplier) TableName() string { return "suppliers" }

// MatchMethod records which signal resolved the entity.
type MatchMethod string

const (
	MatchMethodCode      MatchMethod = "code"
	MatchMethodNameFuzzy MatchMethod = "name_fuzzy"
	MatchMethodNone      MatchMethod = "none"
)

// MatchResult is ephemeral; it is not persisted beyond the records it
// produced. Error carries a human-actionable reason when no match was found.
type MatchResult struct {
	SupplierID *snowflake.ID
	Method     MatchMethod
	Confidence float64
	Error      string
}

func (r MatchResult) Matched() bool {
	return r.SupplierID != nil
}
