package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	FindActiveByCode(ctx context.Context, db *gorm.DB, code string) (*Supplier, error)
	ListActive(ctx context.Context, db *gorm.DB) ([]Supplier, error)
	Insert(ctx context.Context, db *gorm.DB, supplier *Supplier) error
}
