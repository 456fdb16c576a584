// Package repo holds the gorm plumbing shared by the domain repositories.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Base binds a repository to a connection or an open transaction.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the connection bound to ctx. A nil ctx returns it unbound.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Locked is DB with SELECT ... FOR UPDATE on dialects that support it.
// SQLite serializes writers already and rejects the clause.
func (b Base) Locked(ctx context.Context) *gorm.DB {
	q := b.DB(ctx)
	if q.Dialector != nil && q.Dialector.Name() == "sqlite" {
		return q
	}
	return q.Clauses(clause.Locking{Strength: "UPDATE"})
}

// First loads one row into a new T. A missing row is (nil, nil).
func First[T any](q *gorm.DB, conds ...any) (*T, error) {
	var row T
	if err := q.First(&row, conds...).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}
