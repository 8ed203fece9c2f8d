package repository

import (
	"context"

	"github.com/smallbiznis/primerouter/pkg/db/option"
	"gorm.io/gorm"
)

// DefaultBatchSize bounds the rows written per INSERT by BatchCreate.
const DefaultBatchSize = 500

// Repository is a generic append-only gorm store. Lineage rows are never
// updated or deleted once written, so no mutation methods are offered.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, filter *T, opts ...option.QueryOption) ([]*T, error)
	// FindOne returns nil, nil when nothing matches.
	FindOne(ctx context.Context, filter *T, opts ...option.QueryOption) (*T, error)
	Exists(ctx context.Context, filter *T) (bool, error)
	Create(ctx context.Context, row *T) error
	BatchCreate(ctx context.Context, rows []*T) error
}
