package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/primerouter/pkg/db/option"
	"gorm.io/gorm"
)

type store[T any] struct {
	db        *gorm.DB
	batchSize int
}

func ProvideStore[T any](conn *gorm.DB) Repository[T] {
	return &store[T]{db: conn, batchSize: DefaultBatchSize}
}

func (s *store[T]) WithTrx(tx *gorm.DB) Repository[T] {
	return &store[T]{db: tx, batchSize: s.batchSize}
}

func (s *store[T]) Find(ctx context.Context, filter *T, opts ...option.QueryOption) ([]*T, error) {
	var rows []*T
	if err := s.scope(ctx, filter, opts).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *store[T]) FindOne(ctx context.Context, filter *T, opts ...option.QueryOption) (*T, error) {
	row := new(T)
	err := s.scope(ctx, filter, opts).Take(row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *store[T]) Exists(ctx context.Context, filter *T) (bool, error) {
	var found []T
	res := s.scope(ctx, filter, nil).Limit(1).Find(&found)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *store[T]) Create(ctx context.Context, row *T) error {
	return s.db.WithContext(ctx).Create(row).Error
}

func (s *store[T]) BatchCreate(ctx context.Context, rows []*T) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(rows, s.batchSize).Error
}

func (s *store[T]) scope(ctx context.Context, filter *T, opts []option.QueryOption) *gorm.DB {
	q := s.db.WithContext(ctx).Model(new(T))
	if filter != nil {
		q = q.Where(filter)
	}
	for _, opt := range opts {
		q = opt.Apply(q)
	}
	return q
}
