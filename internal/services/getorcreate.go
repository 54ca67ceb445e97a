package services

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type CheckFunc[T any] func(ctx context.Context) (*T, error)
type CreateFunc[T any] func(ctx context.Context) (*T, error)

// GetOrCreate is the idempotent step contract shared by every stage service.
//
// With force=false it returns the existing usable entity without side
// effects, or creates one. If two callers race the create, the storage-level
// unique constraint lets exactly one win; the loser sees
// gorm.ErrDuplicatedKey, re-runs the checker and returns the winner's row.
//
// With force=true the checker is skipped and a new entity is always created
// alongside any prior ones.
func GetOrCreate[T any](ctx context.Context, force bool, check CheckFunc[T], create CreateFunc[T]) (*T, bool, error) {
	if !force {
		existing, err := check(ctx)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}
	created, err := create(ctx)
	if err != nil {
		if !force && errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, cerr := check(ctx)
			if cerr != nil {
				return nil, false, cerr
			}
			if existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}
	return created, true, nil
}
