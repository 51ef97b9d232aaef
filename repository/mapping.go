/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package repository

import (
	"context"

	"github.com/tomoncle/fleetdata/types"
	"github.com/uptrace/bun"
)

// Mapper converts a loaded entity while its unit of work is still open.
type Mapper[T any, R any] func(entity *T) (R, error)

// RelationInitializer loads whatever the mapper needs beyond the
// requested relations, using the same unit of work.
type RelationInitializer[T any] func(ctx context.Context, tx bun.IDB, entity *T) error

func initialize[T any](ctx context.Context, tx bun.IDB, init RelationInitializer[T], entity *T) error {
	if init == nil || entity == nil {
		return nil
	}
	return init(ctx, tx, entity)
}

func mapAll[T any, R any](ctx context.Context, tx bun.IDB, entities []*T, mapper Mapper[T, R], init RelationInitializer[T]) ([]R, error) {
	result := make([]R, 0, len(entities))
	for _, e := range entities {
		if err := initialize(ctx, tx, init, e); err != nil {
			return nil, err
		}
		r, err := mapper(e)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, nil
}

// GetByIDAndMap loads the entity with id and maps it inside one unit of
// work. The mapper is not called when no entity has id.
func GetByIDAndMap[T any, ID comparable, R any](ctx context.Context, repo Repository[T, ID], id ID, mapper Mapper[T, R], init RelationInitializer[T], relations ...string) (R, bool, error) {
	const op = "get and map"
	var (
		result R
		found  bool
	)
	err := repo.Session().Run(ctx, func(ctx context.Context, tx bun.Tx) error {
		entity, ok, err := repo.GetByIDWithTx(ctx, tx, id, relations...)
		if err != nil || !ok {
			return err
		}
		if err := initialize(ctx, tx, init, entity); err != nil {
			return err
		}
		if result, err = mapper(entity); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		var zero R
		return zero, false, translate(op, repo.Schema().Name, err)
	}
	return result, found, nil
}

// GetAllAndMap loads a page of all entities and maps them inside one unit of work.
func GetAllAndMap[T any, ID comparable, R any](ctx context.Context, repo Repository[T, ID], page *types.PageRequest, sort types.Sort, mapper Mapper[T, R], init RelationInitializer[T], relations ...string) ([]R, error) {
	return FindByCriteriaAndMap(ctx, repo, nil, sort, page, mapper, init, relations...)
}

// FindByCriteriaAndMap finds entities matching criteria and maps them
// inside one unit of work.
func FindByCriteriaAndMap[T any, ID comparable, R any](ctx context.Context, repo Repository[T, ID], criteria types.Criteria, sort types.Sort, page *types.PageRequest, mapper Mapper[T, R], init RelationInitializer[T], relations ...string) ([]R, error) {
	const op = "find and map"
	var result []R
	err := repo.Session().Run(ctx, func(ctx context.Context, tx bun.Tx) error {
		entities, err := repo.FindByCriteriaWithTx(ctx, tx, criteria, sort, page, relations...)
		if err != nil {
			return err
		}
		result, err = mapAll(ctx, tx, entities, mapper, init)
		return err
	})
	if err != nil {
		return nil, translate(op, repo.Schema().Name, err)
	}
	return result, nil
}

// UpdateAndMap updates entity and maps the stored state inside one unit of work.
func UpdateAndMap[T any, ID comparable, R any](ctx context.Context, repo Repository[T, ID], entity *T, mapper Mapper[T, R], init RelationInitializer[T]) (R, error) {
	const op = "update and map"
	var (
		result  R
		version int64
	)
	v, versioned := any(entity).(interface {
		GetVersion() int64
		SetVersion(version int64)
	})
	if versioned {
		version = v.GetVersion()
	}
	err := repo.Session().Run(ctx, func(ctx context.Context, tx bun.Tx) error {
		updated, err := repo.UpdateWithTx(ctx, tx, entity)
		if err != nil {
			return err
		}
		if err := initialize(ctx, tx, init, updated); err != nil {
			return err
		}
		result, err = mapper(updated)
		return err
	})
	if err != nil {
		if versioned {
			v.SetVersion(version)
		}
		var zero R
		return zero, translate(op, repo.Schema().Name, err)
	}
	return result, nil
}
