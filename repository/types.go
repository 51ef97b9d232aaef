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

// Entity is implemented by pointers to persistent structs. The zero ID
// means the entity has not been persisted yet.
type Entity[ID comparable] interface {
	GetID() ID
	GetVersion() int64
	SetVersion(version int64)
}

// Validator is implemented by entities that check their own invariants
// before being written. A failure is reported as KindValidation.
type Validator interface {
	Validate() error
}

// CrudRepository defines the unit-of-work scoped CRUD operations.
type CrudRepository[T any, ID comparable] interface {
	// Create inserts entity with version 0 and returns it with its ID set.
	Create(ctx context.Context, entity *T) (*T, error)
	// Update overwrites the stored row if entity carries its current
	// version, and increments the version by one.
	Update(ctx context.Context, entity *T) (*T, error)
	// Delete removes the row of entity, applying the delete policies of
	// its relations.
	Delete(ctx context.Context, entity *T) error
	// GetByID returns (nil, false, nil) when no row has id.
	GetByID(ctx context.Context, id ID, relations ...string) (*T, bool, error)
	Exists(ctx context.Context, id ID) (bool, error)
}

// QueryRepository defines criteria driven reads. A nil page means unpaged;
// a degenerate page yields an empty result.
type QueryRepository[T any, ID comparable] interface {
	GetAll(ctx context.Context, page *types.PageRequest, sort types.Sort, relations ...string) ([]*T, error)
	FindByCriteria(ctx context.Context, criteria types.Criteria, sort types.Sort, page *types.PageRequest, relations ...string) ([]*T, error)
	FindWithJoin(ctx context.Context, join types.Join, sort types.Sort, page *types.PageRequest, relations ...string) ([]*T, error)
	FindWithAggregation(ctx context.Context, agg types.Aggregation, sort types.Sort) ([]types.Aggregate[T], error)
	Count(ctx context.Context, criteria types.Criteria) (int, error)
}

// PageQueryRepository returns a page together with the total match count.
type PageQueryRepository[T any] interface {
	Page(ctx context.Context, criteria types.Criteria, sort types.Sort, page *types.PageRequest) (*types.Pagination[T], error)
}

// TransactionRepository runs operations inside a caller supplied unit of
// work. Errors are already translated.
type TransactionRepository[T any, ID comparable] interface {
	CreateWithTx(ctx context.Context, tx bun.IDB, entity *T) (*T, error)
	UpdateWithTx(ctx context.Context, tx bun.IDB, entity *T) (*T, error)
	DeleteWithTx(ctx context.Context, tx bun.IDB, entity *T) error
	GetByIDWithTx(ctx context.Context, tx bun.IDB, id ID, relations ...string) (*T, bool, error)
	FindByCriteriaWithTx(ctx context.Context, tx bun.IDB, criteria types.Criteria, sort types.Sort, page *types.PageRequest, relations ...string) ([]*T, error)
}

// Repository is the generic data access contract of one entity type.
type Repository[T any, ID comparable] interface {
	CrudRepository[T, ID]
	QueryRepository[T, ID]
	PageQueryRepository[T]
	TransactionRepository[T, ID]
	Schema() *EntitySchema
	Session() *Session
}
