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
	"database/sql"
	"errors"
	"fmt"

	"github.com/tomoncle/fleetdata/database"
	"github.com/tomoncle/fleetdata/types"
	"github.com/uptrace/bun"
)

type baseRepositoryImpl[T any, ID comparable, PT interface {
	*T
	Entity[ID]
}] struct {
	schema     *EntitySchema
	registry   *Registry
	translator *Translator
	session    *Session
	logger     database.Logger
}

// NewRepository returns the repository of entity T, whose schema must be
// registered in registry.
func NewRepository[T any, ID comparable, PT interface {
	*T
	Entity[ID]
}](session *Session, registry *Registry) (Repository[T, ID], error) {
	schema, ok := SchemaOf[T](registry)
	if !ok {
		var zero T
		return nil, fmt.Errorf("no entity schema registered for %T", zero)
	}
	return &baseRepositoryImpl[T, ID, PT]{
		schema:     schema,
		registry:   registry,
		translator: NewTranslator(registry),
		session:    session,
		logger:     session.logger,
	}, nil
}

// MustNewRepository is NewRepository panicking on error.
func MustNewRepository[T any, ID comparable, PT interface {
	*T
	Entity[ID]
}](session *Session, registry *Registry) Repository[T, ID] {
	repo, err := NewRepository[T, ID, PT](session, registry)
	if err != nil {
		panic(err)
	}
	return repo
}

func (r *baseRepositoryImpl[T, ID, PT]) Schema() *EntitySchema { return r.schema }

func (r *baseRepositoryImpl[T, ID, PT]) Session() *Session { return r.session }

func (r *baseRepositoryImpl[T, ID, PT]) fail(op string, err error) error {
	err = translate(op, r.schema.Name, err)
	if err != nil {
		r.logger.Debug("Repository operation failed", "op", op, "entity", r.schema.Name, "kind", KindOf(err), "error", err)
	}
	return err
}

func (r *baseRepositoryImpl[T, ID, PT]) run(ctx context.Context, op string, fn func(ctx context.Context, tx bun.Tx) error) error {
	return r.fail(op, r.session.Run(ctx, fn))
}

func (r *baseRepositoryImpl[T, ID, PT]) wherePK(q *bun.SelectQuery, id ID) *bun.SelectQuery {
	return q.Where("?TableAlias.? = ?", bun.Ident(r.schema.PrimaryKey), id)
}

func validate(entity interface{}) error {
	v, ok := entity.(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		return &PersistenceError{Kind: KindValidation, Cause: err}
	}
	return nil
}

func (r *baseRepositoryImpl[T, ID, PT]) Create(ctx context.Context, entity *T) (*T, error) {
	var created *T
	err := r.run(ctx, "create", func(ctx context.Context, tx bun.Tx) error {
		var err error
		created, err = r.CreateWithTx(ctx, tx, entity)
		return err
	})
	return created, err
}

func (r *baseRepositoryImpl[T, ID, PT]) CreateWithTx(ctx context.Context, tx bun.IDB, entity *T) (*T, error) {
	if entity == nil {
		return nil, r.fail("create", newError(KindValidation, "nil entity"))
	}
	if err := validate(entity); err != nil {
		return nil, r.fail("create", err)
	}
	PT(entity).SetVersion(0)
	if _, err := tx.NewInsert().Model(entity).Exec(ctx); err != nil {
		return nil, r.fail("create", err)
	}
	return entity, nil
}

func (r *baseRepositoryImpl[T, ID, PT]) Update(ctx context.Context, entity *T) (*T, error) {
	var updated *T
	err := r.run(ctx, "update", func(ctx context.Context, tx bun.Tx) error {
		var err error
		updated, err = r.UpdateWithTx(ctx, tx, entity)
		return err
	})
	if err != nil {
		if updated != nil {
			// the commit failed after the version was bumped
			PT(updated).SetVersion(PT(updated).GetVersion() - 1)
		}
		return nil, err
	}
	return updated, nil
}

func (r *baseRepositoryImpl[T, ID, PT]) UpdateWithTx(ctx context.Context, tx bun.IDB, entity *T) (*T, error) {
	if entity == nil {
		return nil, r.fail("update", newError(KindValidation, "nil entity"))
	}
	e := PT(entity)
	var zero ID
	id := e.GetID()
	if id == zero {
		return nil, r.fail("update", newError(KindNotFound, "without id"))
	}
	if err := validate(entity); err != nil {
		return nil, r.fail("update", err)
	}

	current := new(T)
	if err := r.wherePK(tx.NewSelect().Model(current), id).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.fail("update", newError(KindNotFound, "id=%v", id))
		}
		return nil, r.fail("update", err)
	}
	stored := PT(current).GetVersion()
	given := e.GetVersion()
	if given != stored {
		return nil, r.fail("update", newError(KindConcurrency, "id=%v version %d, stored %d", id, given, stored))
	}

	e.SetVersion(stored + 1)
	res, err := tx.NewUpdate().
		Model(entity).
		WherePK().
		Where("?TableAlias.? = ?", bun.Ident(r.schema.VersionColumn), stored).
		Exec(ctx)
	if err != nil {
		e.SetVersion(given)
		return nil, r.fail("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		e.SetVersion(given)
		return nil, r.fail("update", err)
	}
	if n == 0 {
		e.SetVersion(given)
		return nil, r.fail("update", newError(KindConcurrency, "id=%v version %d", id, given))
	}
	return entity, nil
}

func (r *baseRepositoryImpl[T, ID, PT]) Delete(ctx context.Context, entity *T) error {
	return r.run(ctx, "delete", func(ctx context.Context, tx bun.Tx) error {
		return r.DeleteWithTx(ctx, tx, entity)
	})
}

func (r *baseRepositoryImpl[T, ID, PT]) DeleteWithTx(ctx context.Context, tx bun.IDB, entity *T) error {
	if entity == nil {
		return r.fail("delete", newError(KindValidation, "nil entity"))
	}
	var zero ID
	id := PT(entity).GetID()
	if id == zero {
		return r.fail("delete", newError(KindNotFound, "without id"))
	}
	exists, err := r.wherePK(tx.NewSelect().Model((*T)(nil)), id).Exists(ctx)
	if err != nil {
		return r.fail("delete", err)
	}
	if !exists {
		return r.fail("delete", newError(KindNotFound, "id=%v", id))
	}
	if err := r.applyDeletePolicies(ctx, tx, id); err != nil {
		return r.fail("delete", err)
	}
	_, err = tx.NewDelete().
		Model((*T)(nil)).
		Where("?TableAlias.? = ?", bun.Ident(r.schema.PrimaryKey), id).
		Exec(ctx)
	return r.fail("delete", err)
}

// applyDeletePolicies rejects the delete if a restricting relation has
// dependents, then detaches SetNull dependents and removes link rows.
func (r *baseRepositoryImpl[T, ID, PT]) applyDeletePolicies(ctx context.Context, tx bun.IDB, id ID) error {
	rels := r.schema.SortedRelations()
	for _, rel := range rels {
		if (rel.Kind != HasOne && rel.Kind != HasMany) || rel.OnDelete != DeleteRestrict {
			continue
		}
		target, ok := r.registry.Schema(rel.Target)
		if !ok {
			continue
		}
		exists, err := tx.NewSelect().
			TableExpr("?", bun.Ident(target.Table)).
			Where("? = ?", bun.Ident(rel.ForeignColumn), id).
			Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return newError(KindConstraint, "id=%v still referenced by %s", id, rel.Name)
		}
	}
	for _, rel := range rels {
		target, ok := r.registry.Schema(rel.Target)
		if !ok {
			continue
		}
		switch {
		case (rel.Kind == HasOne || rel.Kind == HasMany) && rel.OnDelete == DeleteSetNull:
			// detaching is a write: bump the version of every dependent
			if _, err := tx.ExecContext(ctx, "UPDATE ? SET ? = NULL, ? = ? + 1 WHERE ? = ?",
				bun.Ident(target.Table), bun.Ident(rel.ForeignColumn),
				bun.Ident(target.VersionColumn), bun.Ident(target.VersionColumn),
				bun.Ident(rel.ForeignColumn), id); err != nil {
				return err
			}
		case rel.Kind == ManyToMany:
			if _, err := tx.ExecContext(ctx, "DELETE FROM ? WHERE ? = ?",
				bun.Ident(rel.JoinTable), bun.Ident(rel.JoinLocalColumn), id); err != nil {
				return err
			}
		}
	}
	for _, rel := range r.registry.inboundManyToMany(r.schema.Name) {
		if _, err := tx.ExecContext(ctx, "DELETE FROM ? WHERE ? = ?",
			bun.Ident(rel.JoinTable), bun.Ident(rel.JoinForeignColumn), id); err != nil {
			return err
		}
	}
	return nil
}

func (r *baseRepositoryImpl[T, ID, PT]) GetByID(ctx context.Context, id ID, relations ...string) (*T, bool, error) {
	if err := r.check(nil, nil, relations); err != nil {
		return nil, false, r.fail("get", err)
	}
	var (
		entity *T
		found  bool
	)
	err := r.run(ctx, "get", func(ctx context.Context, tx bun.Tx) error {
		var err error
		entity, found, err = r.GetByIDWithTx(ctx, tx, id, relations...)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return entity, found, nil
}

func (r *baseRepositoryImpl[T, ID, PT]) GetByIDWithTx(ctx context.Context, tx bun.IDB, id ID, relations ...string) (*T, bool, error) {
	paths, err := r.translator.Relations(r.schema, relations)
	if err != nil {
		return nil, false, r.fail("get", err)
	}
	entity := new(T)
	q := r.wherePK(tx.NewSelect().Model(entity), id)
	for _, path := range paths {
		q = q.Relation(path)
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, r.fail("get", err)
	}
	return entity, true, nil
}

func (r *baseRepositoryImpl[T, ID, PT]) Exists(ctx context.Context, id ID) (bool, error) {
	var exists bool
	err := r.run(ctx, "exists", func(ctx context.Context, tx bun.Tx) error {
		var err error
		exists, err = r.wherePK(tx.NewSelect().Model((*T)(nil)), id).Exists(ctx)
		return err
	})
	return exists, err
}

func (r *baseRepositoryImpl[T, ID, PT]) GetAll(ctx context.Context, page *types.PageRequest, sort types.Sort, relations ...string) ([]*T, error) {
	if err := r.check(nil, &sort, relations); err != nil {
		return nil, r.fail("get all", err)
	}
	var entities []*T
	err := r.run(ctx, "get all", func(ctx context.Context, tx bun.Tx) error {
		var err error
		entities, err = r.FindByCriteriaWithTx(ctx, tx, nil, sort, page, relations...)
		return err
	})
	return entities, err
}

func (r *baseRepositoryImpl[T, ID, PT]) FindByCriteria(ctx context.Context, criteria types.Criteria, sort types.Sort, page *types.PageRequest, relations ...string) ([]*T, error) {
	if err := r.check(criteria, &sort, relations); err != nil {
		return nil, r.fail("find", err)
	}
	var entities []*T
	err := r.run(ctx, "find", func(ctx context.Context, tx bun.Tx) error {
		var err error
		entities, err = r.FindByCriteriaWithTx(ctx, tx, criteria, sort, page, relations...)
		return err
	})
	return entities, err
}

// check validates criteria, sort and relations so that malformed requests
// fail before a unit of work is opened.
func (r *baseRepositoryImpl[T, ID, PT]) check(criteria types.Criteria, sort *types.Sort, relations []string) error {
	if _, err := r.translator.Where(r.schema, criteria); err != nil {
		return err
	}
	if sort != nil {
		if _, err := r.translator.Order(r.schema, *sort); err != nil {
			return err
		}
	}
	_, err := r.translator.Relations(r.schema, relations)
	return err
}

// selectQuery validates and translates criteria, sort and relations before
// any SQL is issued.
func (r *baseRepositoryImpl[T, ID, PT]) selectQuery(tx bun.IDB, dest *[]*T, criteria types.Criteria, sort *types.Sort, relations []string) (*bun.SelectQuery, error) {
	where, err := r.translator.Where(r.schema, criteria)
	if err != nil {
		return nil, err
	}
	paths, err := r.translator.Relations(r.schema, relations)
	if err != nil {
		return nil, err
	}
	q := tx.NewSelect().Model(dest)
	if !where.IsEmpty() {
		q = q.Where(where.Schema, where.Args...)
	}
	if sort != nil {
		order, err := r.translator.Order(r.schema, *sort)
		if err != nil {
			return nil, err
		}
		q = q.OrderExpr(order.Schema, order.Args...)
	}
	for _, path := range paths {
		q = q.Relation(path)
	}
	return q, nil
}

func (r *baseRepositoryImpl[T, ID, PT]) FindByCriteriaWithTx(ctx context.Context, tx bun.IDB, criteria types.Criteria, sort types.Sort, page *types.PageRequest, relations ...string) ([]*T, error) {
	entities := make([]*T, 0)
	q, err := r.selectQuery(tx, &entities, criteria, &sort, relations)
	if err != nil {
		return nil, r.fail("find", err)
	}
	if page != nil {
		if page.IsDegenerate() {
			return entities, nil
		}
		q = q.Offset(page.GetOffset()).Limit(page.GetPageSize())
	}
	if err := q.Scan(ctx); err != nil {
		return nil, r.fail("find", err)
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T, ID, PT]) FindWithJoin(ctx context.Context, join types.Join, sort types.Sort, page *types.PageRequest, relations ...string) ([]*T, error) {
	if _, ok := r.schema.Relation(join.Relation); !ok {
		return nil, r.fail("find with join", queryError("unknown relation %q of %s", join.Relation, r.schema.Name))
	}
	criteria := types.Criteria{join.Path(): join.Value}
	if err := r.check(criteria, &sort, relations); err != nil {
		return nil, r.fail("find with join", err)
	}
	var entities []*T
	err := r.run(ctx, "find with join", func(ctx context.Context, tx bun.Tx) error {
		var err error
		entities, err = r.FindByCriteriaWithTx(ctx, tx, criteria, sort, page, relations...)
		return err
	})
	return entities, err
}

func (r *baseRepositoryImpl[T, ID, PT]) Count(ctx context.Context, criteria types.Criteria) (int, error) {
	if err := r.check(criteria, nil, nil); err != nil {
		return 0, r.fail("count", err)
	}
	var count int
	err := r.run(ctx, "count", func(ctx context.Context, tx bun.Tx) error {
		var entities []*T
		q, err := r.selectQuery(tx, &entities, criteria, nil, nil)
		if err != nil {
			return err
		}
		count, err = q.Count(ctx)
		return err
	})
	return count, err
}

func (r *baseRepositoryImpl[T, ID, PT]) Page(ctx context.Context, criteria types.Criteria, sort types.Sort, page *types.PageRequest) (*types.Pagination[T], error) {
	if page == nil {
		page = types.NewPageRequest(0, 20)
	}
	if err := r.check(criteria, &sort, nil); err != nil {
		return nil, r.fail("page", err)
	}
	pagination := types.NewDefaultPagination[T](page.GetPage(), page.GetPageSize())
	err := r.run(ctx, "page", func(ctx context.Context, tx bun.Tx) error {
		entities := make([]*T, 0)
		q, err := r.selectQuery(tx, &entities, criteria, &sort, nil)
		if err != nil {
			return err
		}
		if page.IsDegenerate() {
			return nil
		}
		total, err := q.Count(ctx)
		if err != nil || total == 0 {
			return err
		}
		if err := q.Offset(page.GetOffset()).Limit(page.GetPageSize()).Scan(ctx); err != nil {
			return err
		}
		pagination.Total = total
		pagination.Items = entities
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pagination, nil
}

// FindWithAggregation computes the aggregate per owner first and loads the
// owners in a second query, both in one unit of work.
func (r *baseRepositoryImpl[T, ID, PT]) FindWithAggregation(ctx context.Context, agg types.Aggregation, sort types.Sort) ([]types.Aggregate[T], error) {
	expr, err := r.translator.Aggregate(r.schema, agg)
	if err != nil {
		return nil, r.fail("aggregate", err)
	}
	var order *types.QueryFilter
	if sort.Field == types.SortByAggregate {
		order = types.NewQueryFilter("agg_value "+sort.Direction()+", ?TableAlias.? ASC", bun.Ident(r.schema.PrimaryKey))
	} else if order, err = r.translator.Order(r.schema, sort); err != nil {
		return nil, r.fail("aggregate", err)
	}

	var result []types.Aggregate[T]
	err = r.run(ctx, "aggregate", func(ctx context.Context, tx bun.Tx) error {
		var (
			ids    []ID
			values []sql.NullFloat64
		)
		err := tx.NewSelect().
			Model((*T)(nil)).
			ColumnExpr("?TableAlias.? AS agg_id", bun.Ident(r.schema.PrimaryKey)).
			ColumnExpr(expr.Schema+" AS agg_value", expr.Args...).
			OrderExpr(order.Schema, order.Args...).
			Scan(ctx, &ids, &values)
		if err != nil {
			return err
		}
		result = make([]types.Aggregate[T], 0, len(ids))
		if len(ids) == 0 {
			return nil
		}

		var entities []*T
		err = tx.NewSelect().
			Model(&entities).
			Where("?TableAlias.? IN (?)", bun.Ident(r.schema.PrimaryKey), bun.In(ids)).
			Scan(ctx)
		if err != nil {
			return err
		}
		byID := make(map[ID]*T, len(entities))
		for _, e := range entities {
			byID[PT(e).GetID()] = e
		}
		for i, id := range ids {
			if e, ok := byID[id]; ok {
				result = append(result, types.Aggregate[T]{Entity: e, Value: values[i].Float64})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
