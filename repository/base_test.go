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
	"errors"
	"math"
	"time"

	"github.com/tomoncle/fleetdata/types"
	"github.com/uptrace/bun"
)

func (s *RepositorySuite) TestCreateAndGetRoundTrip() {
	created, err := s.owners.Create(s.ctx, &testOwner{Name: "acme", Version: 7})
	s.Require().NoError(err)
	s.NotZero(created.ID)
	s.Zero(created.Version)

	got, found, err := s.owners.GetByID(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Require().True(found)
	s.Equal("acme", got.Name)
	s.Equal(created.ID, got.ID)
	s.Nil(got.Region)

	exists, err := s.owners.Exists(s.ctx, created.ID)
	s.Require().NoError(err)
	s.True(exists)
}

func (s *RepositorySuite) TestGetByIDAbsent() {
	got, found, err := s.owners.GetByID(s.ctx, 999)
	s.NoError(err)
	s.False(found)
	s.Nil(got)

	exists, err := s.owners.Exists(s.ctx, 999)
	s.NoError(err)
	s.False(exists)
}

func (s *RepositorySuite) TestCreateValidation() {
	_, err := s.items.Create(s.ctx, &testItem{Title: "broken", Amount: -1})
	s.Require().Error(err)
	s.True(IsValidation(err))
	s.Equal("create Item: invalid entity state: amount must not be negative", err.Error())

	_, err = s.items.Create(s.ctx, nil)
	s.True(IsValidation(err))

	n, err := s.items.Count(s.ctx, nil)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *RepositorySuite) TestCreateDuplicateIsConstraint() {
	s.owner("acme")
	_, err := s.owners.Create(s.ctx, &testOwner{Name: "acme"})
	s.Require().Error(err)
	s.True(IsConstraint(err))
	s.True(errors.Is(err, ErrConstraint))

	var pe *PersistenceError
	s.Require().True(errors.As(err, &pe))
	s.Equal("create", pe.Op)
	s.Equal("Owner", pe.Entity)
	s.NotNil(pe.Cause)
}

func (s *RepositorySuite) TestUpdateIncrementsVersion() {
	o := s.owner("acme")
	region := "north"
	o.Region = &region

	updated, err := s.owners.Update(s.ctx, o)
	s.Require().NoError(err)
	s.Equal(int64(1), updated.Version)

	got, _, err := s.owners.GetByID(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), got.Version)
	s.Require().NotNil(got.Region)
	s.Equal("north", *got.Region)

	got.Name = "acme corp"
	_, err = s.owners.Update(s.ctx, got)
	s.Require().NoError(err)
	s.Equal(int64(2), got.Version)
}

func (s *RepositorySuite) TestUpdateStaleVersionIsConcurrency() {
	o := s.owner("acme")
	first, _, err := s.owners.GetByID(s.ctx, o.ID)
	s.Require().NoError(err)
	second, _, err := s.owners.GetByID(s.ctx, o.ID)
	s.Require().NoError(err)

	first.Name = "first"
	_, err = s.owners.Update(s.ctx, first)
	s.Require().NoError(err)

	second.Name = "second"
	_, err = s.owners.Update(s.ctx, second)
	s.Require().Error(err)
	s.True(IsConcurrency(err))
	s.Zero(second.Version)

	got, _, err := s.owners.GetByID(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Equal("first", got.Name)
	s.Equal(int64(1), got.Version)
}

func (s *RepositorySuite) TestUpdateMissingIsNotFound() {
	_, err := s.owners.Update(s.ctx, &testOwner{Name: "ghost"})
	s.True(IsNotFound(err))

	_, err = s.owners.Update(s.ctx, &testOwner{ID: 999, Name: "ghost"})
	s.True(IsNotFound(err))
	s.Contains(err.Error(), "id=999")
}

func (s *RepositorySuite) TestDeleteTwiceFails() {
	o := s.owner("acme")
	s.Require().NoError(s.owners.Delete(s.ctx, o))

	err := s.owners.Delete(s.ctx, o)
	s.Require().Error(err)
	s.True(IsNotFound(err))
	s.True(errors.Is(err, ErrNotFound))

	_, found, err := s.owners.GetByID(s.ctx, o.ID)
	s.NoError(err)
	s.False(found)
}

func (s *RepositorySuite) TestDeleteRestrictedByDependents() {
	o := s.owner("acme")
	account, err := s.accounts.Create(s.ctx, &testAccount{Number: "A-1", OwnerID: &o.ID})
	s.Require().NoError(err)

	err = s.owners.Delete(s.ctx, o)
	s.Require().Error(err)
	s.True(IsConstraint(err))
	s.Contains(err.Error(), "accounts")

	exists, err := s.owners.Exists(s.ctx, o.ID)
	s.Require().NoError(err)
	s.True(exists)

	s.Require().NoError(s.accounts.Delete(s.ctx, account))
	s.NoError(s.owners.Delete(s.ctx, o))
}

func (s *RepositorySuite) TestDeleteDetachesDependents() {
	o := s.owner("acme")
	i := s.item("bolt", 10, o)

	s.Require().NoError(s.owners.Delete(s.ctx, o))

	got, found, err := s.items.GetByID(s.ctx, i.ID)
	s.Require().NoError(err)
	s.Require().True(found)
	s.Nil(got.OwnerID)
}

func (s *RepositorySuite) TestDetachedDependentRejectsStaleUpdate() {
	o := s.owner("acme")
	i := s.item("bolt", 10, o)
	stale, found, err := s.items.GetByID(s.ctx, i.ID)
	s.Require().NoError(err)
	s.Require().True(found)
	s.Require().NotNil(stale.OwnerID)

	s.Require().NoError(s.owners.Delete(s.ctx, o))
	detached, _, err := s.items.GetByID(s.ctx, i.ID)
	s.Require().NoError(err)
	s.Nil(detached.OwnerID)
	s.Equal(stale.Version+1, detached.Version)

	stale.Title = "nut"
	_, err = s.items.Update(s.ctx, stale)
	s.True(IsConcurrency(err), "got %v", err)

	after, _, err := s.items.GetByID(s.ctx, i.ID)
	s.Require().NoError(err)
	s.Nil(after.OwnerID)
	s.Equal("bolt", after.Title)
}

func (s *RepositorySuite) TestDeleteRemovesLinkRows() {
	bolt := s.item("bolt", 10, nil)
	nut := s.item("nut", 5, nil)
	red := s.tag("red", bolt, nut)
	s.tag("blue", bolt)
	s.Equal(3, s.links())

	s.Require().NoError(s.tags.Delete(s.ctx, red))
	s.Equal(1, s.links())

	s.Require().NoError(s.items.Delete(s.ctx, bolt))
	s.Zero(s.links())

	exists, err := s.items.Exists(s.ctx, nut.ID)
	s.Require().NoError(err)
	s.True(exists)
}

func (s *RepositorySuite) TestFindByCriteriaConjunction() {
	acme := s.owner("acme")
	globex := s.owner("globex")
	s.item("a", 10, acme)
	s.item("b", 10, globex)
	s.item("c", 20, acme)
	s.item("d", 10, nil)

	got, err := s.items.FindByCriteria(s.ctx, types.Criteria{"amount": 10, "ownerId": acme.ID}, types.Sort{}, nil)
	s.Require().NoError(err)
	s.Equal([]string{"a"}, titles(got))

	got, err = s.items.FindByCriteria(s.ctx, types.Criteria{}, types.Asc("title"), nil)
	s.Require().NoError(err)
	s.Equal([]string{"a", "b", "c", "d"}, titles(got))

	got, err = s.items.FindByCriteria(s.ctx, types.Criteria{"ownerId": nil}, types.Sort{}, nil)
	s.Require().NoError(err)
	s.Equal([]string{"d"}, titles(got))

	got, err = s.items.FindByCriteria(s.ctx, types.Criteria{"title": "zzz"}, types.Sort{}, nil)
	s.Require().NoError(err)
	s.NotNil(got)
	s.Empty(got)
}

func (s *RepositorySuite) TestFindByCriteriaTraversesRelations() {
	acme := s.owner("acme")
	globex := s.owner("globex")
	a := s.item("a", 10, acme)
	b := s.item("b", 10, acme)
	c := s.item("c", 20, globex)
	s.tag("red", a, b, c)
	s.tag("blue", a)

	got, err := s.items.FindByCriteria(s.ctx, types.Criteria{"owner.name": "acme"}, types.Asc("title"), nil)
	s.Require().NoError(err)
	s.Equal([]string{"a", "b"}, titles(got))

	// two matching items, one owner row
	owners, err := s.owners.FindByCriteria(s.ctx, types.Criteria{"items.amount": 10}, types.Sort{}, nil)
	s.Require().NoError(err)
	s.Equal([]string{"acme"}, names(owners))

	// both conditions must hold for the same item
	owners, err = s.owners.FindByCriteria(s.ctx, types.Criteria{"items.title": "a", "items.amount": 20}, types.Sort{}, nil)
	s.Require().NoError(err)
	s.Empty(owners)

	owners, err = s.owners.FindByCriteria(s.ctx, types.Criteria{"items.tags.label": "red"}, types.Asc("name"), nil)
	s.Require().NoError(err)
	s.Equal([]string{"acme", "globex"}, names(owners))

	got, err = s.items.FindByCriteria(s.ctx, types.Criteria{"tags.label": "blue", "owner.name": "acme"}, types.Sort{}, nil)
	s.Require().NoError(err)
	s.Equal([]string{"a"}, titles(got))
}

func (s *RepositorySuite) TestFindWithJoin() {
	acme := s.owner("acme")
	a := s.item("a", 10, acme)
	b := s.item("b", 10, nil)
	s.tag("red", a, b)
	s.tag("blue", b)

	got, err := s.items.FindWithJoin(s.ctx, types.Join{Relation: "tags", Field: "label", Value: "blue"}, types.Sort{}, nil)
	s.Require().NoError(err)
	s.Equal([]string{"b"}, titles(got))

	got, err = s.items.FindWithJoin(s.ctx, types.Join{Relation: "tags", Field: "label", Value: "red"}, types.Desc("title"), types.NewPageRequest(0, 1))
	s.Require().NoError(err)
	s.Equal([]string{"b"}, titles(got))

	owners, err := s.owners.FindWithJoin(s.ctx, types.Join{Relation: "items", Field: "title", Value: "a"}, types.Sort{}, nil, "items")
	s.Require().NoError(err)
	s.Require().Len(owners, 1)
	s.Len(owners[0].Items, 1)

	_, err = s.items.FindWithJoin(s.ctx, types.Join{Relation: "colors", Field: "label", Value: "red"}, types.Sort{}, nil)
	s.True(IsQuery(err))
	_, err = s.items.FindWithJoin(s.ctx, types.Join{Relation: "tags", Field: "hue", Value: "red"}, types.Sort{}, nil)
	s.True(IsQuery(err))
}

func (s *RepositorySuite) TestUnknownNamesFailBeforeSQL() {
	closed := openTestDB(s.T())
	s.Require().NoError(closed.Close())
	owners := MustNewRepository[testOwner, int64](NewSession(closed), s.registry)
	items := MustNewRepository[testItem, int64](NewSession(closed), s.registry)

	_, err := owners.FindByCriteria(s.ctx, types.Criteria{"nickname": "x"}, types.Sort{}, nil)
	s.True(IsQuery(err))
	s.Contains(err.Error(), `"nickname"`)

	_, err = items.FindByCriteria(s.ctx, types.Criteria{"owner.nickname": "x"}, types.Sort{}, nil)
	s.True(IsQuery(err))
	s.Contains(err.Error(), `"nickname"`)

	_, err = items.FindByCriteria(s.ctx, types.Criteria{"maker.name": "x"}, types.Sort{}, nil)
	s.True(IsQuery(err))
	s.Contains(err.Error(), `"maker"`)

	_, err = owners.GetAll(s.ctx, nil, types.Asc("nickname"))
	s.True(IsQuery(err))
	s.Contains(err.Error(), `"nickname"`)

	_, err = owners.Count(s.ctx, types.Criteria{"": 1})
	s.True(IsQuery(err))

	_, _, err = owners.GetByID(s.ctx, 1, "pets")
	s.True(IsQuery(err))

	_, err = owners.Page(s.ctx, nil, types.Desc("nickname"), types.NewPageRequest(0, 10))
	s.True(IsQuery(err))

	_, err = owners.FindWithAggregation(s.ctx, types.Sum("items", "weight"), types.Sort{})
	s.True(IsQuery(err))

	// a valid request reaches the closed database
	_, err = owners.Count(s.ctx, nil)
	s.Require().Error(err)
	s.False(IsQuery(err))
}

func (s *RepositorySuite) TestSortAndPaging() {
	for _, name := range []string{"c", "a", "b", "e", "d"} {
		s.owner(name)
	}

	got, err := s.owners.GetAll(s.ctx, nil, types.Sort{})
	s.Require().NoError(err)
	s.Equal([]string{"c", "a", "b", "e", "d"}, names(got))

	got, err = s.owners.GetAll(s.ctx, nil, types.Asc("name"))
	s.Require().NoError(err)
	s.Equal([]string{"a", "b", "c", "d", "e"}, names(got))

	got, err = s.owners.GetAll(s.ctx, nil, types.Desc("name"))
	s.Require().NoError(err)
	s.Equal([]string{"e", "d", "c", "b", "a"}, names(got))

	got, err = s.owners.GetAll(s.ctx, types.NewPageRequest(1, 2), types.Asc("name"))
	s.Require().NoError(err)
	s.Equal([]string{"c", "d"}, names(got))

	got, err = s.owners.GetAll(s.ctx, types.NewPageRequest(2, 2), types.Asc("name"))
	s.Require().NoError(err)
	s.Equal([]string{"e"}, names(got))

	got, err = s.owners.GetAll(s.ctx, types.NewPageRequest(9, 2), types.Asc("name"))
	s.Require().NoError(err)
	s.Empty(got)
}

func (s *RepositorySuite) TestDegeneratePagesAreEmpty() {
	s.item("bolt", 10, s.owner("acme"))
	for _, page := range []*types.PageRequest{
		types.NewPageRequest(-1, 10),
		types.NewPageRequest(0, 0),
		types.NewPageRequest(0, -5),
		types.NewPageRequest(math.MaxInt/2+1, 2),
	} {
		got, err := s.owners.GetAll(s.ctx, page, types.Sort{})
		s.Require().NoError(err)
		s.NotNil(got)
		s.Empty(got)

		got, err = s.owners.FindByCriteria(s.ctx, types.Criteria{"name": "acme"}, types.Sort{}, page)
		s.Require().NoError(err)
		s.Empty(got)

		got, err = s.owners.FindWithJoin(s.ctx, types.Join{Relation: "items", Field: "title", Value: "bolt"}, types.Sort{}, page)
		s.Require().NoError(err)
		s.NotNil(got)
		s.Empty(got)

		p, err := s.owners.Page(s.ctx, nil, types.Sort{}, page)
		s.Require().NoError(err)
		s.Empty(p.Items)
		s.Zero(p.Total)
	}
}

func (s *RepositorySuite) TestPage() {
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		s.owner(name)
	}
	p, err := s.owners.Page(s.ctx, nil, types.Asc("name"), types.NewPageRequest(1, 2))
	s.Require().NoError(err)
	s.Equal(5, p.Total)
	s.Equal(3, p.TotalPages())
	s.Equal(1, p.Page)
	s.Equal([]string{"c", "d"}, names(p.Items))

	p, err = s.owners.Page(s.ctx, types.Criteria{"name": "e"}, types.Sort{}, nil)
	s.Require().NoError(err)
	s.Equal(1, p.Total)
	s.Equal(20, p.PageSize)
}

func (s *RepositorySuite) TestCount() {
	acme := s.owner("acme")
	s.item("a", 10, acme)
	s.item("b", 10, nil)

	n, err := s.items.Count(s.ctx, nil)
	s.Require().NoError(err)
	s.Equal(2, n)

	n, err = s.items.Count(s.ctx, types.Criteria{"owner.name": "acme"})
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *RepositorySuite) TestRelationsLoadOnlyOnRequest() {
	acme := s.owner("acme")
	a := s.item("a", 10, acme)
	s.item("b", 20, acme)
	s.tag("red", a)

	got, _, err := s.items.GetByID(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Nil(got.Owner)
	s.Nil(got.Tags)

	got, _, err = s.items.GetByID(s.ctx, a.ID, "owner", "tags")
	s.Require().NoError(err)
	s.Require().NotNil(got.Owner)
	s.Equal("acme", got.Owner.Name)
	s.Require().Len(got.Tags, 1)
	s.Equal("red", got.Tags[0].Label)

	owner, _, err := s.owners.GetByID(s.ctx, acme.ID, "items")
	s.Require().NoError(err)
	s.Len(owner.Items, 2)
	s.Nil(owner.Accounts)

	all, err := s.items.FindByCriteria(s.ctx, nil, types.Asc("title"), nil, "owner")
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal("acme", all[1].Owner.Name)
}

func (s *RepositorySuite) TestAggregation() {
	acme := s.owner("acme")
	globex := s.owner("globex")
	s.item("a", 100, acme)
	s.item("b", 200, acme)

	sums, err := s.owners.FindWithAggregation(s.ctx, types.Sum("items", "amount"), types.Desc(types.SortByAggregate))
	s.Require().NoError(err)
	s.Require().Len(sums, 2)
	s.Equal("acme", sums[0].Entity.Name)
	s.Equal(300.0, sums[0].Value)
	s.Equal(globex.ID, sums[1].Entity.ID)
	s.Equal(0.0, sums[1].Value)

	counts, err := s.owners.FindWithAggregation(s.ctx, types.Count("items"), types.Asc("name"))
	s.Require().NoError(err)
	s.Require().Len(counts, 2)
	s.Equal(2.0, counts[0].Value)
	s.Equal(0.0, counts[1].Value)

	_, err = s.items.FindWithAggregation(s.ctx, types.Sum("owner", "id"), types.Sort{})
	s.True(IsQuery(err))
}

func (s *RepositorySuite) TestTransactionalVariantsShareUnitOfWork() {
	rollback := errors.New("rollback")
	err := s.session.Run(s.ctx, func(ctx context.Context, tx bun.Tx) error {
		o, err := s.owners.CreateWithTx(ctx, tx, &testOwner{Name: "acme"})
		if err != nil {
			return err
		}
		if _, err := s.items.CreateWithTx(ctx, tx, &testItem{Title: "a", Amount: 1, OwnerID: &o.ID}); err != nil {
			return err
		}
		found, err := s.items.FindByCriteriaWithTx(ctx, tx, types.Criteria{"owner.name": "acme"}, types.Sort{}, nil)
		if err != nil {
			return err
		}
		s.Len(found, 1)
		return rollback
	})
	s.ErrorIs(err, rollback)

	n, err := s.owners.Count(s.ctx, nil)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *RepositorySuite) TestSessionRollsBackOnPanic() {
	s.Panics(func() {
		_ = s.session.Run(s.ctx, func(ctx context.Context, tx bun.Tx) error {
			if _, err := s.owners.CreateWithTx(ctx, tx, &testOwner{Name: "acme"}); err != nil {
				return err
			}
			panic("boom")
		})
	})
	n, err := s.owners.Count(s.ctx, nil)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *RepositorySuite) TestSessionAppliesTimeout() {
	s.Equal(5*time.Second, s.session.Timeout())
	err := s.session.Run(s.ctx, func(ctx context.Context, tx bun.Tx) error {
		_, ok := ctx.Deadline()
		s.True(ok)
		return nil
	})
	s.NoError(err)

	expired, cancel := context.WithTimeout(s.ctx, -time.Second)
	defer cancel()
	_, err = s.owners.Count(expired, nil)
	s.Require().Error(err)
	s.Equal(KindUnknown, KindOf(err))
	s.ErrorIs(err, context.DeadlineExceeded)
}
