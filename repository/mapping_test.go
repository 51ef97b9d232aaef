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
	"strings"

	"github.com/tomoncle/fleetdata/types"
	"github.com/uptrace/bun"
)

type ownerView struct {
	Name      string
	ItemCount int
	Tags      int
}

func viewOwner(o *testOwner) (ownerView, error) {
	return ownerView{Name: strings.ToUpper(o.Name), ItemCount: len(o.Items)}, nil
}

func (s *RepositorySuite) TestGetByIDAndMap() {
	acme := s.owner("acme")
	a := s.item("a", 1, acme)
	s.item("b", 2, acme)
	s.tag("red", a)

	tagCount := func(ctx context.Context, tx bun.IDB, o *testOwner) error {
		for _, i := range o.Items {
			if err := tx.NewSelect().Model(i).WherePK().Relation("Tags").Scan(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	view, found, err := GetByIDAndMap(s.ctx, s.owners, acme.ID, func(o *testOwner) (ownerView, error) {
		v, _ := viewOwner(o)
		for _, i := range o.Items {
			v.Tags += len(i.Tags)
		}
		return v, nil
	}, tagCount, "items")
	s.Require().NoError(err)
	s.True(found)
	s.Equal(ownerView{Name: "ACME", ItemCount: 2, Tags: 1}, view)

	called := false
	_, found, err = GetByIDAndMap(s.ctx, s.owners, 999, func(o *testOwner) (ownerView, error) {
		called = true
		return ownerView{}, nil
	}, nil)
	s.NoError(err)
	s.False(found)
	s.False(called)

	_, _, err = GetByIDAndMap(s.ctx, s.owners, acme.ID, viewOwner, nil, "pets")
	s.True(IsQuery(err))
}

func (s *RepositorySuite) TestFindAndGetAllAndMap() {
	acme := s.owner("acme")
	s.owner("globex")
	s.item("a", 1, acme)

	views, err := FindByCriteriaAndMap(s.ctx, s.owners, types.Criteria{"items.title": "a"}, types.Sort{}, nil, viewOwner, nil, "items")
	s.Require().NoError(err)
	s.Equal([]ownerView{{Name: "ACME", ItemCount: 1}}, views)

	views, err = GetAllAndMap(s.ctx, s.owners, types.NewPageRequest(0, 10), types.Desc("name"), viewOwner, nil)
	s.Require().NoError(err)
	s.Equal([]ownerView{{Name: "GLOBEX"}, {Name: "ACME"}}, views)

	views, err = GetAllAndMap(s.ctx, s.owners, types.NewPageRequest(0, 0), types.Sort{}, viewOwner, nil)
	s.Require().NoError(err)
	s.Empty(views)
}

func (s *RepositorySuite) TestMapperFailureRollsBack() {
	acme := s.owner("acme")
	boom := errors.New("boom")

	acme.Name = "renamed"
	_, err := UpdateAndMap(s.ctx, s.owners, acme, func(o *testOwner) (ownerView, error) {
		return ownerView{}, boom
	}, nil)
	s.Require().Error(err)
	s.ErrorIs(err, boom)
	s.Equal(KindUnknown, KindOf(err))
	s.Contains(err.Error(), "update and map Owner")
	s.Zero(acme.Version)

	got, _, err := s.owners.GetByID(s.ctx, acme.ID)
	s.Require().NoError(err)
	s.Equal("acme", got.Name)
	s.Zero(got.Version)

	got.Name = "renamed"
	view, err := UpdateAndMap(s.ctx, s.owners, got, viewOwner, func(ctx context.Context, tx bun.IDB, o *testOwner) error {
		return tx.NewSelect().Model(&o.Items).Where("owner_id = ?", o.ID).Scan(ctx)
	})
	s.Require().NoError(err)
	s.Equal("RENAMED", view.Name)
	s.Equal(int64(1), got.Version)
}
