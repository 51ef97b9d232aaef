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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/fleetdata/types"
)

func TestPersistenceErrorMessage(t *testing.T) {
	cases := []struct {
		err  *PersistenceError
		want string
	}{
		{&PersistenceError{Kind: KindNotFound, Op: "delete", Entity: "Vehicle", Detail: "id=3"}, "delete Vehicle id=3: entity not found"},
		{&PersistenceError{Kind: KindConstraint, Op: "create", Entity: "Client", Cause: errors.New("UNIQUE constraint failed")}, "create Client: constraint violation: UNIQUE constraint failed"},
		{&PersistenceError{Kind: KindQuery, Detail: `unknown field "x"`}, `unknown field "x": invalid query`},
		{&PersistenceError{Kind: KindUnknown}, "persistence failure"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.err.Error())
	}
}

func TestSentinelsMatchByKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &PersistenceError{Kind: KindConcurrency, Op: "update", Entity: "Vehicle"})
	assert.True(t, errors.Is(err, ErrConcurrency))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.True(t, IsConcurrency(err))
	assert.Equal(t, KindConcurrency, KindOf(err))

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsValidation(errors.New("plain")))
}

func TestTranslateKeepsKindAndAddsAttribution(t *testing.T) {
	assert.Nil(t, Translate("get", "Vehicle", nil))

	err := Translate("find", "Vehicle", queryError("unknown field %q", "x"))
	var pe *PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindQuery, pe.Kind)
	assert.Equal(t, "find", pe.Op)
	assert.Equal(t, "Vehicle", pe.Entity)

	// outer attribution does not replace the inner one
	again := Translate("find and map", "Employee", err)
	assert.Equal(t, err.Error(), again.Error())

	assert.True(t, IsNotFound(Translate("get", "Vehicle", fmt.Errorf("scan: %w", sql.ErrNoRows))))
	assert.True(t, IsConstraint(Translate("create", "Vehicle", errors.New("constraint failed: UNIQUE constraint failed: vehicles.plate (2067)"))))
	assert.True(t, IsConstraint(Translate("create", "Vehicle", errors.New("FOREIGN KEY constraint failed"))))
	assert.True(t, IsValidation(Translate("create", "Vehicle", errors.New("NOT NULL constraint failed: vehicles.plate"))))
	assert.True(t, IsQuery(Translate("find", "Vehicle", errors.New("no such column: vehicle.colour"))))

	timeout := Translate("find", "Vehicle", context.DeadlineExceeded)
	assert.Equal(t, KindUnknown, KindOf(timeout))
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)
}

func TestKindEnum(t *testing.T) {
	var _ types.BaseEnum = KindNotFound
	for _, k := range Kinds() {
		assert.True(t, k.IsValid())
		parsed, ok := ParseKind(k.Name())
		require.True(t, ok)
		assert.Equal(t, k, parsed)
		assert.NotEqual(t, types.IllegalDesc, k.Desc())
	}
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, 2, KindQuery.Number())

	invalid := Kind(42)
	assert.False(t, invalid.IsValid())
	assert.Equal(t, types.IllegalValue, invalid.Number())
	assert.Equal(t, types.IllegalName, invalid.Name())

	_, ok := ParseKind("nope")
	assert.False(t, ok)
}
