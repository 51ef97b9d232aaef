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
	"fmt"
	"strings"

	"github.com/tomoncle/fleetdata/database"
	"github.com/tomoncle/fleetdata/types"
)

// Kind classifies every failure surfaced by a repository.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindQuery
	KindConstraint
	KindConcurrency
	KindValidation
)

var kindNames = [...]string{"unknown", "not_found", "query", "constraint", "concurrency", "validation"}

var kindDescs = [...]string{
	"persistence failure",
	"entity not found",
	"invalid query",
	"constraint violation",
	"concurrent modification",
	"invalid entity state",
}

var _ types.BaseEnum = KindUnknown

// Kinds returns every valid kind.
func Kinds() []Kind {
	return []Kind{KindUnknown, KindNotFound, KindQuery, KindConstraint, KindConcurrency, KindValidation}
}

// ParseKind looks a kind up by its name.
func ParseKind(name string) (Kind, bool) {
	return types.LookupEnum(Kinds(), name)
}

func (k Kind) IsValid() bool { return k >= KindUnknown && k <= KindValidation }

func (k Kind) Number() int {
	if !k.IsValid() {
		return types.IllegalValue
	}
	return int(k)
}

func (k Kind) Name() string {
	if !k.IsValid() {
		return types.IllegalName
	}
	return kindNames[k]
}

func (k Kind) String() string { return k.Name() }

func (k Kind) Desc() string {
	if !k.IsValid() {
		return types.IllegalDesc
	}
	return kindDescs[k]
}

// Sentinels for errors.Is; they match any PersistenceError of the same kind.
var (
	ErrNotFound    = &PersistenceError{Kind: KindNotFound}
	ErrQuery       = &PersistenceError{Kind: KindQuery}
	ErrConstraint  = &PersistenceError{Kind: KindConstraint}
	ErrConcurrency = &PersistenceError{Kind: KindConcurrency}
	ErrValidation  = &PersistenceError{Kind: KindValidation}
	ErrUnknown     = &PersistenceError{Kind: KindUnknown}
)

// PersistenceError is the single error type returned by repositories.
type PersistenceError struct {
	Kind   Kind
	Op     string
	Entity string
	Detail string
	Cause  error
}

func (e *PersistenceError) Error() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{e.Op, e.Entity, e.Detail} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	msg := strings.Join(parts, " ")
	if msg != "" {
		msg += ": "
	}
	msg += e.Kind.Desc()
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

// Is matches sentinels by kind.
func (e *PersistenceError) Is(target error) bool {
	t, ok := target.(*PersistenceError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Entity == "" && t.Detail == "" && t.Cause == nil
}

// KindOf returns the kind of err, KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool    { return err != nil && KindOf(err) == KindNotFound }
func IsQuery(err error) bool       { return err != nil && KindOf(err) == KindQuery }
func IsConstraint(err error) bool  { return err != nil && KindOf(err) == KindConstraint }
func IsConcurrency(err error) bool { return err != nil && KindOf(err) == KindConcurrency }
func IsValidation(err error) bool  { return err != nil && KindOf(err) == KindValidation }

func newError(kind Kind, detail string, args ...interface{}) *PersistenceError {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &PersistenceError{Kind: kind, Detail: detail}
}

func queryError(detail string, args ...interface{}) *PersistenceError {
	return newError(KindQuery, detail, args...)
}

// Translate converts err into a PersistenceError attributed to op and
// entity, for callers running their own statements in a unit of work.
func Translate(op, entity string, err error) error {
	return translate(op, entity, err)
}

// translate converts err into a PersistenceError attributed to op and
// entity. Errors that already are PersistenceErrors keep their kind and
// only gain missing attribution.
func translate(op, entity string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		if pe.Op != "" && pe.Entity != "" {
			return pe
		}
		c := *pe
		if c.Op == "" {
			c.Op = op
		}
		if c.Entity == "" {
			c.Entity = entity
		}
		return &c
	}
	return &PersistenceError{Kind: classify(err), Op: op, Entity: entity, Cause: err}
}

func classify(err error) Kind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindUnknown
	}
	is, sqlErr := database.IsSqlError(err)
	if !is {
		return KindUnknown
	}
	switch {
	case sqlErr == database.NoRowsErr:
		return KindNotFound
	case sqlErr.IsConstraint():
		return KindConstraint
	case sqlErr.IsValidation():
		return KindValidation
	case sqlErr == database.NoColumnErr, sqlErr == database.NoTableErr, sqlErr == database.NoIndexErr:
		return KindQuery
	default:
		return KindUnknown
	}
}
