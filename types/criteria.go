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

package types

import (
	"fmt"
	"sort"
)

// Criteria maps dot-delimited field paths to exact-match values.
// A nil value matches NULL.
type Criteria map[string]interface{}

// Keys returns the criteria paths in a stable order.
func (c Criteria) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the criteria deterministically for messages.
func (c Criteria) String() string {
	s := "{"
	for i, k := range c.Keys() {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s=%v", k, c[k])
	}
	return s + "}"
}

// Join selects entities whose relation has a member or value with
// Field equal to Value.
type Join struct {
	Relation string
	Field    string
	Value    interface{}
}

// Path returns the criteria path equivalent to the join.
func (j Join) Path() string { return j.Relation + "." + j.Field }

// AggregateFunc is the scalar computed over a related collection.
type AggregateFunc string

const (
	AggregateSum   AggregateFunc = "SUM"
	AggregateCount AggregateFunc = "COUNT"
)

// Aggregation computes Func over Relation's Field for every owner entity.
type Aggregation struct {
	Relation string
	Field    string
	Func     AggregateFunc
}

// Sum aggregates the sum of field over relation.
func Sum(relation, field string) Aggregation {
	return Aggregation{Relation: relation, Field: field, Func: AggregateSum}
}

// Count aggregates the number of related rows.
func Count(relation string) Aggregation {
	return Aggregation{Relation: relation, Func: AggregateCount}
}

// Aggregate pairs an owner entity with its computed value.
type Aggregate[T any] struct {
	Entity *T
	Value  float64
}
