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

import "math"

// QueryFilter describes a WHERE clause schema and its argument values.
type QueryFilter struct {
	Schema string
	Args   []interface{}
}

// NewQueryFilter creates a new query filter with schema and args.
func NewQueryFilter(schema string, args ...interface{}) *QueryFilter {
	return &QueryFilter{schema, args}
}

// IsEmpty reports whether the filter matches every row.
func (f *QueryFilter) IsEmpty() bool {
	return f == nil || f.Schema == ""
}

// SortByAggregate orders aggregation results by the computed value.
const SortByAggregate = "$aggregate"

// Sort names the field used for ordering and its direction. The zero
// value orders by primary key, ascending.
type Sort struct {
	Field      string
	Descending bool
}

// Asc returns an ascending sort on field.
func Asc(field string) Sort { return Sort{Field: field} }

// Desc returns a descending sort on field.
func Desc(field string) Sort { return Sort{Field: field, Descending: true} }

// Direction returns the SQL keyword for the sort direction.
func (s Sort) Direction() string {
	if s.Descending {
		return "DESC"
	}
	return "ASC"
}

// PageRequest describes a zero-based page. A negative page or a
// non-positive size is degenerate and selects nothing.
type PageRequest struct {
	page     int
	pageSize int
}

// NewPageRequest constructs a PageRequest. Values are kept as given so that
// degenerate requests can be detected.
func NewPageRequest(page int, pageSize int) *PageRequest {
	return &PageRequest{page, pageSize}
}

func (p *PageRequest) GetPage() int { return p.page }

func (p *PageRequest) GetPageSize() int { return p.pageSize }

func (p *PageRequest) GetOffset() int {
	return p.page * p.pageSize
}

// IsDegenerate reports whether the request can never select a row. That
// includes pages whose offset does not fit in an int.
func (p *PageRequest) IsDegenerate() bool {
	return p.page < 0 || p.pageSize <= 0 || p.page > math.MaxInt/p.pageSize
}

// Pagination holds paged result items along with pagination metadata.
type Pagination[T any] struct {
	Page     int
	PageSize int
	Total    int
	Items    []*T
}

// NewDefaultPagination constructs an empty pagination container.
func NewDefaultPagination[T any](page int, pageSize int) *Pagination[T] {
	return &Pagination[T]{page, pageSize, 0, make([]*T, 0)}
}

// TotalPages returns the number of pages needed to hold Total items.
func (p *Pagination[T]) TotalPages() int {
	if p.PageSize <= 0 {
		return 0
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}
