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
	"fmt"
	"sort"
	"strings"

	"github.com/tomoncle/fleetdata/types"
	"github.com/uptrace/bun"
)

// rootAlias stands for the alias of the model table of the outer query.
const rootAlias = ""

// Translator turns dot-path criteria into SQL predicates. Every relation
// hop becomes a correlated EXISTS sub-select, so matches never duplicate
// root rows. Paths sharing a relation prefix constrain the same related row.
type Translator struct {
	registry *Registry
}

func NewTranslator(registry *Registry) *Translator {
	return &Translator{registry: registry}
}

// fragment accumulates SQL text with positional bun arguments.
type fragment struct {
	sb   strings.Builder
	args []interface{}
}

func (f *fragment) add(sql string, args ...interface{}) *fragment {
	f.sb.WriteString(sql)
	f.args = append(f.args, args...)
	return f
}

func (f *fragment) col(alias, column string) *fragment {
	if alias == rootAlias {
		return f.add("?TableAlias.?", bun.Ident(column))
	}
	return f.add("?.?", bun.Ident(alias), bun.Ident(column))
}

func (f *fragment) filter() *types.QueryFilter {
	return types.NewQueryFilter(f.sb.String(), f.args...)
}

type criteriaNode struct {
	schema   *EntitySchema
	fields   map[string]interface{}
	children map[string]*criteriaNode
}

func newCriteriaNode(schema *EntitySchema) *criteriaNode {
	return &criteriaNode{
		schema:   schema,
		fields:   make(map[string]interface{}),
		children: make(map[string]*criteriaNode),
	}
}

// Where translates criteria over root into a predicate. An empty criteria
// map yields an empty filter matching every row.
func (t *Translator) Where(root *EntitySchema, criteria types.Criteria) (*types.QueryFilter, error) {
	tree := newCriteriaNode(root)
	for _, path := range criteria.Keys() {
		if err := t.insert(tree, path, criteria[path]); err != nil {
			return nil, err
		}
	}
	f := &fragment{}
	counter := 0
	t.predicate(f, tree, rootAlias, &counter)
	return f.filter(), nil
}

func (t *Translator) insert(tree *criteriaNode, path string, value interface{}) error {
	segments := strings.Split(path, ".")
	node := tree
	for i, seg := range segments {
		if seg == "" {
			return queryError("criteria path %q is malformed", path)
		}
		if i == len(segments)-1 {
			if _, ok := node.schema.Column(seg); !ok {
				return queryError("unknown field %q of %s in criteria path %q", seg, node.schema.Name, path)
			}
			node.fields[seg] = value
			return nil
		}
		rel, ok := node.schema.Relation(seg)
		if !ok {
			return queryError("unknown relation %q of %s in criteria path %q", seg, node.schema.Name, path)
		}
		child, ok := node.children[seg]
		if !ok {
			target, found := t.registry.Schema(rel.Target)
			if !found {
				return queryError("relation %q of %s targets unregistered entity %s", seg, node.schema.Name, rel.Target)
			}
			child = newCriteriaNode(target)
			node.children[seg] = child
		}
		node = child
	}
	return nil
}

func (t *Translator) predicate(f *fragment, node *criteriaNode, alias string, counter *int) {
	first := true
	and := func() {
		if !first {
			f.add(" AND ")
		}
		first = false
	}

	fields := make([]string, 0, len(node.fields))
	for name := range node.fields {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	for _, name := range fields {
		and()
		column, _ := node.schema.Column(name)
		f.col(alias, column)
		if value := node.fields[name]; value == nil {
			f.add(" IS NULL")
		} else {
			f.add(" = ?", value)
		}
	}

	rels := make([]string, 0, len(node.children))
	for name := range node.children {
		rels = append(rels, name)
	}
	sort.Strings(rels)
	for _, name := range rels {
		and()
		rel := node.schema.Relations[name]
		child := node.children[name]
		*counter++
		target := fmt.Sprintf("t%d", *counter)

		f.add("EXISTS (SELECT 1 FROM ")
		t.hop(f, node.schema, rel, child.schema, alias, target, *counter)
		if len(child.fields) > 0 || len(child.children) > 0 {
			f.add(" AND ")
			t.predicate(f, child, target, counter)
		}
		f.add(")")
	}
}

// hop writes "<from items> WHERE <correlation>" for following rel from the
// row aliased owner to the target rows aliased target.
func (t *Translator) hop(f *fragment, owner *EntitySchema, rel *Relation, target *EntitySchema, ownerAlias, targetAlias string, n int) {
	switch rel.Kind {
	case BelongsTo:
		f.add("? AS ? WHERE ", bun.Ident(target.Table), bun.Ident(targetAlias))
		f.col(targetAlias, target.PrimaryKey).add(" = ")
		f.col(ownerAlias, rel.LocalColumn)
	case HasOne, HasMany:
		f.add("? AS ? WHERE ", bun.Ident(target.Table), bun.Ident(targetAlias))
		f.col(targetAlias, rel.ForeignColumn).add(" = ")
		f.col(ownerAlias, rel.LocalColumn)
	case ManyToMany:
		link := fmt.Sprintf("j%d", n)
		f.add("? AS ? JOIN ? AS ? ON ", bun.Ident(rel.JoinTable), bun.Ident(link), bun.Ident(target.Table), bun.Ident(targetAlias))
		f.col(targetAlias, target.PrimaryKey).add(" = ")
		f.col(link, rel.JoinForeignColumn).add(" WHERE ")
		f.col(link, rel.JoinLocalColumn).add(" = ")
		f.col(ownerAlias, owner.PrimaryKey)
	}
}

// Order translates sort into an ORDER BY expression. The primary key is
// appended as a tie breaker so paging is stable.
func (t *Translator) Order(root *EntitySchema, order types.Sort) (*types.QueryFilter, error) {
	column := root.PrimaryKey
	if order.Field != "" {
		var ok bool
		if column, ok = root.Column(order.Field); !ok {
			return nil, queryError("unknown sort field %q of %s", order.Field, root.Name)
		}
	}
	f := &fragment{}
	f.col(rootAlias, column).add(" " + order.Direction())
	if column != root.PrimaryKey {
		f.add(", ").col(rootAlias, root.PrimaryKey).add(" ASC")
	}
	return f.filter(), nil
}

// Relations resolves dot-path relation names into bun relation paths.
func (t *Translator) Relations(root *EntitySchema, names []string) ([]string, error) {
	paths := make([]string, 0, len(names))
	for _, name := range names {
		schema := root
		var fields []string
		for _, seg := range strings.Split(name, ".") {
			rel, ok := schema.Relation(seg)
			if !ok {
				return nil, queryError("unknown relation %q of %s", seg, schema.Name)
			}
			target, ok := t.registry.Schema(rel.Target)
			if !ok {
				return nil, queryError("relation %q of %s targets unregistered entity %s", seg, schema.Name, rel.Target)
			}
			fields = append(fields, rel.Field)
			schema = target
		}
		paths = append(paths, strings.Join(fields, "."))
	}
	return paths, nil
}

// Aggregate builds the correlated scalar sub-select computing agg for each
// root row. Owners without related rows yield 0.
func (t *Translator) Aggregate(root *EntitySchema, agg types.Aggregation) (*types.QueryFilter, error) {
	rel, ok := root.Relation(agg.Relation)
	if !ok {
		return nil, queryError("unknown relation %q of %s", agg.Relation, root.Name)
	}
	if rel.Kind == BelongsTo {
		return nil, queryError("relation %q of %s is not a collection", agg.Relation, root.Name)
	}
	target, ok := t.registry.Schema(rel.Target)
	if !ok {
		return nil, queryError("relation %q of %s targets unregistered entity %s", agg.Relation, root.Name, rel.Target)
	}

	const alias = "a1"
	f := &fragment{}
	switch agg.Func {
	case types.AggregateSum:
		column, ok := target.Column(agg.Field)
		if !ok {
			return nil, queryError("unknown field %q of %s in aggregation", agg.Field, target.Name)
		}
		f.add("(SELECT COALESCE(SUM(").col(alias, column).add("), 0) FROM ")
	case types.AggregateCount:
		if agg.Field == "" {
			f.add("(SELECT COUNT(*) FROM ")
			break
		}
		column, ok := target.Column(agg.Field)
		if !ok {
			return nil, queryError("unknown field %q of %s in aggregation", agg.Field, target.Name)
		}
		f.add("(SELECT COUNT(").col(alias, column).add(") FROM ")
	default:
		return nil, queryError("unsupported aggregate function %q", agg.Func)
	}
	t.hop(f, root, rel, target, rootAlias, alias, 1)
	f.add(")")
	return f.filter(), nil
}
