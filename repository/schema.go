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
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tomoncle/fleetdata/database"
	"github.com/uptrace/bun"
)

// RelationKind tells which side of a relation holds the foreign key.
type RelationKind int

const (
	// BelongsTo keeps the foreign key on the owner table.
	BelongsTo RelationKind = iota
	// HasOne keeps the foreign key on the target table.
	HasOne
	// HasMany keeps the foreign key on the target table.
	HasMany
	// ManyToMany links both sides through a join table.
	ManyToMany
)

func (k RelationKind) String() string {
	switch k {
	case BelongsTo:
		return "belongs-to"
	case HasOne:
		return "has-one"
	case HasMany:
		return "has-many"
	case ManyToMany:
		return "m2m"
	default:
		return "unknown"
	}
}

// IsCollection reports whether the relation may reach several rows.
func (k RelationKind) IsCollection() bool {
	return k == HasMany || k == ManyToMany
}

// DeletePolicy decides what deleting the owner of a HasOne/HasMany
// relation does to its dependents.
type DeletePolicy int

const (
	DeleteSetNull DeletePolicy = iota
	DeleteRestrict
)

// SQL returns the matching ON DELETE action.
func (p DeletePolicy) SQL() string {
	if p == DeleteRestrict {
		return database.OnDeleteRestrict
	}
	return database.OnDeleteSetNull
}

// Relation declares a navigable association of an entity.
type Relation struct {
	// Name is the segment used in criteria paths and relation fetches.
	Name string
	// Field is the Go struct field bun loads the relation into.
	Field  string
	Kind   RelationKind
	Target string
	// LocalColumn is the owner column: the foreign key for BelongsTo,
	// the referenced key for HasOne/HasMany.
	LocalColumn string
	// ForeignColumn is the target column: its primary key for BelongsTo,
	// the foreign key for HasOne/HasMany.
	ForeignColumn     string
	JoinTable         string
	JoinLocalColumn   string
	JoinForeignColumn string
	OnDelete          DeletePolicy
}

// EntitySchema is the explicit description of an entity used for query
// validation, relation traversal and delete policies.
type EntitySchema struct {
	Name          string
	Table         string
	PrimaryKey    string
	VersionColumn string
	// Fields maps criteria field names to column names.
	Fields    map[string]string
	Relations map[string]*Relation
	modelType reflect.Type
}

// Column returns the column of a declared field.
func (s *EntitySchema) Column(field string) (string, bool) {
	col, ok := s.Fields[field]
	return col, ok
}

// Relation returns a declared relation.
func (s *EntitySchema) Relation(name string) (*Relation, bool) {
	rel, ok := s.Relations[name]
	return rel, ok
}

// ModelType returns the Go struct type the schema describes.
func (s *EntitySchema) ModelType() reflect.Type { return s.modelType }

// SortedRelations returns the relations ordered by name.
func (s *EntitySchema) SortedRelations() []*Relation {
	rels := make([]*Relation, 0, len(s.Relations))
	for _, rel := range s.Relations {
		rels = append(rels, rel)
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].Name < rels[j].Name })
	return rels
}

// SchemaBuilder assembles an EntitySchema fluently.
type SchemaBuilder struct {
	schema *EntitySchema
	last   *Relation
}

// NewSchema starts the schema of entity T stored in table. The primary
// key defaults to "id" and the version column to "version"; both are
// declared as fields.
func NewSchema[T any](name, table string) *SchemaBuilder {
	s := &EntitySchema{
		Name:          name,
		Table:         table,
		PrimaryKey:    "id",
		VersionColumn: "version",
		Fields:        map[string]string{"id": "id", "version": "version"},
		Relations:     make(map[string]*Relation),
		modelType:     reflect.TypeOf((*T)(nil)).Elem(),
	}
	return &SchemaBuilder{schema: s}
}

// PrimaryKey overrides the primary key column.
func (b *SchemaBuilder) PrimaryKey(column string) *SchemaBuilder {
	delete(b.schema.Fields, b.schema.PrimaryKey)
	b.schema.PrimaryKey = column
	b.schema.Fields[column] = column
	return b
}

// Version overrides the version column.
func (b *SchemaBuilder) Version(column string) *SchemaBuilder {
	delete(b.schema.Fields, b.schema.VersionColumn)
	b.schema.VersionColumn = column
	b.schema.Fields[column] = column
	return b
}

// Field declares a field stored in column.
func (b *SchemaBuilder) Field(name, column string) *SchemaBuilder {
	b.schema.Fields[name] = column
	return b
}

// Columns declares fields named after their columns.
func (b *SchemaBuilder) Columns(columns ...string) *SchemaBuilder {
	for _, c := range columns {
		b.schema.Fields[c] = c
	}
	return b
}

// BelongsTo declares a relation whose foreign key column lives on this table.
func (b *SchemaBuilder) BelongsTo(name, target, column string) *SchemaBuilder {
	return b.relation(&Relation{Name: name, Kind: BelongsTo, Target: target, LocalColumn: column, ForeignColumn: "id"})
}

// HasOne declares a single dependent whose foreign key column lives on the target table.
func (b *SchemaBuilder) HasOne(name, target, column string) *SchemaBuilder {
	return b.relation(&Relation{Name: name, Kind: HasOne, Target: target, LocalColumn: b.schema.PrimaryKey, ForeignColumn: column})
}

// HasMany declares dependents whose foreign key column lives on the target table.
func (b *SchemaBuilder) HasMany(name, target, column string) *SchemaBuilder {
	return b.relation(&Relation{Name: name, Kind: HasMany, Target: target, LocalColumn: b.schema.PrimaryKey, ForeignColumn: column})
}

// ManyToMany declares a relation through joinTable, where localColumn
// references this entity and foreignColumn the target.
func (b *SchemaBuilder) ManyToMany(name, target, joinTable, localColumn, foreignColumn string) *SchemaBuilder {
	return b.relation(&Relation{
		Name:              name,
		Kind:              ManyToMany,
		Target:            target,
		LocalColumn:       b.schema.PrimaryKey,
		ForeignColumn:     "id",
		JoinTable:         joinTable,
		JoinLocalColumn:   localColumn,
		JoinForeignColumn: foreignColumn,
	})
}

// OnDelete sets the delete policy of the last declared relation.
func (b *SchemaBuilder) OnDelete(policy DeletePolicy) *SchemaBuilder {
	if b.last != nil {
		b.last.OnDelete = policy
	}
	return b
}

// StructField sets the Go field of the last declared relation.
func (b *SchemaBuilder) StructField(field string) *SchemaBuilder {
	if b.last != nil {
		b.last.Field = field
	}
	return b
}

// Build returns the schema.
func (b *SchemaBuilder) Build() *EntitySchema {
	return b.schema
}

func (b *SchemaBuilder) relation(rel *Relation) *SchemaBuilder {
	rel.Field = exportedName(rel.Name)
	b.schema.Relations[rel.Name] = rel
	b.last = rel
	return b
}

func exportedName(name string) string {
	if name == "" {
		return ""
	}
	r := []rune(name)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// Registry holds the schemas of every persistent entity.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*EntitySchema
	byType map[reflect.Type]*EntitySchema
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*EntitySchema),
		byType: make(map[reflect.Type]*EntitySchema),
	}
}

// Register adds schemas. Names and Go types must be unique.
func (r *Registry) Register(schemas ...*EntitySchema) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range schemas {
		if s.Name == "" || s.Table == "" {
			return fmt.Errorf("schema of %v needs a name and a table", s.modelType)
		}
		if _, ok := r.byName[s.Name]; ok {
			return fmt.Errorf("schema %s registered twice", s.Name)
		}
		if _, ok := r.byType[s.modelType]; ok {
			return fmt.Errorf("type %v registered twice", s.modelType)
		}
		r.byName[s.Name] = s
		r.byType[s.modelType] = s
	}
	return nil
}

// MustRegister is Register panicking on error.
func (r *Registry) MustRegister(schemas ...*EntitySchema) *Registry {
	if err := r.Register(schemas...); err != nil {
		panic(err)
	}
	return r
}

// Schema returns the schema registered under name.
func (r *Registry) Schema(name string) (*EntitySchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// SchemaOf returns the schema of the Go type T.
func SchemaOf[T any](r *Registry) (*EntitySchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byType[reflect.TypeOf((*T)(nil)).Elem()]
	return s, ok
}

// Schemas returns every schema ordered by name.
func (r *Registry) Schemas() []*EntitySchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*EntitySchema, 0, len(r.byName))
	for _, s := range r.byName {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// inboundManyToMany returns the ManyToMany relations of other entities
// that target name.
func (r *Registry) inboundManyToMany(name string) []*Relation {
	var result []*Relation
	for _, s := range r.Schemas() {
		for _, rel := range s.SortedRelations() {
			if rel.Kind == ManyToMany && rel.Target == name {
				result = append(result, rel)
			}
		}
	}
	return result
}

// Validate checks that every relation targets a registered schema and
// names the columns it needs.
func (r *Registry) Validate() error {
	var problems []string
	for _, s := range r.Schemas() {
		if _, ok := s.Fields[s.PrimaryKey]; !ok {
			problems = append(problems, fmt.Sprintf("%s: primary key %s is not a field", s.Name, s.PrimaryKey))
		}
		for _, rel := range s.SortedRelations() {
			if _, ok := r.Schema(rel.Target); !ok {
				problems = append(problems, fmt.Sprintf("%s.%s: unknown target %s", s.Name, rel.Name, rel.Target))
			}
			if rel.LocalColumn == "" || rel.ForeignColumn == "" {
				problems = append(problems, fmt.Sprintf("%s.%s: missing join columns", s.Name, rel.Name))
			}
			if rel.Kind == ManyToMany && (rel.JoinTable == "" || rel.JoinLocalColumn == "" || rel.JoinForeignColumn == "") {
				problems = append(problems, fmt.Sprintf("%s.%s: incomplete join table", s.Name, rel.Name))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid entity schemas: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Verify validates the registry and checks every schema against the table
// metadata bun derives from the model structs.
func (r *Registry) Verify(db *bun.DB) error {
	if err := r.Validate(); err != nil {
		return err
	}
	var problems []string
	for _, s := range r.Schemas() {
		table := db.Table(s.modelType)
		if table.Name != s.Table {
			problems = append(problems, fmt.Sprintf("%s: table %s, model maps to %s", s.Name, s.Table, table.Name))
		}
		fields := make([]string, 0, len(s.Fields))
		for name := range s.Fields {
			fields = append(fields, name)
		}
		sort.Strings(fields)
		for _, name := range fields {
			if !table.HasField(s.Fields[name]) {
				problems = append(problems, fmt.Sprintf("%s.%s: no column %s", s.Name, name, s.Fields[name]))
			}
		}
		if !table.HasField(s.VersionColumn) {
			problems = append(problems, fmt.Sprintf("%s: no version column %s", s.Name, s.VersionColumn))
		}
		for _, rel := range s.SortedRelations() {
			if _, ok := table.Relations[rel.Field]; !ok {
				problems = append(problems, fmt.Sprintf("%s.%s: model has no relation field %s", s.Name, rel.Name, rel.Field))
			}
			if rel.Kind == BelongsTo && !table.HasField(rel.LocalColumn) {
				problems = append(problems, fmt.Sprintf("%s.%s: no column %s", s.Name, rel.Name, rel.LocalColumn))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("entity schemas do not match models: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ForeignKeys derives the foreign key constraints implied by the relations.
// HasOne/HasMany relations carry their delete policy; BelongsTo relations
// without a declared inverse default to SET NULL; join table columns cascade.
func (r *Registry) ForeignKeys() []database.ForeignKeyConstraint {
	seen := make(map[string]database.ForeignKeyConstraint)
	add := func(fk database.ForeignKeyConstraint) {
		name := fk.GenerateConstraintName()
		if _, ok := seen[name]; !ok {
			seen[name] = fk
		}
	}
	for _, s := range r.Schemas() {
		for _, rel := range s.SortedRelations() {
			target, ok := r.Schema(rel.Target)
			if !ok {
				continue
			}
			switch rel.Kind {
			case HasOne, HasMany:
				add(database.ForeignKeyConstraint{
					Table:           target.Table,
					Column:          rel.ForeignColumn,
					ReferenceTable:  s.Table,
					ReferenceColumn: rel.LocalColumn,
					OnDelete:        rel.OnDelete.SQL(),
					Description:     fmt.Sprintf("%s.%s", s.Name, rel.Name),
				})
			case ManyToMany:
				add(database.ForeignKeyConstraint{
					Table:           rel.JoinTable,
					Column:          rel.JoinLocalColumn,
					ReferenceTable:  s.Table,
					ReferenceColumn: s.PrimaryKey,
					OnDelete:        database.OnDeleteCascade,
				})
				add(database.ForeignKeyConstraint{
					Table:           rel.JoinTable,
					Column:          rel.JoinForeignColumn,
					ReferenceTable:  target.Table,
					ReferenceColumn: target.PrimaryKey,
					OnDelete:        database.OnDeleteCascade,
				})
			}
		}
	}
	// inverse-less BelongsTo relations last, so declared policies win
	for _, s := range r.Schemas() {
		for _, rel := range s.SortedRelations() {
			target, ok := r.Schema(rel.Target)
			if !ok || rel.Kind != BelongsTo {
				continue
			}
			add(database.ForeignKeyConstraint{
				Table:           s.Table,
				Column:          rel.LocalColumn,
				ReferenceTable:  target.Table,
				ReferenceColumn: target.PrimaryKey,
				OnDelete:        database.OnDeleteSetNull,
				Description:     fmt.Sprintf("%s.%s", s.Name, rel.Name),
			})
		}
	}
	result := make([]database.ForeignKeyConstraint, 0, len(seen))
	for _, fk := range seen {
		result = append(result, fk)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].GenerateConstraintName() < result[j].GenerateConstraintName()
	})
	return result
}
