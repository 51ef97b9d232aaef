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

package database

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"gopkg.in/yaml.v3"
)

const (
	OnDeleteCascade  = "CASCADE"
	OnDeleteRestrict = "RESTRICT"
	OnDeleteSetNull  = "SET NULL"
	OnDeleteNoAction = "NO ACTION"
)

var validActions = []string{OnDeleteCascade, OnDeleteRestrict, OnDeleteSetNull, OnDeleteNoAction}

var (
	foreignKeyRegistry   = make(map[string]ForeignKeyConstraint)
	foreignKeyRegistryMu sync.RWMutex
)

// ForeignKeyConstraint describes a foreign key relationship between tables.
type ForeignKeyConstraint struct {
	Table           string `yaml:"table"`
	Column          string `yaml:"column"`
	ReferenceTable  string `yaml:"reference_table"`
	ReferenceColumn string `yaml:"reference_column"`
	OnDelete        string `yaml:"on_delete,omitempty"` // CASCADE, RESTRICT, SET NULL, NO ACTION
	OnUpdate        string `yaml:"on_update,omitempty"`
	ConstraintName  string `yaml:"constraint_name,omitempty"`
	Description     string `yaml:"description,omitempty"`
}

// ForeignKeyConfig is the YAML document listing foreign key constraints.
type ForeignKeyConfig struct {
	ForeignKeys []ForeignKeyConstraint `yaml:"foreign_keys"`
}

// GenerateConstraintName returns the explicit name or a derived name.
func (fk *ForeignKeyConstraint) GenerateConstraintName() string {
	if fk.ConstraintName != "" {
		return fk.ConstraintName
	}
	return fmt.Sprintf("fk_%s_%s", fk.Table, fk.Column)
}

// GenerateSQL returns the ALTER TABLE statement to add the constraint.
func (fk *ForeignKeyConstraint) GenerateSQL() string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s",
		fk.Table, fk.GenerateConstraintName(), fk.Clause())
}

// Clause returns the constraint body usable inline in CREATE TABLE.
func (fk *ForeignKeyConstraint) Clause() string {
	sql := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(%s)", fk.Column, fk.ReferenceTable, fk.ReferenceColumn)
	if fk.OnDelete != "" {
		sql += fmt.Sprintf(" ON DELETE %s", strings.ToUpper(fk.OnDelete))
	}
	if fk.OnUpdate != "" {
		sql += fmt.Sprintf(" ON UPDATE %s", strings.ToUpper(fk.OnUpdate))
	}
	return sql
}

// RegisterForeignKeys adds constraints to the global set applied by
// migrations. Registering the same constraint name twice keeps the last one.
func RegisterForeignKeys(constraints ...ForeignKeyConstraint) {
	foreignKeyRegistryMu.Lock()
	defer foreignKeyRegistryMu.Unlock()
	for _, c := range constraints {
		foreignKeyRegistry[c.GenerateConstraintName()] = c
	}
}

// RegisteredForeignKeys returns the registered constraints ordered by name.
func RegisteredForeignKeys() []ForeignKeyConstraint {
	foreignKeyRegistryMu.RLock()
	defer foreignKeyRegistryMu.RUnlock()
	result := make([]ForeignKeyConstraint, 0, len(foreignKeyRegistry))
	for _, c := range foreignKeyRegistry {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].GenerateConstraintName() < result[j].GenerateConstraintName()
	})
	return result
}

// ForeignKeyManager manages adding and validating foreign key constraints.
type ForeignKeyManager struct {
	constraints []ForeignKeyConstraint
	logger      Logger
}

// NewForeignKeyManager creates a manager for the given constraints, or for
// the registered ones when none are passed.
func NewForeignKeyManager(logger Logger, constraints ...ForeignKeyConstraint) *ForeignKeyManager {
	if len(constraints) == 0 {
		constraints = RegisteredForeignKeys()
	}
	if logger == nil {
		logger = GetLogger()
	}
	return &ForeignKeyManager{
		constraints: constraints,
		logger:      logger,
	}
}

// LoadForeignKeyManager reads constraints from a YAML file.
func LoadForeignKeyManager(logger Logger, path string) (*ForeignKeyManager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read foreign key file: %w", err)
	}
	var cfg ForeignKeyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse foreign key file %s: %w", path, err)
	}
	if len(cfg.ForeignKeys) == 0 {
		return nil, fmt.Errorf("no foreign keys defined in %s", path)
	}
	return NewForeignKeyManager(logger, cfg.ForeignKeys...), nil
}

// Export writes the managed constraints as a YAML file.
func (fkm *ForeignKeyManager) Export(path string) error {
	data, err := yaml.Marshal(ForeignKeyConfig{ForeignKeys: fkm.constraints})
	if err != nil {
		return fmt.Errorf("failed to encode foreign keys: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// AddAllForeignKeys adds every constraint. Failures are logged and skipped
// so that re-running against an existing schema is harmless. SQLite cannot
// alter constraints; there they are created inline with the tables.
func (fkm *ForeignKeyManager) AddAllForeignKeys(ctx context.Context, db bun.IDB) error {
	if db.Dialect().Name() == dialect.SQLite {
		fkm.logger.Debug("Skipping ALTER TABLE foreign keys on sqlite", "count", len(fkm.constraints))
		return nil
	}
	for _, constraint := range fkm.constraints {
		if err := fkm.addForeignKey(ctx, db, constraint); err != nil {
			fkm.logger.Debug("Failed to add foreign key constraint", "constraint", constraint.GenerateConstraintName(), "error", err.Error())
			continue
		}
		fkm.logger.Debug("Successfully added foreign key constraint", "constraint", constraint.GenerateConstraintName())
	}
	return nil
}

func (fkm *ForeignKeyManager) addForeignKey(ctx context.Context, db bun.IDB, constraint ForeignKeyConstraint) error {
	_, err := db.ExecContext(ctx, constraint.GenerateSQL())
	return err
}

// RemoveForeignKey drops a named foreign key from a table.
func (fkm *ForeignKeyManager) RemoveForeignKey(ctx context.Context, db bun.IDB, tableName, constraintName string) error {
	sql := fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", tableName, constraintName)
	if db.Dialect().Name() == dialect.MySQL {
		sql = fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", tableName, constraintName)
	}
	_, err := db.ExecContext(ctx, sql)
	return err
}

// GetConstraintsByTable returns the constraints defined for a table.
func (fkm *ForeignKeyManager) GetConstraintsByTable(tableName string) []ForeignKeyConstraint {
	var result []ForeignKeyConstraint
	for _, constraint := range fkm.constraints {
		if strings.EqualFold(constraint.Table, tableName) {
			result = append(result, constraint)
		}
	}
	return result
}

// ListAllConstraints returns all configured constraints.
func (fkm *ForeignKeyManager) ListAllConstraints() []ForeignKeyConstraint {
	return fkm.constraints
}

// ValidateConstraints checks the configured constraints for common issues.
func (fkm *ForeignKeyManager) ValidateConstraints() []error {
	var errs []error
	for _, constraint := range fkm.constraints {
		if constraint.Table == "" {
			errs = append(errs, fmt.Errorf("table name cannot be empty"))
		}
		if constraint.Column == "" {
			errs = append(errs, fmt.Errorf("column name cannot be empty: %s", constraint.Table))
		}
		if constraint.ReferenceTable == "" {
			errs = append(errs, fmt.Errorf("reference table name cannot be empty: %s.%s", constraint.Table, constraint.Column))
		}
		if constraint.ReferenceColumn == "" {
			errs = append(errs, fmt.Errorf("reference column name cannot be empty: %s.%s -> %s", constraint.Table, constraint.Column, constraint.ReferenceTable))
		}
		if constraint.OnDelete != "" && !isValidAction(constraint.OnDelete) {
			errs = append(errs, fmt.Errorf("invalid delete policy: %s, constraint: %s", constraint.OnDelete, constraint.GenerateConstraintName()))
		}
	}
	return errs
}

func isValidAction(action string) bool {
	for _, valid := range validActions {
		if strings.EqualFold(action, valid) {
			return true
		}
	}
	return false
}
