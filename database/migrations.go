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
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// MigrationManager coordinates schema migrations and data initialization.
type MigrationManager struct {
	db            *bun.DB
	logger        Logger
	migrateConfig DataMigrateConfig
	initConfig    DataInitConfig
}

// Migration represents an applied migration record stored in the database.
type Migration struct {
	bun.BaseModel `bun:"table:schema_migrations"`

	Version     string    `bun:"version,pk"`
	Name        string    `bun:"name"`
	AppliedAt   time.Time `bun:"applied_at"`
	Description string    `bun:"description"`
}

// MigrationFunc is a migration step executed within a transaction.
type MigrationFunc func(ctx context.Context, db bun.IDB) error

// MigrationItem describes a single migration version.
type MigrationItem struct {
	Version     string
	Name        string
	Description string
	Up          MigrationFunc
}

// NewMigrationManager constructs a MigrationManager for cfg. A nil cfg
// creates tables only.
func NewMigrationManager(db *bun.DB, logger Logger, cfg *Config) *MigrationManager {
	if logger == nil {
		logger = GetLogger()
	}
	mm := &MigrationManager{db: db, logger: logger}
	if cfg != nil {
		mm.migrateConfig = cfg.DataMigrateConfig
		mm.initConfig = cfg.DataInitConfig
	}
	return mm
}

// RunMigrations creates the migration tracking table if needed and executes
// the pending migrations in ascending version order.
func (mm *MigrationManager) RunMigrations(ctx context.Context) error {
	if mm.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if _, ok := os.LookupEnv("BUNDEBUG_MIGRATION"); !ok {
		EnableBunSqlSilent(true)
		defer EnableBunSqlSilent(false)
	}

	if err := mm.createMigrationTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations := mm.getAllMigrations()
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	for _, migration := range migrations {
		if err := mm.runMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", migration.Version, err)
		}
	}

	mm.logger.Info("Database migrations completed!", "count", len(migrations))
	return nil
}

func (mm *MigrationManager) createMigrationTable(ctx context.Context) error {
	_, err := mm.db.NewCreateTable().
		Model((*Migration)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func (mm *MigrationManager) getAllMigrations() []MigrationItem {
	migrations := []MigrationItem{
		{
			Version:     "001",
			Name:        "create_base_tables",
			Description: "Create base table structure",
			Up:          mm.createBaseTables,
		},
	}
	if mm.migrateConfig.EnableForeignKey {
		migrations = append(migrations, MigrationItem{
			Version:     "002",
			Name:        "add_foreign_keys",
			Description: "Add table foreign key constraints",
			Up:          mm.addForeignKeys,
		})
	}
	if mm.initConfig.AutoInitOnMigration {
		migrations = append(migrations, MigrationItem{
			Version:     "003",
			Name:        "seed_initial_data",
			Description: "Seed initial data",
			Up:          mm.seedInitialData,
		})
	}
	return migrations
}

func (mm *MigrationManager) runMigration(ctx context.Context, migration MigrationItem) error {
	exists, err := mm.db.NewSelect().
		Model((*Migration)(nil)).
		Where("version = ?", migration.Version).
		Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		mm.logger.Debug("Migration already applied", "version", migration.Version)
		return nil
	}

	err = mm.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := migration.Up(ctx, tx); err != nil {
			return err
		}
		_, err := tx.NewInsert().
			Model(&Migration{
				Version:     migration.Version,
				Name:        migration.Name,
				AppliedAt:   time.Now(),
				Description: migration.Description,
			}).
			Exec(ctx)
		return err
	})
	if err != nil {
		return err
	}
	mm.logger.Info("Migration executed successfully", "version", migration.Version, "name", migration.Name)
	return nil
}

func (mm *MigrationManager) createBaseTables(ctx context.Context, db bun.IDB) error {
	inline := mm.migrateConfig.EnableForeignKey && db.Dialect().Name() == dialect.SQLite
	var fkm *ForeignKeyManager
	if inline {
		var err error
		if fkm, err = mm.foreignKeyManager(); err != nil {
			return err
		}
	}
	for _, model := range RegisteredModelInstances() {
		q := db.NewCreateTable().
			Model(model).
			IfNotExists()
		if fkm != nil {
			for _, fk := range fkm.GetConstraintsByTable(q.GetTableName()) {
				q = q.ForeignKey(fk.Clause())
			}
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table %s: %w", getModelName(model), err)
		}
	}
	return nil
}

func (mm *MigrationManager) addForeignKeys(ctx context.Context, db bun.IDB) error {
	fkm, err := mm.foreignKeyManager()
	if err != nil {
		return err
	}
	return fkm.AddAllForeignKeys(ctx, db)
}

// foreignKeyManager prefers the configured YAML file and falls back to the
// registered constraints.
func (mm *MigrationManager) foreignKeyManager() (*ForeignKeyManager, error) {
	var fkm *ForeignKeyManager
	if path := mm.migrateConfig.ForeignKeyFile; path != "" {
		loaded, err := LoadForeignKeyManager(mm.logger, path)
		if err != nil {
			mm.logger.Debug("Failed to use config-based foreign key manager, falling back to registered", "error", err.Error())
		} else {
			mm.logger.Debug("Managing foreign key constraints using config file", "config_path", path)
			fkm = loaded
		}
	}
	if fkm == nil {
		fkm = NewForeignKeyManager(mm.logger)
	}
	if errs := fkm.ValidateConstraints(); len(errs) > 0 {
		for _, err := range errs {
			mm.logger.Debug("Foreign key constraint validation failed", "error", err.Error())
		}
		return nil, fmt.Errorf("foreign key constraint validation failed, %d errors in total", len(errs))
	}
	return fkm, nil
}

// InitData seeds data outside of the migration sequence.
func (mm *MigrationManager) InitData(ctx context.Context) error {
	if mm.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return mm.seedInitialData(ctx, mm.db)
}

func (mm *MigrationManager) seedInitialData(ctx context.Context, db bun.IDB) error {
	sqlManager := NewSQLInitManager(db, mm.initConfig.Environment)
	sqlManager.SetLogger(mm.logger)
	if mm.initConfig.Filepath != "" {
		sqlManager.SetSQLRootPath(mm.initConfig.Filepath)
	}
	sqlManager.SetGuardTables(mm.initConfig.GuardTables...)
	if err := sqlManager.ExecuteInitialization(ctx); err != nil {
		return fmt.Errorf("SQL file initialization failed: %w", err)
	}
	return nil
}

func getModelName(model interface{}) string {
	t := reflectType(model)
	return t.Name()
}

// GetAppliedMigrations returns migration records ordered by version.
func (mm *MigrationManager) GetAppliedMigrations(ctx context.Context) ([]Migration, error) {
	var migrations []Migration
	err := mm.db.NewSelect().
		Model(&migrations).
		Order("version ASC").
		Scan(ctx)
	return migrations, err
}
