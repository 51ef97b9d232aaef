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
	"strconv"
	"strings"
	"time"

	"github.com/tomoncle/fleetdata/utils"
	"github.com/uptrace/bun"
)

// Canonical database types accepted by the factory.
const (
	TypeMySQL    = "mysql"
	TypePostgres = "postgres"
	TypeSQLite   = "sqlite"
)

var typeAliases = map[string]string{
	"mysql":      TypeMySQL,
	"postgres":   TypePostgres,
	"postgresql": TypePostgres,
	"pg":         TypePostgres,
	"sqlite":     TypeSQLite,
	"sqlite3":    TypeSQLite,
}

// NormalizeType maps a configured database type or one of its aliases to
// the canonical name.
func NormalizeType(typ string) (string, bool) {
	canonical, ok := typeAliases[strings.ToLower(strings.TrimSpace(typ))]
	return canonical, ok
}

// BaseDatabaseFactory builds the database manager of a Config and exposes
// its lifecycle to the package level helpers in conn.go.
type BaseDatabaseFactory struct {
	manager AbstractDatabaseManager
	logger  Logger
}

// NewDatabaseFactory returns a new database factory using the global logger.
func NewDatabaseFactory() *BaseDatabaseFactory {
	return &BaseDatabaseFactory{
		logger: GetLogger(),
	}
}

// CreateFromConfig applies the DB_* environment overrides to config,
// normalizes its database type and constructs the manager.
func (f *BaseDatabaseFactory) CreateFromConfig(config *Config) (AbstractDatabaseManager, error) {
	if config == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}
	applyEnvOverrides(config)

	cfg := &config.ConnectionConfig
	typ, ok := NormalizeType(cfg.Type)
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %s, supported types: %v",
			cfg.Type, []string{TypeMySQL, TypePostgres, TypeSQLite})
	}
	cfg.Type = typ

	manager := NewDatabaseManager(config)
	manager.SetLogger(f.logger)
	f.manager = manager
	f.logger.Debug("Database manager created", "type", cfg.Type, "dbname", cfg.DBName)
	return manager, nil
}

// applyEnvOverrides lets the environment override connection credentials,
// pool sizing and repository tuning. Durations accept Go syntax ("90s")
// or a plain number of seconds.
func applyEnvOverrides(config *Config) {
	cfg := &config.ConnectionConfig
	cfg.Type = utils.EnvDefaultString("DB_TYPE", cfg.Type)
	cfg.Host = utils.EnvDefaultString("DB_HOST", cfg.Host)
	cfg.Port = utils.EnvDefaultInt("DB_PORT", cfg.Port)
	cfg.Username = utils.EnvDefaultString("DB_USERNAME", cfg.Username)
	cfg.Password = utils.EnvDefaultString("DB_PASSWORD", cfg.Password)
	cfg.DBName = utils.EnvDefaultString("DB_NAME", cfg.DBName)
	cfg.SSLMode = utils.EnvDefaultString("DB_SSLMODE", cfg.SSLMode)

	cfg.MaxIdleConns = utils.EnvDefaultInt("DB_MAX_IDLE_CONNS", cfg.MaxIdleConns)
	cfg.MaxOpenConns = utils.EnvDefaultInt("DB_MAX_OPEN_CONNS", cfg.MaxOpenConns)
	cfg.ConnMaxLifetime = envSeconds("DB_CONN_MAX_LIFETIME", cfg.ConnMaxLifetime)

	cfg.EnableReconnect = utils.EnvDefaultBool("DB_ENABLE_RECONNECT", cfg.EnableReconnect)
	cfg.ReconnectInterval = envSeconds("DB_RECONNECT_INTERVAL", cfg.ReconnectInterval)

	cfg.EnableQueryLog = utils.EnvDefaultBool("DB_ENABLE_QUERY_LOG", cfg.EnableQueryLog)
	cfg.SlowQueryTime = envSeconds("DB_SLOW_QUERY_TIME", cfg.SlowQueryTime)

	repo := &config.RepositoryConfig
	repo.QueryTimeout = envSeconds("DB_QUERY_TIMEOUT", repo.QueryTimeout)
	repo.AsyncWorkers = utils.EnvDefaultInt("DB_ASYNC_WORKERS", repo.AsyncWorkers)
}

func envSeconds(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return utils.EnvDefaultDuration(key, def)
}

// InitializeDatabase connects and, when runMigrations is set, migrates.
func (f *BaseDatabaseFactory) InitializeDatabase(ctx context.Context, runMigrations bool) error {
	if f.manager == nil {
		return fmt.Errorf("database manager not created")
	}
	if err := f.manager.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if runMigrations {
		if err := f.manager.RunMigrations(ctx); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
	}
	f.logger.Info("Database initialization completed!", "migrated", runMigrations)
	return nil
}

// GetManager returns the underlying database manager.
func (f *BaseDatabaseFactory) GetManager() AbstractDatabaseManager {
	return f.manager
}

// GetDB returns the Bun database instance, or nil if not initialized.
func (f *BaseDatabaseFactory) GetDB() *bun.DB {
	if f.manager == nil {
		return nil
	}
	return f.manager.GetDB()
}

// SetLogger sets the logger on the factory and the underlying manager.
func (f *BaseDatabaseFactory) SetLogger(logger Logger) {
	f.logger = logger
	if f.manager != nil {
		f.manager.SetLogger(logger)
	}
}

// Close closes the database connection managed by the factory.
func (f *BaseDatabaseFactory) Close() error {
	if f.manager == nil {
		return nil
	}
	return f.manager.Disconnect()
}

// GetHealthStatus checks the database, or reports it unhealthy before a
// manager exists.
func (f *BaseDatabaseFactory) GetHealthStatus(ctx context.Context) *HealthStatus {
	if f.manager == nil {
		return &HealthStatus{
			LastError:     "Database manager not initialized",
			LastCheckTime: time.Now(),
		}
	}
	return f.manager.HealthCheck(ctx)
}

// GetStats returns database connection statistics from the manager.
func (f *BaseDatabaseFactory) GetStats() *DBStats {
	if f.manager == nil {
		return &DBStats{}
	}
	return f.manager.GetStats()
}
