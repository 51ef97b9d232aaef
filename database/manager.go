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
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"
)

// connector knows how to open one kind of database.
type connector struct {
	driver  string
	dsn     func(cfg *ConnectionConfig) string
	dialect func() schema.Dialect
	// singleConn limits the pool to one connection.
	singleConn bool
}

var connectors = map[string]connector{
	TypeMySQL: {
		driver: "mysql",
		dsn: func(cfg *ConnectionConfig) string {
			return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%s&readTimeout=%s&writeTimeout=%s",
				cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.DBName,
				cfg.ConnectTimeout, cfg.ReadTimeout, cfg.WriteTimeout)
		},
		dialect: func() schema.Dialect { return mysqldialect.New() },
	},
	TypePostgres: {
		driver: "postgres",
		dsn: func(cfg *ConnectionConfig) string {
			sslMode := cfg.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&connect_timeout=%d",
				cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.DBName,
				sslMode, int(cfg.ConnectTimeout.Seconds()))
		},
		dialect: func() schema.Dialect { return pgdialect.New() },
	},
	TypeSQLite: {
		driver:  sqliteshim.ShimName,
		dsn:     func(cfg *ConnectionConfig) string { return sqliteDSN(cfg.DBName) },
		dialect: func() schema.Dialect { return sqlitedialect.New() },
		// sqlite serializes writers and a shared in-memory database lives
		// only as long as its connections
		singleConn: true,
	},
}

// sqliteDSN maps a database name to a DSN. ":memory:" yields a shared
// in-memory database and names already carrying a scheme pass through.
func sqliteDSN(name string) string {
	switch {
	case name == "" || name == ":memory:":
		return "file::memory:?cache=shared"
	case strings.HasPrefix(name, "file:"), strings.HasSuffix(name, ".db"):
		return name
	default:
		return fmt.Sprintf("%s.db", name)
	}
}

type defaultDatabaseManager struct {
	cfg          *Config
	config       *ConnectionConfig
	db           *bun.DB
	sqlDB        *sql.DB
	logger       Logger
	mu           sync.RWMutex
	connected    bool
	lastError    error
	healthStatus *HealthStatus
	// reconnectTries is only touched by the health loop and Connect.
	reconnectTries int
	healthCancel   context.CancelFunc
}

// NewDatabaseManager returns an AbstractDatabaseManager backed by Bun.
// If cfg is nil, DefaultConfig is used.
func NewDatabaseManager(cfg *Config) AbstractDatabaseManager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &defaultDatabaseManager{
		cfg:          cfg,
		config:       &cfg.ConnectionConfig,
		logger:       GetLogger(),
		healthStatus: &HealthStatus{},
	}
}

func (dm *defaultDatabaseManager) Connect(ctx context.Context) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.connected && dm.db != nil {
		return nil
	}
	if dm.config.ConnectTimeout <= 0 {
		dm.config.ConnectTimeout = 30 * time.Second
	}

	sqlDB, db, err := dm.open()
	if err != nil {
		dm.lastError = err
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	db.RegisterModel(RegisteredModelInstances()...)

	pingCtx, cancel := context.WithTimeout(ctx, dm.config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		dm.lastError = err
		return fmt.Errorf("database connection test failed: %w", err)
	}

	dm.sqlDB, dm.db = sqlDB, db
	dm.connected = true
	dm.lastError = nil
	dm.reconnectTries = 0
	if dm.config.HealthCheckInterval > 0 {
		dm.startHealthCheck()
	}

	dm.logger.Info("Database connected successfully", "type", dm.config.Type, "host", dm.config.Host, "dbname", dm.config.DBName)
	return nil
}

// open creates the pool and the bun handle with the configured hooks.
func (dm *defaultDatabaseManager) open() (*sql.DB, *bun.DB, error) {
	typ, _ := NormalizeType(dm.config.Type)
	c, ok := connectors[typ]
	if !ok {
		return nil, nil, fmt.Errorf("unsupported database type: %s", dm.config.Type)
	}
	sqlDB, err := sql.Open(c.driver, c.dsn(dm.config))
	if err != nil {
		return nil, nil, err
	}
	if c.singleConn {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetMaxIdleConns(dm.config.MaxIdleConns)
		sqlDB.SetMaxOpenConns(dm.config.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(dm.config.ConnMaxLifetime)
		sqlDB.SetConnMaxIdleTime(dm.config.ConnMaxIdleTime)
	}

	db := bun.NewDB(sqlDB, c.dialect())
	switch {
	case dm.config.EnableQueryLog && dm.config.ColorQueryLog:
		db.AddQueryHook(NewQueryHook(WithQueryHookVerbose(true), WithQueryHookEnv("BUNDEBUG")))
	case dm.config.EnableQueryLog:
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}
	if dm.config.SlowQueryTime > 0 {
		db.AddQueryHook(NewSlowQueryHook(dm.config.SlowQueryTime, dm.logger))
	}
	return sqlDB, db, nil
}

// Disconnect stops the health loop and closes the pool.
func (dm *defaultDatabaseManager) Disconnect() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.healthCancel != nil {
		dm.healthCancel()
		dm.healthCancel = nil
	}
	return dm.closeLocked()
}

func (dm *defaultDatabaseManager) closeLocked() error {
	if dm.db == nil {
		return nil
	}
	err := dm.db.Close()
	dm.db = nil
	dm.sqlDB = nil
	dm.connected = false
	if err != nil {
		dm.logger.Error("Failed to close database connection", "error", err)
	} else {
		dm.logger.Info("Database connection closed")
	}
	return err
}

// Reconnect replaces the pool; a running health loop keeps running.
func (dm *defaultDatabaseManager) Reconnect(ctx context.Context) error {
	dm.logger.Info("Attempting to reconnect to the database")

	dm.mu.Lock()
	if err := dm.closeLocked(); err != nil {
		dm.logger.Warn("Error disconnecting existing connection", "error", err)
	}
	dm.mu.Unlock()

	return dm.Connect(ctx)
}

func (dm *defaultDatabaseManager) Ping(ctx context.Context) error {
	db := dm.GetDB()
	if db == nil {
		return fmt.Errorf("database not connected")
	}
	return db.PingContext(ctx)
}

func (dm *defaultDatabaseManager) GetDB() *bun.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.db
}

func (dm *defaultDatabaseManager) GetSQLDB() *sql.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.sqlDB
}

// HealthCheck pings the database and records the outcome. The ping runs
// without holding the manager lock.
func (dm *defaultDatabaseManager) HealthCheck(ctx context.Context) *HealthStatus {
	dm.mu.RLock()
	db, sqlDB := dm.db, dm.sqlDB
	dm.mu.RUnlock()

	start := time.Now()
	status := &HealthStatus{LastCheckTime: start}
	if db == nil {
		status.LastError = "Database not initialized"
		return status
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := db.PingContext(pingCtx)
	status.ResponseTime = time.Since(start)
	status.Healthy = err == nil
	status.Connected = err == nil
	if err != nil {
		status.LastError = err.Error()
	}
	stats := sqlDB.Stats()
	status.ActiveConns = stats.InUse
	status.IdleConns = stats.Idle
	status.MaxOpenConns = stats.MaxOpenConnections

	dm.mu.Lock()
	dm.lastError = err
	dm.healthStatus = status
	dm.mu.Unlock()
	return status
}

// startHealthCheck runs the periodic check until Disconnect. Callers hold dm.mu.
func (dm *defaultDatabaseManager) startHealthCheck() {
	if dm.healthCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	dm.healthCancel = cancel
	go dm.healthLoop(ctx)
}

func (dm *defaultDatabaseManager) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(dm.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			status := dm.HealthCheck(checkCtx)
			cancel()
			if !status.Healthy && dm.config.EnableReconnect {
				dm.handleReconnect(ctx)
			}
		}
	}
}

func (dm *defaultDatabaseManager) handleReconnect(ctx context.Context) {
	if dm.reconnectTries >= dm.config.MaxReconnectTries {
		dm.logger.Error("Max reconnect attempts reached, stopping", "tries", dm.reconnectTries)
		return
	}
	dm.reconnectTries++
	dm.logger.Info("Starting database reconnect", "try", dm.reconnectTries)

	select {
	case <-ctx.Done():
		return
	case <-time.After(dm.config.ReconnectInterval):
	}

	reconnectCtx, cancel := context.WithTimeout(ctx, dm.config.ConnectTimeout)
	defer cancel()
	if err := dm.Reconnect(reconnectCtx); err != nil {
		dm.logger.Error("Reconnect failed", "error", err, "try", dm.reconnectTries)
		return
	}
	dm.logger.Info("Reconnect succeeded")
}

func (dm *defaultDatabaseManager) GetStats() *DBStats {
	sqlDB := dm.GetSQLDB()
	if sqlDB == nil {
		return &DBStats{}
	}
	stats := sqlDB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

func (dm *defaultDatabaseManager) RunMigrations(ctx context.Context) error {
	db := dm.GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	return NewMigrationManager(db, dm.logger, dm.cfg).RunMigrations(ctx)
}

func (dm *defaultDatabaseManager) InitData(ctx context.Context) error {
	db := dm.GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	return NewMigrationManager(db, dm.logger, dm.cfg).InitData(ctx)
}

func (dm *defaultDatabaseManager) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.logger = logger
}
