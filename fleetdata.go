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

// Package fleetdata opens the fleet store: one database connection, one
// unit-of-work session and one async executor shared by every repository.
package fleetdata

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tomoncle/fleetdata/database"
	"github.com/tomoncle/fleetdata/model"
	"github.com/tomoncle/fleetdata/repository"
	"github.com/uptrace/bun"
)

// ErrAlreadyOpen is returned by Open while another store is open.
var ErrAlreadyOpen = errors.New("fleetdata: store already open")

var (
	openMu sync.Mutex
	opened *Store
)

// Store owns the process-wide persistence resources.
type Store struct {
	db       *bun.DB
	registry *repository.Registry
	session  *repository.Session
	executor *repository.Executor
	logger   database.Logger

	Companies     repository.Repository[model.Company, int64]
	Employees     repository.Repository[model.Employee, int64]
	Vehicles      repository.Repository[model.Vehicle, int64]
	Clients       repository.Repository[model.Client, int64]
	ServiceOrders repository.Repository[model.ServiceOrder, int64]

	closeOnce sync.Once
	closeErr  error
}

// Open connects the database described by cfg, migrates it when enabled,
// verifies the entity schemas against the models and starts the executor.
func Open(ctx context.Context, cfg *database.Config) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("fleetdata: configuration cannot be empty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("fleetdata: %w", err)
	}

	openMu.Lock()
	defer openMu.Unlock()
	if opened != nil {
		return nil, ErrAlreadyOpen
	}

	registry, err := model.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("fleetdata: %w", err)
	}
	model.Register(registry)

	db, err := database.InitDB(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("fleetdata: %w", err)
	}
	if err := registry.Verify(db); err != nil {
		_ = database.CloseDB()
		return nil, fmt.Errorf("fleetdata: %w", err)
	}

	logger := database.GetLogger()
	session := repository.NewSession(db,
		repository.WithQueryTimeout(cfg.RepositoryConfig.QueryTimeout),
		repository.WithSessionLogger(logger),
	)
	s := &Store{
		db:       db,
		registry: registry,
		session:  session,
		executor: repository.NewExecutor(cfg.RepositoryConfig.AsyncWorkers),
		logger:   logger,

		Companies:     repository.MustNewRepository[model.Company, int64](session, registry),
		Employees:     repository.MustNewRepository[model.Employee, int64](session, registry),
		Vehicles:      repository.MustNewRepository[model.Vehicle, int64](session, registry),
		Clients:       repository.MustNewRepository[model.Client, int64](session, registry),
		ServiceOrders: repository.MustNewRepository[model.ServiceOrder, int64](session, registry),
	}
	opened = s
	logger.Info("Fleet store opened",
		"type", cfg.ConnectionConfig.Type,
		"entities", len(registry.Schemas()),
		"async_workers", s.executor.Workers(),
		"query_timeout", cfg.RepositoryConfig.QueryTimeout)
	return s, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *bun.DB { return s.db }

func (s *Store) Registry() *repository.Registry { return s.registry }

func (s *Store) Session() *repository.Session { return s.session }

func (s *Store) Executor() *repository.Executor { return s.executor }

// Health reports the state of the database connection.
func (s *Store) Health(ctx context.Context) *database.HealthStatus {
	return database.GetHealthStatus(ctx)
}

// Close stops accepting async work, waits for in-flight tasks within ctx
// and closes the database. Only the first call has an effect.
func (s *Store) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		execErr := s.executor.Shutdown(ctx)
		dbErr := database.CloseDB()

		openMu.Lock()
		if opened == s {
			opened = nil
		}
		openMu.Unlock()

		s.closeErr = errors.Join(execErr, dbErr)
		if s.closeErr != nil {
			s.logger.Warn("Fleet store closed with errors", "error", s.closeErr)
			return
		}
		s.logger.Info("Fleet store closed")
	})
	return s.closeErr
}

// NewRepository returns a repository of any registered entity type,
// bound to the store session.
func NewRepository[T any, PT interface {
	*T
	repository.Entity[int64]
}](s *Store) (repository.Repository[T, int64], error) {
	return repository.NewRepository[T, int64, PT](s.session, s.registry)
}

// Async wraps repo so its operations run on the store executor.
func Async[T any](s *Store, repo repository.Repository[T, int64]) *repository.AsyncRepository[T, int64] {
	return repository.NewAsyncRepository(repo, s.executor)
}
