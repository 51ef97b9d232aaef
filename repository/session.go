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
	"database/sql"
	"time"

	"github.com/tomoncle/fleetdata/database"
	"github.com/uptrace/bun"
)

// Session opens one unit of work per repository call. Each unit runs in
// its own transaction that is committed when fn succeeds and rolled back
// on error or panic.
type Session struct {
	db      *bun.DB
	timeout time.Duration
	opts    *sql.TxOptions
	logger  database.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithQueryTimeout bounds every unit of work; zero disables the bound.
func WithQueryTimeout(timeout time.Duration) SessionOption {
	return func(s *Session) { s.timeout = timeout }
}

// WithTxOptions sets the isolation level and read-only flag of every unit.
func WithTxOptions(opts *sql.TxOptions) SessionOption {
	return func(s *Session) { s.opts = opts }
}

// WithSessionLogger overrides the data layer logger.
func WithSessionLogger(logger database.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

func NewSession(db *bun.DB, opts ...SessionOption) *Session {
	s := &Session{db: db, logger: database.GetLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database handle.
func (s *Session) DB() *bun.DB { return s.db }

// Timeout returns the per-unit timeout.
func (s *Session) Timeout() time.Duration { return s.timeout }

// Run executes fn inside a new unit of work.
func (s *Session) Run(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	err := s.db.RunInTx(ctx, s.opts, fn)
	if err != nil {
		s.logger.Debug("Unit of work rolled back", "error", err)
	}
	return err
}
