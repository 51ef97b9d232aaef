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
	"fmt"
	"runtime"
	"sync"

	"github.com/tomoncle/fleetdata/database"
	"github.com/tomoncle/fleetdata/types"
	"golang.org/x/sync/semaphore"
)

// Executor runs repository calls on a bounded number of goroutines.
// Submitting never blocks; tasks wait for a slot in their own goroutine.
type Executor struct {
	sem     *semaphore.Weighted
	workers int
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	logger  database.Logger
}

// NewExecutor creates an executor running at most workers tasks at once.
// A non-positive count uses the number of CPUs.
func NewExecutor(workers int) *Executor {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Executor{
		sem:     semaphore.NewWeighted(int64(workers)),
		workers: workers,
		logger:  database.GetLogger(),
	}
}

// Workers returns the concurrency bound.
func (e *Executor) Workers() int { return e.workers }

// Shutdown stops accepting tasks and waits for the running ones or ctx.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.logger.Debug("Async executor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Future is the pending result of an asynchronous call.
type Future[R any] struct {
	done  chan struct{}
	value R
	err   error
}

func newFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{})}
}

func (f *Future[R]) complete(value R, err error) {
	f.value, f.err = value, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future[R]) Done() <-chan struct{} { return f.done }

// Get waits for the result. Giving up on ctx does not cancel the task.
func (f *Future[R]) Get(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero R
		return zero, &PersistenceError{Kind: KindUnknown, Op: "await", Cause: ctx.Err()}
	}
}

// Err waits for the result and returns its error.
func (f *Future[R]) Err() error {
	<-f.done
	return f.err
}

// Go runs fn on exec and returns its future. The task keeps the values of
// ctx but not its cancellation; panics resolve the future with KindUnknown.
func Go[R any](exec *Executor, ctx context.Context, fn func(ctx context.Context) (R, error)) *Future[R] {
	f := newFuture[R]()

	exec.mu.RLock()
	if exec.closed {
		exec.mu.RUnlock()
		var zero R
		f.complete(zero, newError(KindUnknown, "executor is shut down"))
		return f
	}
	exec.wg.Add(1)
	exec.mu.RUnlock()

	taskCtx := context.WithoutCancel(ctx)
	go func() {
		defer exec.wg.Done()
		// acquiring with a context that is never cancelled cannot fail
		_ = exec.sem.Acquire(context.Background(), 1)
		defer exec.sem.Release(1)
		f.complete(safeCall(taskCtx, exec.logger, fn))
	}()
	return f
}

func safeCall[R any](ctx context.Context, logger database.Logger, fn func(ctx context.Context) (R, error)) (value R, err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Async task panicked", "panic", p)
			var zero R
			value, err = zero, &PersistenceError{Kind: KindUnknown, Op: "async", Detail: fmt.Sprintf("panic: %v", p)}
		}
	}()
	return fn(ctx)
}

// AsyncRepository exposes the operations of a repository as futures.
type AsyncRepository[T any, ID comparable] struct {
	repo Repository[T, ID]
	exec *Executor
}

func NewAsyncRepository[T any, ID comparable](repo Repository[T, ID], exec *Executor) *AsyncRepository[T, ID] {
	return &AsyncRepository[T, ID]{repo: repo, exec: exec}
}

// Sync returns the wrapped repository.
func (a *AsyncRepository[T, ID]) Sync() Repository[T, ID] { return a.repo }

// Executor returns the executor the calls run on.
func (a *AsyncRepository[T, ID]) Executor() *Executor { return a.exec }

func (a *AsyncRepository[T, ID]) CreateAsync(ctx context.Context, entity *T) *Future[*T] {
	return Go(a.exec, ctx, func(ctx context.Context) (*T, error) {
		return a.repo.Create(ctx, entity)
	})
}

func (a *AsyncRepository[T, ID]) UpdateAsync(ctx context.Context, entity *T) *Future[*T] {
	return Go(a.exec, ctx, func(ctx context.Context) (*T, error) {
		return a.repo.Update(ctx, entity)
	})
}

func (a *AsyncRepository[T, ID]) DeleteAsync(ctx context.Context, entity *T) *Future[struct{}] {
	return Go(a.exec, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.repo.Delete(ctx, entity)
	})
}

// GetByIDAsync resolves to nil, with a nil error, when no entity has id.
// The nil pointer stands in for the found flag of GetByID.
func (a *AsyncRepository[T, ID]) GetByIDAsync(ctx context.Context, id ID, relations ...string) *Future[*T] {
	return Go(a.exec, ctx, func(ctx context.Context) (*T, error) {
		entity, _, err := a.repo.GetByID(ctx, id, relations...)
		return entity, err
	})
}

func (a *AsyncRepository[T, ID]) ExistsAsync(ctx context.Context, id ID) *Future[bool] {
	return Go(a.exec, ctx, func(ctx context.Context) (bool, error) {
		return a.repo.Exists(ctx, id)
	})
}

func (a *AsyncRepository[T, ID]) GetAllAsync(ctx context.Context, page *types.PageRequest, sort types.Sort, relations ...string) *Future[[]*T] {
	return Go(a.exec, ctx, func(ctx context.Context) ([]*T, error) {
		return a.repo.GetAll(ctx, page, sort, relations...)
	})
}

func (a *AsyncRepository[T, ID]) FindByCriteriaAsync(ctx context.Context, criteria types.Criteria, sort types.Sort, page *types.PageRequest, relations ...string) *Future[[]*T] {
	return Go(a.exec, ctx, func(ctx context.Context) ([]*T, error) {
		return a.repo.FindByCriteria(ctx, criteria, sort, page, relations...)
	})
}

func (a *AsyncRepository[T, ID]) FindWithJoinAsync(ctx context.Context, join types.Join, sort types.Sort, page *types.PageRequest, relations ...string) *Future[[]*T] {
	return Go(a.exec, ctx, func(ctx context.Context) ([]*T, error) {
		return a.repo.FindWithJoin(ctx, join, sort, page, relations...)
	})
}

func (a *AsyncRepository[T, ID]) FindWithAggregationAsync(ctx context.Context, agg types.Aggregation, sort types.Sort) *Future[[]types.Aggregate[T]] {
	return Go(a.exec, ctx, func(ctx context.Context) ([]types.Aggregate[T], error) {
		return a.repo.FindWithAggregation(ctx, agg, sort)
	})
}

func (a *AsyncRepository[T, ID]) CountAsync(ctx context.Context, criteria types.Criteria) *Future[int] {
	return Go(a.exec, ctx, func(ctx context.Context) (int, error) {
		return a.repo.Count(ctx, criteria)
	})
}

func (a *AsyncRepository[T, ID]) PageAsync(ctx context.Context, criteria types.Criteria, sort types.Sort, page *types.PageRequest) *Future[*types.Pagination[T]] {
	return Go(a.exec, ctx, func(ctx context.Context) (*types.Pagination[T], error) {
		return a.repo.Page(ctx, criteria, sort, page)
	})
}
