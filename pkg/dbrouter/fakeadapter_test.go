package dbrouter

import (
	"context"
	"errors"
	"sync"
)

var errInjectedFailure = errors.New("injected failure")

// fakeAdapter is an in-memory Adapter used across the package's tests in
// place of a real Postgres/Mongo instance: one shared store per connection
// URL, row-level operations applied against plain map[string]any rows.
type fakeAdapter struct {
	mu      sync.Mutex
	stores  map[string]*fakeStore
	connect func(ctx context.Context, url string) error // optional hook for error injection
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{stores: make(map[string]*fakeStore)}
}

func (a *fakeAdapter) Kind() AdapterKind { return AdapterRelational }

func (a *fakeAdapter) Connect(ctx context.Context, url string) (RawClient, error) {
	if a.connect != nil {
		if err := a.connect(ctx, url); err != nil {
			return nil, err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	store, ok := a.stores[url]
	if !ok {
		store = newFakeStore()
		a.stores[url] = store
	}
	return store, nil
}

func (a *fakeAdapter) Intercept(raw RawClient, scope Scope, rw *rewriter) ScopedClient {
	return &fakeScopedStore{store: raw.(*fakeStore), rw: rw}
}

func (a *fakeAdapter) Registry() TenantRegistry { return fakeRegistry{} }

func (a *fakeAdapter) Close(ctx context.Context) error { return nil }

// fakeStore is the raw, per-URL backing store: model name -> rows, plus a
// tenant_registry set.
type fakeStore struct {
	mu       sync.Mutex
	models   map[string][]map[string]any
	registry map[string]struct{}

	// failModel makes execLocked return an error for operations against
	// this model, for tests asserting ExecuteTx rolls back on partial
	// failure. Empty means no injected failure.
	failModel string
}

func newFakeStore() *fakeStore {
	return &fakeStore{models: make(map[string][]map[string]any), registry: make(map[string]struct{})}
}

func (s *fakeStore) Unwrap() any { return s }

// fakeScopedStore applies the rewriter then executes against the shared
// fakeStore, the way adapter_relational.go/adapter_document.go do against
// their real drivers.
type fakeScopedStore struct {
	store *fakeStore
	rw    *rewriter
}

func (c *fakeScopedStore) Unwrap() any { return c.store }
func (c *fakeScopedStore) Close() error { return nil }

func (c *fakeScopedStore) Execute(ctx context.Context, op Operation) (Result, error) {
	if c.rw != nil {
		var err error
		op, err = c.rw.Rewrite(op)
		if err != nil {
			return Result{}, err
		}
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.execLocked(op)
}

// ExecuteTx snapshots every model touched by ops before running them, and
// restores the snapshot if any op fails partway through, so the batch is
// all-or-nothing the way a real transaction would be.
func (c *fakeScopedStore) ExecuteTx(ctx context.Context, ops []Operation) (Result, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	snapshot := make(map[string][]map[string]any, len(c.store.models))
	for model, rows := range c.store.models {
		copied := make([]map[string]any, len(rows))
		for i, row := range rows {
			rowCopy := make(map[string]any, len(row))
			for k, v := range row {
				rowCopy[k] = v
			}
			copied[i] = rowCopy
		}
		snapshot[model] = copied
	}

	var total int64
	for _, op := range ops {
		rewritten := op
		if c.rw != nil {
			var err error
			rewritten, err = c.rw.Rewrite(op)
			if err != nil {
				c.store.models = snapshot
				return Result{}, err
			}
		}
		res, err := c.execLocked(rewritten)
		if err != nil {
			c.store.models = snapshot
			return Result{}, err
		}
		total += res.RowsAffected
	}
	return Result{RowsAffected: total}, nil
}

// execLocked runs op against the store. Callers must hold c.store.mu.
func (c *fakeScopedStore) execLocked(op Operation) (Result, error) {
	if c.store.failModel != "" && op.Model == c.store.failModel {
		return Result{}, &DriverError{Err: errInjectedFailure}
	}

	switch op.Class {
	case OpCreate:
		rows := op.DataList
		if rows == nil && op.Data != nil {
			rows = []map[string]any{op.Data}
		}
		for _, row := range rows {
			c.store.models[op.Model] = append(c.store.models[op.Model], row)
		}
		return Result{RowsAffected: int64(len(rows))}, nil

	case OpRead:
		var matched []map[string]any
		for _, row := range c.store.models[op.Model] {
			if rowMatchesFilter(row, op.Filter) {
				matched = append(matched, row)
			}
		}
		return Result{Rows: matched}, nil

	case OpWrite, OpUpsert:
		var kept []map[string]any
		var affected int64
		found := false
		for _, row := range c.store.models[op.Model] {
			if rowMatchesFilter(row, op.Filter) {
				affected++
				found = true
				if op.Data != nil {
					for k, v := range op.Data {
						row[k] = v
					}
					kept = append(kept, row)
				}
				continue
			}
			kept = append(kept, row)
		}
		if op.Class == OpUpsert && !found && op.Data != nil {
			kept = append(kept, op.Data)
			affected = 1
		}
		c.store.models[op.Model] = kept
		return Result{RowsAffected: affected}, nil
	}

	return Result{}, nil
}

// rowMatchesFilter evaluates the same AND/OR/flat shapes the rewriter
// produces, as a plain-equality predicate matcher.
func rowMatchesFilter(row map[string]any, filter map[string]any) bool {
	if and, ok := filter["AND"].([]map[string]any); ok {
		for _, f := range and {
			if !rowMatchesFilter(row, f) {
				return false
			}
		}
		return true
	}
	if or, ok := filter["OR"].([]map[string]any); ok {
		for _, f := range or {
			if rowMatchesFilter(row, f) {
				return true
			}
		}
		return false
	}
	for k, v := range filter {
		if row[k] != v {
			return false
		}
	}
	return true
}

type fakeRegistry struct{}

func (fakeRegistry) Register(ctx context.Context, client RawClient, id string) error {
	store := client.(*fakeStore)
	store.mu.Lock()
	defer store.mu.Unlock()
	store.registry[id] = struct{}{}
	return nil
}

func (fakeRegistry) Unregister(ctx context.Context, client RawClient, id string) error {
	store := client.(*fakeStore)
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.registry, id)
	return nil
}

func (fakeRegistry) Exists(ctx context.Context, client RawClient, id string) (bool, error) {
	store := client.(*fakeStore)
	store.mu.Lock()
	defer store.mu.Unlock()
	_, ok := store.registry[id]
	return ok, nil
}

func (fakeRegistry) List(ctx context.Context, client RawClient) ([]string, error) {
	store := client.(*fakeStore)
	store.mu.Lock()
	defer store.mu.Unlock()
	out := make([]string, 0, len(store.registry))
	for id := range store.registry {
		out = append(out, id)
	}
	return out, nil
}
