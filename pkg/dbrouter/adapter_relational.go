package dbrouter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/railwire/tenantdb/pkg/pg"
)

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, so
// execCreate/execRead/execUpsert/execWrite run unchanged whether called
// directly against the pool or against a transaction from ExecuteTx.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// tenantRegistryTable is the conventional table name the Shared strategy
// consults for registry-backed tenant bookkeeping.
const tenantRegistryTable = "tenant_registry"

// defaultRetryInterval paces connection retries for both adapters'
// Connect calls.
const defaultRetryInterval = 500 * time.Millisecond

// relationalAdapter is the Driver Adapter variant for postgres/postgresql
// base URLs. It connects eagerly with
// pkg/pg's retrying Connect and caches one pool per URL.
type relationalAdapter struct {
	log   *slog.Logger
	mu    sync.Mutex
	pools map[string]*pgxpool.Pool
}

func newRelationalAdapter(log *slog.Logger) *relationalAdapter {
	return &relationalAdapter{log: log, pools: make(map[string]*pgxpool.Pool)}
}

func (a *relationalAdapter) Kind() AdapterKind { return AdapterRelational }

func (a *relationalAdapter) Connect(ctx context.Context, url string) (RawClient, error) {
	a.mu.Lock()
	if pool, ok := a.pools[url]; ok {
		a.mu.Unlock()
		return &relationalRawClient{pool: pool}, nil
	}
	a.mu.Unlock()

	pool, err := pg.Connect(ctx, pg.Config{
		ConnectionString: url,
		MaxOpenConns:      10,
		MaxIdleConns:      5,
		RetryAttempts:     3,
		RetryInterval:     defaultRetryInterval,
	})
	if err != nil {
		return nil, &DriverError{Err: err}
	}

	a.mu.Lock()
	if existing, ok := a.pools[url]; ok {
		pool.Close()
		a.mu.Unlock()
		return &relationalRawClient{pool: existing}, nil
	}
	a.pools[url] = pool
	a.mu.Unlock()

	return &relationalRawClient{pool: pool}, nil
}

func (a *relationalAdapter) Intercept(raw RawClient, scope Scope, rw *rewriter) ScopedClient {
	return &relationalScopedClient{pool: raw.(*relationalRawClient).pool, rw: rw, scope: scope}
}

func (a *relationalAdapter) Registry() TenantRegistry { return relationalRegistry{} }

func (a *relationalAdapter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for url, pool := range a.pools {
		pool.Close()
		delete(a.pools, url)
	}
	return nil
}

// relationalRawClient wraps a pgxpool.Pool as a RawClient.
type relationalRawClient struct {
	pool *pgxpool.Pool
}

func (c *relationalRawClient) Unwrap() any { return c.pool }

// relationalScopedClient is the pgx-backed ScopedClient installed by
// Intercept: every Operation passes through rw before being materialized
// as SQL via squirrel.
type relationalScopedClient struct {
	pool  *pgxpool.Pool
	rw    *rewriter
	scope Scope
}

func (c *relationalScopedClient) Unwrap() any { return c.pool }
func (c *relationalScopedClient) Close() error { return nil } // pool is shared, owned by the adapter

func (c *relationalScopedClient) Execute(ctx context.Context, op Operation) (Result, error) {
	rewritten := op
	if c.rw != nil {
		var err error
		rewritten, err = c.rw.Rewrite(op)
		if err != nil {
			return Result{}, err
		}
	}
	return c.execOne(ctx, c.pool, rewritten)
}

// ExecuteTx runs every op in ops against a single pgx transaction, rolling
// back and returning the first error instead of leaving earlier ops
// committed. The rewriter still runs per-op so each model gets the correct
// scoping predicate.
func (c *relationalScopedClient) ExecuteTx(ctx context.Context, ops []Operation) (Result, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return Result{}, &DriverError{Err: err}
	}
	defer tx.Rollback(ctx)

	var total int64
	for _, op := range ops {
		rewritten := op
		if c.rw != nil {
			rewritten, err = c.rw.Rewrite(op)
			if err != nil {
				return Result{}, err
			}
		}
		res, err := c.execOne(ctx, tx, rewritten)
		if err != nil {
			return Result{}, err
		}
		total += res.RowsAffected
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, &DriverError{Err: err}
	}
	return Result{RowsAffected: total}, nil
}

func (c *relationalScopedClient) execOne(ctx context.Context, q pgxQuerier, op Operation) (Result, error) {
	builder := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	switch op.Class {
	case OpCreate:
		return c.execCreate(ctx, q, builder, op)
	case OpUpsert:
		return c.execUpsert(ctx, q, builder, op)
	case OpWrite:
		return c.execWrite(ctx, q, builder, op)
	default: // OpRead
		return c.execRead(ctx, q, builder, op)
	}
}

func (c *relationalScopedClient) execRead(ctx context.Context, q pgxQuerier, builder sq.StatementBuilderType, op Operation) (Result, error) {
	sel := builder.Select("*").From(op.Model)
	if sqlizer := filterToSqlizer(op.Filter); sqlizer != nil {
		sel = sel.Where(sqlizer)
	}

	sqlStr, args, err := sel.ToSql()
	if err != nil {
		return Result{}, &DriverError{Err: err}
	}

	rows, err := q.Query(ctx, sqlStr, args...)
	if err != nil {
		return Result{}, &DriverError{Err: err}
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return Result{}, &DriverError{Err: err}
	}
	return result, nil
}

func (c *relationalScopedClient) execCreate(ctx context.Context, q pgxQuerier, builder sq.StatementBuilderType, op Operation) (Result, error) {
	rows := op.DataList
	if rows == nil {
		rows = []map[string]any{op.Data}
	}

	var total int64
	for _, row := range rows {
		cols, vals := mapToColumns(row)
		sqlStr, args, err := builder.Insert(op.Model).Columns(cols...).Values(vals...).ToSql()
		if err != nil {
			return Result{}, &DriverError{Err: err}
		}
		tag, err := q.Exec(ctx, sqlStr, args...)
		if err != nil {
			return Result{}, &DriverError{Err: err}
		}
		total += tag.RowsAffected()
	}
	return Result{RowsAffected: total}, nil
}

func (c *relationalScopedClient) execUpsert(ctx context.Context, q pgxQuerier, builder sq.StatementBuilderType, op Operation) (Result, error) {
	cols, vals := mapToColumns(op.Data)
	insertSQL, insertArgs, err := builder.Insert(op.Model).Columns(cols...).Values(vals...).ToSql()
	if err != nil {
		return Result{}, &DriverError{Err: err}
	}

	conflictCols := []string{c.rw.tenantColumn}
	setClauses := make([]string, 0, len(op.Data))
	for _, col := range cols {
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	upsertSQL := fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
		insertSQL, strings.Join(conflictCols, ", "), strings.Join(setClauses, ", "))

	tag, err := q.Exec(ctx, upsertSQL, insertArgs...)
	if err != nil {
		return Result{}, &DriverError{Err: err}
	}
	return Result{RowsAffected: tag.RowsAffected()}, nil
}

func (c *relationalScopedClient) execWrite(ctx context.Context, q pgxQuerier, builder sq.StatementBuilderType, op Operation) (Result, error) {
	var query sq.Sqlizer
	if op.Data != nil {
		updates := make(map[string]any, len(op.Data))
		for k, v := range op.Data {
			updates[k] = v
		}
		upd := builder.Update(op.Model).SetMap(updates)
		if sqlizer := filterToSqlizer(op.Filter); sqlizer != nil {
			upd = upd.Where(sqlizer)
		}
		query = upd
	} else {
		del := builder.Delete(op.Model)
		if sqlizer := filterToSqlizer(op.Filter); sqlizer != nil {
			del = del.Where(sqlizer)
		}
		query = del
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return Result{}, &DriverError{Err: err}
	}
	tag, err := q.Exec(ctx, sqlStr, args...)
	if err != nil {
		return Result{}, &DriverError{Err: err}
	}
	return Result{RowsAffected: tag.RowsAffected()}, nil
}

// filterToSqlizer recursively converts the generic filter representation
// (possibly containing "AND"/"OR" arrays produced by the rewriter, or by
// application code before rewriting) into a squirrel.Sqlizer.
func filterToSqlizer(filter map[string]any) sq.Sqlizer {
	if len(filter) == 0 {
		return nil
	}

	if and, ok := filter["AND"].([]map[string]any); ok {
		conj := make(sq.And, 0, len(and))
		for _, f := range and {
			if s := filterToSqlizer(f); s != nil {
				conj = append(conj, s)
			}
		}
		return conj
	}

	if or, ok := filter["OR"].([]map[string]any); ok {
		disj := make(sq.Or, 0, len(or))
		for _, f := range or {
			if s := filterToSqlizer(f); s != nil {
				disj = append(disj, s)
			}
		}
		return disj
	}

	eq := sq.Eq{}
	for k, v := range filter {
		eq[k] = v
	}
	return eq
}

func mapToColumns(data map[string]any) ([]string, []any) {
	cols := make([]string, 0, len(data))
	vals := make([]any, 0, len(data))
	for k, v := range data {
		cols = append(cols, k)
		vals = append(vals, v)
	}
	return cols, vals
}

func scanRows(rows pgx.Rows) (Result, error) {
	fields := rows.FieldDescriptions()
	var out []map[string]any

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return Result{}, err
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	return Result{Rows: out, RowsAffected: int64(len(out))}, nil
}

// relationalRegistry implements TenantRegistry against a conventional
// tenant_registry(id text primary key) table. Writes are best-effort and
// idempotent: a failed registry insert logs and continues rather than
// failing the Shared strategy's createTenant.
type relationalRegistry struct{}

func (relationalRegistry) Register(ctx context.Context, client RawClient, id string) error {
	pool := client.Unwrap().(*pgxpool.Pool)
	sqlStr, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Insert(tenantRegistryTable).Columns("id").Values(id).
		Suffix("ON CONFLICT (id) DO NOTHING").ToSql()
	if err != nil {
		return &DriverError{Err: err}
	}
	if _, err := pool.Exec(ctx, sqlStr, args...); err != nil {
		return &DriverError{Err: err}
	}
	return nil
}

func (relationalRegistry) Unregister(ctx context.Context, client RawClient, id string) error {
	pool := client.Unwrap().(*pgxpool.Pool)
	sqlStr, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Delete(tenantRegistryTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return &DriverError{Err: err}
	}
	if _, err := pool.Exec(ctx, sqlStr, args...); err != nil {
		return &DriverError{Err: err}
	}
	return nil
}

func (relationalRegistry) Exists(ctx context.Context, client RawClient, id string) (bool, error) {
	pool := client.Unwrap().(*pgxpool.Pool)
	sqlStr, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select("1").From(tenantRegistryTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return false, &DriverError{Err: err}
	}
	var found int
	err = pool.QueryRow(ctx, sqlStr, args...).Scan(&found)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, &DriverError{Err: err}
	}
	return true, nil
}

func (relationalRegistry) List(ctx context.Context, client RawClient) ([]string, error) {
	pool := client.Unwrap().(*pgxpool.Pool)
	sqlStr, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select("id").From(tenantRegistryTable).ToSql()
	if err != nil {
		return nil, &DriverError{Err: err}
	}
	rows, err := pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, &DriverError{Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &DriverError{Err: err}
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
