package dbrouter

import (
	"context"
	"log/slog"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	tenantmongo "github.com/railwire/tenantdb/pkg/mongo"
)

// tenantRegistryCollection is the conventional collection name the Shared
// strategy consults for registry-backed tenant bookkeeping.
const tenantRegistryCollection = "tenant_registry"

// documentAdapter is the Driver Adapter variant for mongodb/mongodb+srv
// base URLs. The rewriter runs as a pre-save/pre-query filter transform
// instead of a SQL predicate.
type documentAdapter struct {
	log  *slog.Logger
	mu   sync.Mutex
	dbs  map[string]*mongo.Database
}

func newDocumentAdapter(log *slog.Logger) *documentAdapter {
	return &documentAdapter{log: log, dbs: make(map[string]*mongo.Database)}
}

func (a *documentAdapter) Kind() AdapterKind { return AdapterDocument }

func (a *documentAdapter) Connect(ctx context.Context, url string) (RawClient, error) {
	a.mu.Lock()
	if db, ok := a.dbs[url]; ok {
		a.mu.Unlock()
		return &documentRawClient{db: db}, nil
	}
	a.mu.Unlock()

	dbName, connURL := splitMongoDatabase(url)
	db, err := tenantmongo.NewWithDatabase(ctx, tenantmongo.Config{
		ConnectionURL: connURL,
		RetryAttempts: 3,
		RetryInterval: defaultRetryInterval,
	}, dbName)
	if err != nil {
		return nil, &DriverError{Err: err}
	}

	a.mu.Lock()
	if existing, ok := a.dbs[url]; ok {
		a.mu.Unlock()
		return &documentRawClient{db: existing}, nil
	}
	a.dbs[url] = db
	a.mu.Unlock()

	return &documentRawClient{db: db}, nil
}

func (a *documentAdapter) Intercept(raw RawClient, scope Scope, rw *rewriter) ScopedClient {
	return &documentScopedClient{db: raw.(*documentRawClient).db, rw: rw, scope: scope}
}

func (a *documentAdapter) Registry() TenantRegistry { return documentRegistry{} }

func (a *documentAdapter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for url, db := range a.dbs {
		_ = db.Client().Disconnect(ctx)
		delete(a.dbs, url)
	}
	return nil
}

// splitMongoDatabase extracts the database name from a connection URL's
// final path segment, e.g. "mongodb://h/acme_app" -> ("acme_app",
// "mongodb://h/acme_app"). Mongo connection strings already carry the
// database in the path, so the URL itself is the driver's connection
// string unchanged; only the name needs isolating for NewWithDatabase.
func splitMongoDatabase(url string) (dbName string, connURL string) {
	schemeEnd := 0
	for i := 0; i+2 < len(url); i++ {
		if url[i] == ':' && url[i+1] == '/' && url[i+2] == '/' {
			schemeEnd = i + 3
			break
		}
	}

	idx := -1
	for i := len(url) - 1; i >= schemeEnd; i-- {
		if url[i] == '/' {
			idx = i
			break
		}
	}
	if idx == -1 || idx == len(url)-1 {
		return "app", url
	}
	name := url[idx+1:]
	if q := indexByte(name, '?'); q != -1 {
		name = name[:q]
	}
	if name == "" {
		name = "app"
	}
	return name, url
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

type documentRawClient struct {
	db *mongo.Database
}

func (c *documentRawClient) Unwrap() any { return c.db }

// documentScopedClient is the mongo-driver-backed ScopedClient: every
// Operation passes through rw and is materialized as a bson.M filter or
// document.
type documentScopedClient struct {
	db    *mongo.Database
	rw    *rewriter
	scope Scope
}

func (c *documentScopedClient) Unwrap() any  { return c.db }
func (c *documentScopedClient) Close() error { return nil } // database handle is shared, owned by the adapter

func (c *documentScopedClient) Execute(ctx context.Context, op Operation) (Result, error) {
	rewritten := op
	if c.rw != nil {
		var err error
		rewritten, err = c.rw.Rewrite(op)
		if err != nil {
			return Result{}, err
		}
	}

	return c.execOne(ctx, rewritten)
}

// ExecuteTx runs every op in ops inside a single Mongo session transaction,
// aborting the whole batch if any op fails. Requires the deployment to be a
// replica set or sharded cluster; a standalone mongod has no session
// transaction support.
func (c *documentScopedClient) ExecuteTx(ctx context.Context, ops []Operation) (Result, error) {
	session, err := c.db.Client().StartSession()
	if err != nil {
		return Result{}, &DriverError{Err: err}
	}
	defer session.EndSession(ctx)

	total, err := session.WithTransaction(ctx, func(sessCtx context.Context) (any, error) {
		var n int64
		for _, op := range ops {
			rewritten := op
			if c.rw != nil {
				var err error
				rewritten, err = c.rw.Rewrite(op)
				if err != nil {
					return nil, err
				}
			}
			res, err := c.execOne(sessCtx, rewritten)
			if err != nil {
				return nil, err
			}
			n += res.RowsAffected
		}
		return n, nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{RowsAffected: total.(int64)}, nil
}

func (c *documentScopedClient) execOne(ctx context.Context, op Operation) (Result, error) {
	coll := c.db.Collection(op.Model)

	switch op.Class {
	case OpCreate:
		return c.execCreate(ctx, coll, op)
	case OpUpsert:
		return c.execUpsert(ctx, coll, op)
	case OpWrite:
		return c.execWrite(ctx, coll, op)
	default:
		return c.execRead(ctx, coll, op)
	}
}

func (c *documentScopedClient) execRead(ctx context.Context, coll *mongo.Collection, op Operation) (Result, error) {
	cur, err := coll.Find(ctx, filterToBSON(op.Filter))
	if err != nil {
		return Result{}, &DriverError{Err: err}
	}
	defer cur.Close(ctx)

	var docs []map[string]any
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return Result{}, &DriverError{Err: err}
		}
		docs = append(docs, map[string]any(doc))
	}
	if err := cur.Err(); err != nil {
		return Result{}, &DriverError{Err: err}
	}
	return Result{Rows: docs, RowsAffected: int64(len(docs))}, nil
}

func (c *documentScopedClient) execCreate(ctx context.Context, coll *mongo.Collection, op Operation) (Result, error) {
	if op.DataList != nil {
		docs := make([]any, len(op.DataList))
		for i, row := range op.DataList {
			docs[i] = bson.M(row)
		}
		res, err := coll.InsertMany(ctx, docs)
		if err != nil {
			return Result{}, &DriverError{Err: err}
		}
		return Result{RowsAffected: int64(len(res.InsertedIDs))}, nil
	}

	if _, err := coll.InsertOne(ctx, bson.M(op.Data)); err != nil {
		return Result{}, &DriverError{Err: err}
	}
	return Result{RowsAffected: 1}, nil
}

func (c *documentScopedClient) execUpsert(ctx context.Context, coll *mongo.Collection, op Operation) (Result, error) {
	res, err := coll.UpdateOne(ctx, filterToBSON(op.Filter), bson.M{"$set": bson.M(op.Data)}, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return Result{}, &DriverError{Err: err}
	}
	return Result{RowsAffected: res.ModifiedCount + res.UpsertedCount}, nil
}

func (c *documentScopedClient) execWrite(ctx context.Context, coll *mongo.Collection, op Operation) (Result, error) {
	if op.Data != nil {
		res, err := coll.UpdateMany(ctx, filterToBSON(op.Filter), bson.M{"$set": bson.M(op.Data)})
		if err != nil {
			return Result{}, &DriverError{Err: err}
		}
		return Result{RowsAffected: res.ModifiedCount}, nil
	}

	res, err := coll.DeleteMany(ctx, filterToBSON(op.Filter))
	if err != nil {
		return Result{}, &DriverError{Err: err}
	}
	return Result{RowsAffected: res.DeletedCount}, nil
}

// filterToBSON recursively converts the generic filter representation
// (possibly containing "AND"/"OR" arrays produced by the rewriter) into a
// bson.M Mongo actually understands. Mongo has no native AND/OR field names,
// so passing the rewriter's output straight through as bson.M(filter) would
// silently match on literal "AND"/"OR" document fields instead of composing
// the predicate — this mirrors filterToSqlizer in adapter_relational.go for
// the relational backend.
func filterToBSON(filter map[string]any) bson.M {
	if len(filter) == 0 {
		return bson.M{}
	}

	if and, ok := filter["AND"].([]map[string]any); ok {
		clauses := make(bson.A, 0, len(and))
		for _, f := range and {
			clauses = append(clauses, filterToBSON(f))
		}
		return bson.M{"$and": clauses}
	}

	if or, ok := filter["OR"].([]map[string]any); ok {
		clauses := make(bson.A, 0, len(or))
		for _, f := range or {
			clauses = append(clauses, filterToBSON(f))
		}
		return bson.M{"$or": clauses}
	}

	out := make(bson.M, len(filter))
	for k, v := range filter {
		out[k] = v
	}
	return out
}

// documentRegistry implements TenantRegistry against a conventional
// tenant_registry collection with documents shaped {_id: id}.
type documentRegistry struct{}

func (documentRegistry) Register(ctx context.Context, client RawClient, id string) error {
	db := client.Unwrap().(*mongo.Database)
	coll := db.Collection(tenantRegistryCollection)
	_, err := coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$setOnInsert": bson.M{"_id": id}}, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return &DriverError{Err: err}
	}
	return nil
}

func (documentRegistry) Unregister(ctx context.Context, client RawClient, id string) error {
	db := client.Unwrap().(*mongo.Database)
	coll := db.Collection(tenantRegistryCollection)
	if _, err := coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return &DriverError{Err: err}
	}
	return nil
}

func (documentRegistry) Exists(ctx context.Context, client RawClient, id string) (bool, error) {
	db := client.Unwrap().(*mongo.Database)
	coll := db.Collection(tenantRegistryCollection)
	count, err := coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, &DriverError{Err: err}
	}
	return count > 0, nil
}

func (documentRegistry) List(ctx context.Context, client RawClient) ([]string, error) {
	db := client.Unwrap().(*mongo.Database)
	coll := db.Collection(tenantRegistryCollection)
	cur, err := coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, &DriverError{Err: err}
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, &DriverError{Err: err}
		}
		ids = append(ids, doc.ID)
	}
	return ids, cur.Err()
}
