package engine

import (
	"context"
	"fmt"
	"sync"

	"refquery/src/helpers"
	"refquery/src/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Bundle is an in-memory collection of documents sharing one schema.
// Every query runs the hooks registered for its operation before the filter is evaluated.
type Bundle struct {
	// BundleID is the unique identifier for the bundle.
	BundleID string

	name   string
	schema *models.Schema

	mu          sync.RWMutex
	documents   []bson.M
	constraints []Constraint
	hooks       map[models.Operation][]models.PreQueryHook
	db          *Database

	logger *zap.SugaredLogger
}

func (b *Bundle) Name() string {
	return b.name
}

func (b *Bundle) Schema() *models.Schema {
	return b.schema
}

// Use registers a pre-query hook for op. Hooks run in registration order.
func (b *Bundle) Use(op models.Operation, hook models.PreQueryHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks[op] = append(b.hooks[op], hook)
}

func (b *Bundle) setDatabase(db *Database) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.db = db
}

// InsertOne stores a copy of doc and returns its _id, generating an ObjectID when missing.
func (b *Bundle) InsertOne(ctx context.Context, doc bson.M) (interface{}, error) {
	stored, err := helpers.CloneDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", b.name, err)
	}
	if stored == nil {
		stored = bson.M{}
	}
	if _, ok := stored["_id"]; !ok {
		stored["_id"] = primitive.NewObjectID()
	}
	applyDefaults(b.schema, stored)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.constraints {
		if err := c.check(stored, b.documents); err != nil {
			return nil, fmt.Errorf("insert into %s: %w", b.name, err)
		}
	}
	b.documents = append(b.documents, stored)

	return stored["_id"], nil
}

func (b *Bundle) InsertMany(ctx context.Context, docs []bson.M) ([]interface{}, error) {
	ids := make([]interface{}, 0, len(docs))
	for _, doc := range docs {
		id, err := b.InsertOne(ctx, doc)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Documents returns copies of every stored document in insertion order.
func (b *Bundle) Documents() ([]bson.M, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]bson.M, 0, len(b.documents))
	for _, doc := range b.documents {
		clone, err := helpers.CloneDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, clone)
	}
	return out, nil
}

func (b *Bundle) Find(ctx context.Context, filter bson.M, projection bson.M, opts models.QueryOptions) ([]bson.M, error) {
	matches, err := b.query(ctx, models.OpFind, filter, opts, 0)
	if err != nil {
		return nil, err
	}

	results := make([]bson.M, 0, len(matches))
	for _, doc := range matches {
		out, err := project(doc, projection)
		if err != nil {
			return nil, err
		}
		results = append(results, out)
	}
	return results, nil
}

// FindOne returns the first match in insertion order, or nil when nothing matches.
func (b *Bundle) FindOne(ctx context.Context, filter bson.M, projection bson.M, opts models.QueryOptions) (bson.M, error) {
	matches, err := b.query(ctx, models.OpFindOne, filter, opts, 1)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return project(matches[0], projection)
}

// Distinct returns the unique values of field among matching documents. Array values are flattened.
func (b *Bundle) Distinct(ctx context.Context, field string, filter bson.M, opts models.QueryOptions) ([]interface{}, error) {
	matches, err := b.query(ctx, models.OpDistinct, filter, opts, 0)
	if err != nil {
		return nil, err
	}

	values := make([]interface{}, 0)
	for _, doc := range matches {
		for _, v := range candidates(walkPath(doc, splitPath(field))) {
			if isList(v) {
				continue
			}
			if !containsValue(values, v) {
				values = append(values, v)
			}
		}
	}
	return values, nil
}

func (b *Bundle) Count(ctx context.Context, filter bson.M, opts models.QueryOptions) (int64, error) {
	matches, err := b.query(ctx, models.OpCount, filter, opts, 0)
	if err != nil {
		return 0, err
	}
	return int64(len(matches)), nil
}

func (b *Bundle) CountDocuments(ctx context.Context, filter bson.M, opts models.QueryOptions) (int64, error) {
	matches, err := b.query(ctx, models.OpCountDocuments, filter, opts, 0)
	if err != nil {
		return 0, err
	}
	return int64(len(matches)), nil
}

// query runs the hooks for op, casts the resulting filter against the schema and
// returns the stored documents that match, stopping after limit matches when limit > 0.
func (b *Bundle) query(ctx context.Context, op models.Operation, filter bson.M, opts models.QueryOptions, limit int) ([]bson.M, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filter, err := b.runHooks(ctx, op, filter, opts)
	if err != nil {
		return nil, err
	}

	cast, err := castFilter(b.schema, filter)
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", op, b.name, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var matches []bson.M
	for _, doc := range b.documents {
		ok, err := matchDocument(doc, cast)
		if err != nil {
			return nil, fmt.Errorf("%s on %s: %w", op, b.name, err)
		}
		if !ok {
			continue
		}
		matches = append(matches, doc)
		if limit > 0 && len(matches) >= limit {
			break
		}
	}
	b.logger.Debugw("executed query", "op", op, "matches", len(matches), "depth", opts.Depth)
	return matches, nil
}

// runHooks must not hold the bundle lock: hooks issue subqueries, possibly against this bundle.
func (b *Bundle) runHooks(ctx context.Context, op models.Operation, filter bson.M, opts models.QueryOptions) (bson.M, error) {
	b.mu.RLock()
	hooks := append([]models.PreQueryHook(nil), b.hooks[op]...)
	db := b.db
	b.mu.RUnlock()

	if filter == nil {
		filter = bson.M{}
	}
	if len(hooks) == 0 {
		return filter, nil
	}

	event := &models.QueryEvent{
		Operation: op,
		Bundle:    b.name,
		Schema:    b.schema,
		Filter:    filter,
		Options:   opts,
	}
	if db != nil {
		event.Registry = db
	}

	for _, hook := range hooks {
		if err := hook(ctx, event); err != nil {
			return nil, err
		}
	}
	return event.Filter, nil
}
