// Package mongostore runs the same pre-query hook chain as the in-memory engine
// in front of a real MongoDB database.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"refquery/src/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var ErrCollectionNotFound = errors.New("collection not registered")

// driverCollection is the part of *mongo.Collection the store needs.
type driverCollection interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Distinct(ctx context.Context, fieldName string, filter interface{}, opts ...*options.DistinctOptions) ([]interface{}, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// Store registers schemas against collections of one MongoDB database.
type Store struct {
	db          *mongo.Database
	mu          sync.RWMutex
	collections map[string]*Collection
	logger      *zap.SugaredLogger
}

// Connect opens a client for uri and returns a store over database.
func Connect(ctx context.Context, uri, database string, logger *zap.SugaredLogger) (*Store, func(context.Context) error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", uri, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("ping %s: %w", uri, err)
	}
	return New(client.Database(database), logger), client.Disconnect, nil
}

func New(db *mongo.Database, logger *zap.SugaredLogger) *Store {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{
		db:          db,
		collections: make(map[string]*Collection),
		logger:      logger,
	}
}

// Register binds schema to the MongoDB collection of the same name.
func (s *Store) Register(schema *models.Schema) *Collection {
	return s.register(schema, s.db.Collection(schema.Name()))
}

func (s *Store) register(schema *models.Schema, coll driverCollection) *Collection {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &Collection{
		coll:   coll,
		schema: schema,
		store:  s,
		hooks:  make(map[models.Operation][]models.PreQueryHook),
		logger: s.logger.With("collection", schema.Name()),
	}
	s.collections[schema.Name()] = c
	return c
}

// Collection implements models.Registry.
func (s *Store) Collection(name string) (models.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

// Collection is a registered MongoDB collection with its schema and hooks.
type Collection struct {
	coll   driverCollection
	schema *models.Schema
	store  *Store

	mu     sync.RWMutex
	hooks  map[models.Operation][]models.PreQueryHook
	logger *zap.SugaredLogger
}

func (c *Collection) Name() string {
	return c.schema.Name()
}

func (c *Collection) Schema() *models.Schema {
	return c.schema
}

func (c *Collection) Use(op models.Operation, hook models.PreQueryHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks[op] = append(c.hooks[op], hook)
}

func (c *Collection) Find(ctx context.Context, filter bson.M, projection bson.M, opts models.QueryOptions) ([]bson.M, error) {
	filter, err := c.runHooks(ctx, models.OpFind, filter, opts)
	if err != nil {
		return nil, err
	}

	findOpts := options.Find()
	if len(projection) > 0 {
		findOpts.SetProjection(projection)
	}
	cursor, err := c.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find on %s: %w", c.Name(), err)
	}
	defer cursor.Close(ctx)

	docs := make([]bson.M, 0)
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("find on %s: %w", c.Name(), err)
	}
	return docs, nil
}

func (c *Collection) FindOne(ctx context.Context, filter bson.M, projection bson.M, opts models.QueryOptions) (bson.M, error) {
	filter, err := c.runHooks(ctx, models.OpFindOne, filter, opts)
	if err != nil {
		return nil, err
	}

	findOpts := options.FindOne()
	if len(projection) > 0 {
		findOpts.SetProjection(projection)
	}
	var doc bson.M
	if err := c.coll.FindOne(ctx, filter, findOpts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("findOne on %s: %w", c.Name(), err)
	}
	return doc, nil
}

func (c *Collection) Distinct(ctx context.Context, field string, filter bson.M, opts models.QueryOptions) ([]interface{}, error) {
	filter, err := c.runHooks(ctx, models.OpDistinct, filter, opts)
	if err != nil {
		return nil, err
	}
	values, err := c.coll.Distinct(ctx, field, filter)
	if err != nil {
		return nil, fmt.Errorf("distinct on %s: %w", c.Name(), err)
	}
	return values, nil
}

// Count is CountDocuments run through the count hooks; the driver no longer has a separate count.
func (c *Collection) Count(ctx context.Context, filter bson.M, opts models.QueryOptions) (int64, error) {
	return c.count(ctx, models.OpCount, filter, opts)
}

func (c *Collection) CountDocuments(ctx context.Context, filter bson.M, opts models.QueryOptions) (int64, error) {
	return c.count(ctx, models.OpCountDocuments, filter, opts)
}

func (c *Collection) count(ctx context.Context, op models.Operation, filter bson.M, opts models.QueryOptions) (int64, error) {
	filter, err := c.runHooks(ctx, op, filter, opts)
	if err != nil {
		return 0, err
	}
	n, err := c.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("%s on %s: %w", op, c.Name(), err)
	}
	return n, nil
}

func (c *Collection) runHooks(ctx context.Context, op models.Operation, filter bson.M, opts models.QueryOptions) (bson.M, error) {
	c.mu.RLock()
	hooks := append([]models.PreQueryHook(nil), c.hooks[op]...)
	c.mu.RUnlock()

	if filter == nil {
		filter = bson.M{}
	}

	event := &models.QueryEvent{
		Operation: op,
		Bundle:    c.Name(),
		Schema:    c.schema,
		Registry:  c.store,
		Filter:    filter,
		Options:   opts,
	}
	for _, hook := range hooks {
		if err := hook(ctx, event); err != nil {
			return nil, err
		}
	}
	c.logger.Debugw("running query", "op", op, "hooks", len(hooks), "depth", opts.Depth)
	return event.Filter, nil
}
