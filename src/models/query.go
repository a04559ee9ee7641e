package models

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Operation names a query operation that pre-query hooks can attach to.
type Operation string

const (
	OpFind           Operation = "find"
	OpFindOne        Operation = "findOne"
	OpDistinct       Operation = "distinct"
	OpCount          Operation = "count"
	OpCountDocuments Operation = "countDocuments"
)

// Operations lists every operation a hook can be registered for.
var Operations = []Operation{OpFind, OpFindOne, OpDistinct, OpCount, OpCountDocuments}

func (op Operation) Valid() bool {
	for _, o := range Operations {
		if o == op {
			return true
		}
	}
	return false
}

// QueryOptions are the per-call options accepted by every query operation.
type QueryOptions struct {
	// UseFindWithinReference enables reference rewriting for this call only.
	UseFindWithinReference bool

	// Depth is the number of subqueries between this call and the caller's query.
	Depth int
}

// QueryEvent is handed to pre-query hooks. Hooks may replace Filter.
type QueryEvent struct {
	Operation Operation
	Bundle    string
	Schema    *Schema
	Registry  Registry
	Filter    bson.M
	Options   QueryOptions
}

// PreQueryHook runs before a query executes. Returning nil lets the query proceed.
type PreQueryHook func(ctx context.Context, event *QueryEvent) error

// Collection is a queryable handle on one bundle.
// FindOne returns a nil document and a nil error when nothing matches.
type Collection interface {
	Name() string
	Schema() *Schema
	Find(ctx context.Context, filter bson.M, projection bson.M, opts QueryOptions) ([]bson.M, error)
	FindOne(ctx context.Context, filter bson.M, projection bson.M, opts QueryOptions) (bson.M, error)
}

// Registry resolves bundle names to collections.
type Registry interface {
	Collection(name string) (Collection, error)
}

// Hookable is anything that accepts pre-query hooks per operation.
type Hookable interface {
	Use(op Operation, hook PreQueryHook)
}
