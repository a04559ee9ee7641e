package refquery

import (
	"context"
	"fmt"

	"refquery/src/models"

	"go.mongodb.org/mongo-driver/bson"
)

// idProjection keeps subquery results down to their identifiers.
var idProjection = bson.M{"_id": 1}

// Outcome is the value that replaces a rewritten key.
type Outcome struct {
	// ID is set when a scalar reference matched one document.
	ID interface{}

	// IDs is used for array references and for scalar references without a match.
	IDs bson.A

	matched bool
}

// Value renders the outcome as a filter value.
func (o Outcome) Value() interface{} {
	if o.matched {
		return o.ID
	}
	ids := o.IDs
	if ids == nil {
		ids = bson.A{}
	}
	return bson.M{"$in": ids}
}

func (o Outcome) String() string {
	if o.matched {
		return fmt.Sprintf("id %v", o.ID)
	}
	if len(o.IDs) == 0 {
		return "match nothing"
	}
	return fmt.Sprintf("$in %d ids", len(o.IDs))
}

func idOutcome(id interface{}) Outcome {
	return Outcome{ID: id, matched: true}
}

func inOutcome(ids bson.A) Outcome {
	if ids == nil {
		ids = bson.A{}
	}
	return Outcome{IDs: ids}
}

// resolveReference runs the subquery for one reference field against the bundle it points at.
// The subquery is force-enabled one level deeper, so references inside sub are resolved
// by the referenced bundle's own hooks.
func resolveReference(ctx context.Context, registry models.Registry, field models.FieldDefinition, sub bson.M, depth int) (Outcome, error) {
	if registry == nil {
		return Outcome{}, fmt.Errorf("%w: %q (field %q): no registry", ErrCollectionNotRegistered, field.Ref, field.Name)
	}
	coll, err := registry.Collection(field.Ref)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %q (field %q): %w", ErrCollectionNotRegistered, field.Ref, field.Name, err)
	}
	if coll == nil {
		return Outcome{}, fmt.Errorf("%w: %q (field %q)", ErrCollectionNotRegistered, field.Ref, field.Name)
	}

	opts := models.QueryOptions{
		UseFindWithinReference: true,
		Depth:                  depth + 1,
	}

	if field.Cardinality == models.Array {
		docs, err := coll.Find(ctx, sub, idProjection, opts)
		if err != nil {
			return Outcome{}, fmt.Errorf("resolve %s in %s: %w", field.Name, field.Ref, err)
		}
		ids := make(bson.A, 0, len(docs))
		for _, doc := range docs {
			ids = append(ids, doc["_id"])
		}
		return inOutcome(ids), nil
	}

	doc, err := coll.FindOne(ctx, sub, idProjection, opts)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve %s in %s: %w", field.Name, field.Ref, err)
	}
	if doc == nil {
		// no match must still yield a filter that matches nothing
		return inOutcome(nil), nil
	}
	return idOutcome(doc["_id"]), nil
}
