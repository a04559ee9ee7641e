package engine

import (
	"fmt"
	"strings"

	"refquery/src/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// castFilter returns a copy of filter with the values of ObjectID fields cast to primitive.ObjectID.
// A value that cannot be an identifier, such as a plain sub-document, fails with ErrCast.
// Dotted paths are not cast; they address embedded values the schema does not describe.
func castFilter(schema *models.Schema, filter bson.M) (bson.M, error) {
	out := make(bson.M, len(filter))
	for key, value := range filter {
		switch key {
		case "$and", "$or", "$nor":
			branches, err := filterList(key, value)
			if err != nil {
				return nil, err
			}
			cast := make(bson.A, 0, len(branches))
			for _, branch := range branches {
				c, err := castFilter(schema, branch)
				if err != nil {
					return nil, err
				}
				cast = append(cast, c)
			}
			out[key] = cast
			continue
		}

		field, ok := schema.Field(key)
		if !ok || strings.Contains(key, ".") || field.Type != models.FieldTypeObjectID {
			out[key] = value
			continue
		}

		cast, err := castObjectIDCondition(key, value)
		if err != nil {
			return nil, err
		}
		out[key] = cast
	}
	return out, nil
}

func castObjectIDCondition(path string, value interface{}) (interface{}, error) {
	if ops, ok := operatorDocument(value); ok {
		cast := make(bson.M, len(ops))
		for _, op := range ops {
			switch op.Key {
			case "$in", "$nin":
				list, ok := asList(op.Value)
				if !ok {
					return nil, fmt.Errorf("%w: %s at path %q needs an array", ErrCast, op.Key, path)
				}
				ids := make(bson.A, 0, len(list))
				for _, item := range list {
					id, err := castObjectID(path, item)
					if err != nil {
						return nil, err
					}
					ids = append(ids, id)
				}
				cast[op.Key] = ids
			case "$eq", "$ne":
				id, err := castObjectID(path, op.Value)
				if err != nil {
					return nil, err
				}
				cast[op.Key] = id
			default:
				cast[op.Key] = op.Value
			}
		}
		return cast, nil
	}

	if list, ok := asList(value); ok {
		ids := make(bson.A, 0, len(list))
		for _, item := range list {
			id, err := castObjectID(path, item)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	return castObjectID(path, value)
}

func castObjectID(path string, value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case primitive.ObjectID:
		return v, nil
	case *primitive.ObjectID:
		if v == nil {
			return nil, nil
		}
		return *v, nil
	case string:
		id, err := primitive.ObjectIDFromHex(v)
		if err != nil {
			return nil, fmt.Errorf("%w: cast to ObjectId failed for value %q at path %q", ErrCast, v, path)
		}
		return id, nil
	}
	return nil, fmt.Errorf("%w: cast to ObjectId failed for value %v (type %T) at path %q", ErrCast, value, value, path)
}
