package refquery

import (
	"math"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// identifierOperators already express a constraint on identifiers and are never rewritten.
var identifierOperators = []string{"$in", "$nin", "$exists"}

// needsResolution reports whether value has to be replaced with the identifiers it describes.
func needsResolution(value interface{}) bool {
	if isFalsy(value) || isIdentifier(value) {
		return false
	}
	return !hasIdentifierOperator(value)
}

func isFalsy(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case bool:
		return !v
	case string:
		return v == ""
	case int:
		return v == 0
	case int32:
		return v == 0
	case int64:
		return v == 0
	case float32:
		return v == 0 || math.IsNaN(float64(v))
	case float64:
		return v == 0 || math.IsNaN(v)
	case *primitive.ObjectID:
		return v == nil
	}
	return false
}

func isIdentifier(value interface{}) bool {
	switch v := value.(type) {
	case primitive.ObjectID:
		return true
	case *primitive.ObjectID:
		return v != nil
	case string:
		return primitive.IsValidObjectID(v)
	}
	return false
}

func hasIdentifierOperator(value interface{}) bool {
	switch v := value.(type) {
	case bson.D:
		for _, e := range v {
			if isIdentifierOperator(e.Key) {
				return true
			}
		}
		return false
	}

	doc, ok := asDocument(value)
	if !ok {
		return false
	}
	for _, op := range identifierOperators {
		if _, exists := doc[op]; exists {
			return true
		}
	}
	return false
}

func isIdentifierOperator(key string) bool {
	for _, op := range identifierOperators {
		if key == op {
			return true
		}
	}
	return false
}

// asDocument views value as a bson.M. Maps are shared, bson.D is copied.
func asDocument(value interface{}) (bson.M, bool) {
	switch v := value.(type) {
	case bson.M:
		return v, true
	case map[string]interface{}:
		return bson.M(v), true
	case bson.D:
		m := make(bson.M, len(v))
		for _, e := range v {
			m[e.Key] = e.Value
		}
		return m, true
	}
	return nil, false
}
