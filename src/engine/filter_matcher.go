package engine

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

/*
	Documents are matched against filters the way MongoDB does for the operators we support:

	- implicit equality, with array fields matching when any element is equal
	- $eq $ne $gt $gte $lt $lte $in $nin $exists on a field
	- $and $or $nor at any level
	- dotted paths into embedded documents and arrays of embedded documents
*/

// matchDocument reports whether doc satisfies every clause of filter.
func matchDocument(doc bson.M, filter bson.M) (bool, error) {
	for key, cond := range filter {
		ok, err := matchClause(doc, key, cond)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchClause(doc bson.M, key string, cond interface{}) (bool, error) {
	switch key {
	case "$and", "$or", "$nor":
		branches, err := filterList(key, cond)
		if err != nil {
			return false, err
		}
		return matchLogical(doc, key, branches)
	}

	if strings.HasPrefix(key, "$") {
		return false, fmt.Errorf("%w: %s", ErrUnknownOperator, key)
	}

	values := walkPath(doc, splitPath(key))
	return matchField(values, cond)
}

func matchLogical(doc bson.M, op string, branches []bson.M) (bool, error) {
	for _, branch := range branches {
		ok, err := matchDocument(doc, branch)
		if err != nil {
			return false, err
		}
		switch op {
		case "$and":
			if !ok {
				return false, nil
			}
		case "$or":
			if ok {
				return true, nil
			}
		case "$nor":
			if ok {
				return false, nil
			}
		}
	}
	// $or over no matching branch is false; $and and $nor that got here are true
	return op != "$or", nil
}

// matchField evaluates one field condition against the values found at its path.
func matchField(values []interface{}, cond interface{}) (bool, error) {
	if ops, ok := operatorDocument(cond); ok {
		for _, op := range ops {
			ok, err := matchOperator(values, op.Key, op.Value)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
	return matchEqual(values, cond), nil
}

func matchOperator(values []interface{}, op string, arg interface{}) (bool, error) {
	switch op {
	case "$eq":
		return matchEqual(values, arg), nil
	case "$ne":
		return !matchEqual(values, arg), nil
	case "$in":
		list, ok := asList(arg)
		if !ok {
			return false, fmt.Errorf("$in needs an array, got %T", arg)
		}
		return matchIn(values, list), nil
	case "$nin":
		list, ok := asList(arg)
		if !ok {
			return false, fmt.Errorf("$nin needs an array, got %T", arg)
		}
		return !matchIn(values, list), nil
	case "$exists":
		return (len(values) > 0) == truthy(arg), nil
	case "$gt", "$gte", "$lt", "$lte":
		for _, v := range candidates(values) {
			c, ok := compareValues(v, arg)
			if !ok {
				continue
			}
			switch {
			case op == "$gt" && c > 0, op == "$gte" && c >= 0, op == "$lt" && c < 0, op == "$lte" && c <= 0:
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownOperator, op)
	}
}

func matchEqual(values []interface{}, want interface{}) bool {
	if want == nil {
		if len(values) == 0 {
			return true
		}
	}
	for _, v := range candidates(values) {
		if valuesEqual(v, want) {
			return true
		}
	}
	return false
}

func matchIn(values []interface{}, list []interface{}) bool {
	for _, want := range list {
		if matchEqual(values, want) {
			return true
		}
	}
	return false
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// walkPath returns the values found at path. Arrays met on the way fan out to their elements.
func walkPath(current interface{}, parts []string) []interface{} {
	if len(parts) == 0 {
		return []interface{}{current}
	}

	if list, ok := asList(current); ok {
		var out []interface{}
		for _, item := range list {
			out = append(out, walkPath(item, parts)...)
		}
		return out
	}

	doc, ok := asDocument(current)
	if !ok {
		return nil
	}
	child, exists := doc[parts[0]]
	if !exists {
		return nil
	}
	return walkPath(child, parts[1:])
}

// candidates expands array values so both the array and each element can be compared.
func candidates(values []interface{}) []interface{} {
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		out = append(out, v)
		if list, ok := asList(v); ok {
			out = append(out, list...)
		}
	}
	return out
}

func filterList(key string, value interface{}) ([]bson.M, error) {
	list, ok := asList(value)
	if !ok {
		switch typed := value.(type) {
		case []bson.M:
			return typed, nil
		case []bson.D:
			out := make([]bson.M, 0, len(typed))
			for _, d := range typed {
				doc, _ := asDocument(d)
				out = append(out, doc)
			}
			return out, nil
		}
		return nil, fmt.Errorf("%s needs an array of filters, got %T", key, value)
	}
	out := make([]bson.M, 0, len(list))
	for _, item := range list {
		doc, ok := asDocument(item)
		if !ok {
			return nil, fmt.Errorf("%s entries must be filters, got %T", key, item)
		}
		out = append(out, doc)
	}
	return out, nil
}

// operatorDocument returns the entries of cond when it is a non-empty document made only of $-operators.
func operatorDocument(cond interface{}) (bson.D, bool) {
	var entries bson.D
	switch v := cond.(type) {
	case bson.D:
		entries = v
	default:
		doc, ok := asDocument(cond)
		if !ok {
			return nil, false
		}
		for k, val := range doc {
			entries = append(entries, bson.E{Key: k, Value: val})
		}
	}
	if len(entries) == 0 {
		return nil, false
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Key, "$") {
			return nil, false
		}
	}
	return entries, true
}

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

func asList(value interface{}) ([]interface{}, bool) {
	switch v := value.(type) {
	case bson.A:
		return v, true
	case []interface{}:
		return v, true
	case []primitive.ObjectID:
		out := make([]interface{}, len(v))
		for i, id := range v {
			out[i] = id
		}
		return out, true
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func isList(value interface{}) bool {
	_, ok := asList(value)
	return ok
}

func truthy(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	}
	if f, ok := toFloat(value); ok {
		return f != 0
	}
	return true
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func valuesEqual(a, b interface{}) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	if ad, ok := asDocument(a); ok {
		bd, ok := asDocument(b)
		if !ok || len(ad) != len(bd) {
			return false
		}
		for k, av := range ad {
			bv, exists := bd[k]
			if !exists || !valuesEqual(av, bv) {
				return false
			}
		}
		return true
	}
	if al, ok := asList(a); ok {
		bl, ok := asList(b)
		if !ok || len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !valuesEqual(al[i], bl[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func containsValue(values []interface{}, v interface{}) bool {
	for _, existing := range values {
		if valuesEqual(existing, v) {
			return true
		}
	}
	return false
}

// compareValues orders two values of the same kind. The bool is false when they are not comparable.
func compareValues(a, b interface{}) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case primitive.ObjectID:
		bv, ok := b.(primitive.ObjectID)
		if !ok {
			return 0, false
		}
		return strings.Compare(av.Hex(), bv.Hex()), true
	case primitive.DateTime:
		return compareTimes(av.Time(), b)
	case time.Time:
		return compareTimes(av, b)
	}
	return 0, false
}

func compareTimes(a time.Time, b interface{}) (int, bool) {
	var bt time.Time
	switch bv := b.(type) {
	case primitive.DateTime:
		bt = bv.Time()
	case time.Time:
		bt = bv
	default:
		return 0, false
	}
	return a.Compare(bt), true
}
