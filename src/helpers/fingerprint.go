package helpers

import (
	"encoding/hex"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/crypto/blake2b"
)

// FilterFingerprint is a short stable hash of a filter, used to correlate log lines.
func FilterFingerprint(filter bson.M) string {
	data, err := bson.MarshalExtJSON(canonical(filter), true, false)
	if err != nil {
		return ""
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// canonical turns maps into key-sorted bson.D so equal filters encode identically.
func canonical(value interface{}) interface{} {
	switch v := value.(type) {
	case bson.M:
		return canonicalMap(v)
	case map[string]interface{}:
		return canonicalMap(v)
	case bson.D:
		out := make(bson.D, 0, len(v))
		for _, e := range v {
			out = append(out, bson.E{Key: e.Key, Value: canonical(e.Value)})
		}
		return out
	case bson.A:
		return canonicalList(v)
	case []interface{}:
		return canonicalList(v)
	case []bson.M:
		out := make(bson.A, 0, len(v))
		for _, item := range v {
			out = append(out, canonicalMap(item))
		}
		return out
	}
	return value
}

func canonicalMap(m map[string]interface{}) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(bson.D, 0, len(keys))
	for _, k := range keys {
		out = append(out, bson.E{Key: k, Value: canonical(m[k])})
	}
	return out
}

func canonicalList(list []interface{}) bson.A {
	out := make(bson.A, 0, len(list))
	for _, item := range list {
		out = append(out, canonical(item))
	}
	return out
}
