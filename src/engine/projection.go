package engine

import (
	"refquery/src/helpers"

	"go.mongodb.org/mongo-driver/bson"
)

// project copies doc keeping the top-level fields selected by projection.
// An inclusion projection ({name: 1}) keeps _id unless it sets _id: 0;
// an exclusion projection ({name: 0}) keeps everything else.
func project(doc bson.M, projection bson.M) (bson.M, error) {
	clone, err := helpers.CloneDocument(doc)
	if err != nil {
		return nil, err
	}
	if len(projection) == 0 {
		return clone, nil
	}

	inclusion := false
	for key, v := range projection {
		if key != "_id" && truthy(v) {
			inclusion = true
			break
		}
	}
	keepID := true
	if v, ok := projection["_id"]; ok {
		keepID = truthy(v)
		if keepID && len(projection) == 1 {
			inclusion = true
		}
	}

	if !inclusion {
		for key := range projection {
			delete(clone, key)
		}
		return clone, nil
	}

	out := make(bson.M, len(projection))
	for key, v := range projection {
		if key == "_id" || !truthy(v) {
			continue
		}
		if value, ok := clone[key]; ok {
			out[key] = value
		}
	}
	if keepID {
		if id, ok := clone["_id"]; ok {
			out["_id"] = id
		}
	}
	return out, nil
}
