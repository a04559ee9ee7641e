package refquery

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"refquery/src/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// rewrite is one planned replacement: target[key] becomes target[field.Name] = outcome.
type rewrite struct {
	target  bson.M
	key     string
	field   models.FieldDefinition
	dotted  bool
	sub     bson.M
	outcome Outcome
}

type rewriter struct {
	schema      *models.Schema
	registry    models.Registry
	depth       int
	concurrency int
	logger      *zap.SugaredLogger
}

// run rewrites filter in place and returns the number of keys it replaced.
// Keys are snapshotted and planned before anything is resolved, then applied in
// snapshot order, so the mutation never races the iteration.
func (r *rewriter) run(ctx context.Context, filter bson.M) (int, error) {
	plan, err := r.plan(filter)
	if err != nil {
		return 0, err
	}
	if len(plan) == 0 {
		return 0, nil
	}

	if err := r.resolveAll(ctx, plan); err != nil {
		return 0, err
	}

	for _, rw := range plan {
		if rw.dotted {
			delete(rw.target, rw.key)
		}
		rw.target[rw.field.Name] = rw.outcome.Value()
		r.logger.Debugw("rewrote reference",
			"key", rw.key,
			"ref", rw.field.Ref,
			"cardinality", rw.field.Cardinality.String(),
			"outcome", rw.outcome.String(),
			"depth", r.depth)
	}
	return len(plan), nil
}

func (r *rewriter) plan(filter bson.M) ([]*rewrite, error) {
	var plan []*rewrite
	for _, key := range sortedKeys(filter) {
		if key == "$or" {
			branches, err := orBranches(filter, key)
			if err != nil {
				return nil, err
			}
			for _, branch := range branches {
				for _, branchKey := range sortedKeys(branch) {
					rw, err := r.planKey(branch, branchKey)
					if err != nil {
						return nil, err
					}
					if rw != nil {
						plan = append(plan, rw)
					}
				}
			}
			continue
		}

		rw, err := r.planKey(filter, key)
		if err != nil {
			return nil, err
		}
		if rw != nil {
			plan = append(plan, rw)
		}
	}
	return plan, nil
}

// planKey returns nil when the key is left as it is.
func (r *rewriter) planKey(target bson.M, key string) (*rewrite, error) {
	value := target[key]

	firstPart, remainder, dotted := strings.Cut(key, ".")
	field, ok := r.schema.Reference(firstPart)
	if !ok || !needsResolution(value) {
		return nil, nil
	}

	rw := &rewrite{
		target: target,
		key:    key,
		field:  field,
		dotted: dotted,
	}
	if dotted {
		rw.sub = bson.M{remainder: value}
		return rw, nil
	}

	sub, ok := asDocument(value)
	if !ok {
		return nil, fmt.Errorf("%w: %q holds %T", ErrInvalidSubFilter, key, value)
	}
	rw.sub = sub
	return rw, nil
}

func (r *rewriter) resolveAll(ctx context.Context, plan []*rewrite) error {
	if r.concurrency <= 1 || len(plan) == 1 {
		for _, rw := range plan {
			outcome, err := resolveReference(ctx, r.registry, rw.field, rw.sub, r.depth)
			if err != nil {
				return err
			}
			rw.outcome = outcome
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, rw := range plan {
		rw := rw
		g.Go(func() error {
			outcome, err := resolveReference(gctx, r.registry, rw.field, rw.sub, r.depth)
			if err != nil {
				return err
			}
			rw.outcome = outcome
			return nil
		})
	}
	return g.Wait()
}

func sortedKeys(m bson.M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// orBranches returns the branch filters of an $or so they can be mutated in place.
// bson.D branches are converted and written back, and so is a []bson.D list.
func orBranches(filter bson.M, key string) ([]bson.M, error) {
	switch list := filter[key].(type) {
	case nil:
		return nil, nil
	case []bson.M:
		return list, nil
	case []map[string]interface{}:
		branches := make([]bson.M, 0, len(list))
		for _, b := range list {
			if b != nil {
				branches = append(branches, bson.M(b))
			}
		}
		return branches, nil
	case []bson.D:
		branches := make([]bson.M, 0, len(list))
		for _, b := range list {
			doc, _ := asDocument(b)
			branches = append(branches, doc)
		}
		filter[key] = branches
		return branches, nil
	case bson.A:
		return documentBranches(list), nil
	case []interface{}:
		return documentBranches(list), nil
	default:
		return nil, fmt.Errorf("%s must be a list of filters, got %T", key, list)
	}
}

func documentBranches(list []interface{}) []bson.M {
	branches := make([]bson.M, 0, len(list))
	for i, item := range list {
		doc, ok := asDocument(item)
		if !ok || doc == nil {
			continue
		}
		if _, isD := item.(bson.D); isD {
			list[i] = doc
		}
		branches = append(branches, doc)
	}
	return branches
}
